package store

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/types"
)

// Overview is the headline figures for the dashboard screen
type Overview struct {
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
	Available       decimal.Decimal `json:"available"`
	Withdrawn       decimal.Decimal `json:"withdrawn"`
	ROI             decimal.Decimal `json:"roi_percent"`
	PackageLevel    uint8           `json:"package_level"`
	Tier            int             `json:"tier"`
	Progress        decimal.Decimal `json:"progress_percent"`
	DirectReferrals int64           `json:"direct_referrals"`
	TeamSize        int64           `json:"team_size"`
	Source          types.Source    `json:"source"`
}

// SelectOverview derives the dashboard headline
func SelectOverview(snap Snapshot) Overview {
	d := snap.Dashboard
	return Overview{
		TotalEarnings:   d.Earnings.Total,
		Available:       d.Earnings.Available,
		Withdrawn:       d.Earnings.Withdrawn,
		ROI:             d.Earnings.ROI,
		PackageLevel:    d.Package.Level,
		Tier:            d.Package.Tier,
		Progress:        d.Package.Progress,
		DirectReferrals: d.User.DirectReferrals,
		TeamSize:        d.User.TeamSize,
		Source:          d.Source,
	}
}

// Breakdown is the per-stream earnings table
type Breakdown struct {
	Streams      []types.StreamAmount `json:"streams"`
	Total        decimal.Decimal      `json:"total"`
	Withdrawable decimal.Decimal      `json:"withdrawable"`
	Reinvest     decimal.Decimal      `json:"reinvest"`
	WithdrawRate int64                `json:"withdraw_rate_percent"`
	Source       types.Source         `json:"source"`
}

// SelectBreakdown derives the earnings table
func SelectBreakdown(snap Snapshot) Breakdown {
	e := snap.Earnings
	return Breakdown{
		Streams:      append([]types.StreamAmount(nil), e.Streams...),
		Total:        e.Total,
		Withdrawable: e.Withdrawable,
		Reinvest:     e.Reinvest,
		WithdrawRate: e.WithdrawRate,
		Source:       e.Source,
	}
}

// TeamStats summarizes the referral tree
type TeamStats struct {
	DirectCount    int64           `json:"direct_count"`
	ActiveCount    int64           `json:"active_count"`
	TeamSize       int64           `json:"team_size"`
	ConversionRate decimal.Decimal `json:"conversion_rate_percent"`
	BalanceRatio   decimal.Decimal `json:"balance_ratio"`
	WeakerLeg      types.Leg       `json:"weaker_leg,omitempty"`
	Source         types.Source    `json:"source"`
}

// SelectTeamStats derives the referral summary
func SelectTeamStats(snap Snapshot) TeamStats {
	r := snap.Referrals
	return TeamStats{
		DirectCount:    r.DirectCount,
		ActiveCount:    r.ActiveCount,
		TeamSize:       r.TeamSize,
		ConversionRate: r.ConversionRate,
		BalanceRatio:   r.BalanceRatio,
		WeakerLeg:      r.WeakerLeg,
		Source:         r.Source,
	}
}

// Connection describes the wallet link
type Connection struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	ChainID   int64  `json:"chain_id,omitempty"`
	Phase     Phase  `json:"phase"`
	Error     string `json:"error,omitempty"`
	LiveMode  bool   `json:"live_mode"`
}

// SelectConnection derives the wallet status
func SelectConnection(snap Snapshot) Connection {
	c := Connection{
		Connected: snap.Connected,
		Phase:     snap.Phase,
		Error:     snap.ConnectionError,
		LiveMode:  snap.LiveMode,
	}
	if snap.Connected {
		c.Address = snap.Account.Address.Hex()
		c.ChainID = snap.Account.ChainID
	}
	return c
}

// IsLoading reports whether the first load or any domain fetch is pending
func IsLoading(snap Snapshot) bool {
	if snap.InitialLoad {
		return true
	}
	for _, ds := range snap.Domains {
		if ds.Loading {
			return true
		}
	}
	return false
}

// IsStale reports whether the last refresh is older than ttl
func IsStale(snap Snapshot, ttl time.Duration, now time.Time) bool {
	if snap.LastRefresh.IsZero() {
		return true
	}
	return now.Sub(snap.LastRefresh) > ttl
}

// DomainError is one entry of the error summary
type DomainError struct {
	Domain string `json:"domain"`
	Error  string `json:"error"`
}

// ErrorList collects the connection error and every errored domain
func ErrorList(snap Snapshot) []DomainError {
	var out []DomainError
	if snap.ConnectionError != "" {
		out = append(out, DomainError{Domain: "connection", Error: snap.ConnectionError})
	}
	domains := make([]string, 0, len(snap.Domains))
	for d := range snap.Domains {
		domains = append(domains, string(d))
	}
	sort.Strings(domains)
	for _, d := range domains {
		if ds := snap.Domains[types.Domain(d)]; ds.Error != "" {
			out = append(out, DomainError{Domain: d, Error: ds.Error})
		}
	}
	return out
}
