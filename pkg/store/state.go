package store

import (
	"time"

	"github.com/leadfive/ledgerview/pkg/types"
)

// Phase is the store's global lifecycle state
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseReady         Phase = "ready"
)

// DomainPhase is the lifecycle state of one domain
type DomainPhase string

const (
	DomainIdle    DomainPhase = "idle"
	DomainLoading DomainPhase = "loading"
	DomainReady   DomainPhase = "ready"
	DomainErrored DomainPhase = "errored"
)

// DomainState is the loading and error status of one domain
type DomainState struct {
	Phase   DomainPhase `json:"phase"`
	Loading bool        `json:"loading"`
	Error   string      `json:"error,omitempty"`
}

// Snapshot is a read-only copy of the store state
type Snapshot struct {
	Phase           Phase                        `json:"phase"`
	Connected       bool                         `json:"connected"`
	Account         types.Account                `json:"account"`
	Dashboard       types.Dashboard              `json:"dashboard"`
	Earnings        types.Earnings               `json:"earnings"`
	Referrals       types.Referrals              `json:"referrals"`
	Domains         map[types.Domain]DomainState `json:"domains"`
	InitialLoad     bool                         `json:"initial_load"`
	ConnectionError string                       `json:"connection_error,omitempty"`
	LiveMode        bool                         `json:"live_mode"`
	RecentActivity  []types.Activity             `json:"recent_activity"`
	LastRefresh     time.Time                    `json:"last_refresh,omitempty"`
	Generation      uint64                       `json:"generation"`
}

// state is owned by the Store and only mutated under its lock
type state struct {
	phase          Phase
	connected      bool
	account        types.Account
	dashboard      types.Dashboard
	earnings       types.Earnings
	referrals      types.Referrals
	domains        map[types.Domain]DomainState
	initialLoad    bool
	connErr        error
	liveMode       bool
	recentActivity []types.Activity
	lastRefresh    time.Time
}

func emptyState() state {
	domains := make(map[types.Domain]DomainState, len(types.AllDomains()))
	for _, d := range types.AllDomains() {
		domains[d] = DomainState{Phase: DomainIdle}
	}
	return state{
		phase:          PhaseUninitialized,
		dashboard:      types.Dashboard{Source: types.SourceLoading},
		earnings:       types.Earnings{Source: types.SourceLoading, Streams: []types.StreamAmount{}},
		referrals:      types.Referrals{Source: types.SourceLoading, List: []types.Referral{}},
		domains:        domains,
		recentActivity: []types.Activity{},
	}
}

func (s *state) snapshot(generation uint64) Snapshot {
	snap := Snapshot{
		Phase:          s.phase,
		Connected:      s.connected,
		Account:        s.account,
		Dashboard:      s.dashboard,
		Earnings:       s.earnings,
		Referrals:      s.referrals,
		Domains:        make(map[types.Domain]DomainState, len(s.domains)),
		InitialLoad:    s.initialLoad,
		LiveMode:       s.liveMode,
		RecentActivity: append([]types.Activity(nil), s.recentActivity...),
		LastRefresh:    s.lastRefresh,
		Generation:     generation,
	}
	for d, ds := range s.domains {
		snap.Domains[d] = ds
	}
	snap.Earnings.Streams = append([]types.StreamAmount(nil), s.earnings.Streams...)
	snap.Referrals.List = append([]types.Referral(nil), s.referrals.List...)
	if s.connErr != nil {
		snap.ConnectionError = s.connErr.Error()
	}
	return snap
}
