package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventName is the contract event a LedgerEvent was decoded from
type EventName string

const (
	EventEarningsUpdated     EventName = "EarningsUpdated"
	EventNewReferral         EventName = "NewReferral"
	EventWithdrawalProcessed EventName = "WithdrawalProcessed"
	EventPackageUpgraded     EventName = "PackageUpgraded"
)

// EventNames lists every event the pipeline subscribes to
func EventNames() []EventName {
	return []EventName{EventEarningsUpdated, EventNewReferral, EventWithdrawalProcessed, EventPackageUpgraded}
}

// EventMeta locates an event on chain
type EventMeta struct {
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint      `json:"log_index"`
	ObservedAt  time.Time `json:"observed_at"`
}

// LedgerEvent is the closed set of events folded into the store.
// Implementations live in this package only.
type LedgerEvent interface {
	Name() EventName
	Metadata() EventMeta
	ledgerEvent()
}

// EarningsUpdated is emitted when income is credited to a user
type EarningsUpdated struct {
	Meta   EventMeta
	User   string
	Amount decimal.Decimal
	Stream EarningsStream
}

// NewReferral is emitted when a sponsor gains a direct referral
type NewReferral struct {
	Meta         EventMeta
	Sponsor      string
	Referral     string
	PackageValue decimal.Decimal
}

// WithdrawalProcessed is emitted after a withdrawal is paid out
type WithdrawalProcessed struct {
	Meta   EventMeta
	User   string
	Amount decimal.Decimal
	Fee    decimal.Decimal
}

// PackageUpgraded is emitted when a user moves to a higher package
type PackageUpgraded struct {
	Meta       EventMeta
	User       string
	OldLevel   uint8
	NewLevel   uint8
	AmountPaid decimal.Decimal
}

func (e EarningsUpdated) Name() EventName     { return EventEarningsUpdated }
func (e NewReferral) Name() EventName         { return EventNewReferral }
func (e WithdrawalProcessed) Name() EventName { return EventWithdrawalProcessed }
func (e PackageUpgraded) Name() EventName     { return EventPackageUpgraded }

func (e EarningsUpdated) Metadata() EventMeta     { return e.Meta }
func (e NewReferral) Metadata() EventMeta         { return e.Meta }
func (e WithdrawalProcessed) Metadata() EventMeta { return e.Meta }
func (e PackageUpgraded) Metadata() EventMeta     { return e.Meta }

func (EarningsUpdated) ledgerEvent()     {}
func (NewReferral) ledgerEvent()         {}
func (WithdrawalProcessed) ledgerEvent() {}
func (PackageUpgraded) ledgerEvent()     {}

// Activity is one entry of the recent-activity log
type Activity struct {
	Event       EventName       `json:"event"`
	Account     string          `json:"account"`
	Counterpart string          `json:"counterpart,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Detail      string          `json:"detail,omitempty"`
	TxHash      string          `json:"tx_hash,omitempty"`
	BlockNumber uint64          `json:"block_number,omitempty"`
	At          time.Time       `json:"at"`
}
