package types

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Common errors
var (
	ErrNotConnected      = errors.New("gateway not connected")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidAddress    = errors.New("invalid account address")
	ErrUnknownDomain     = errors.New("unknown domain")
	ErrNotInitialized    = errors.New("store not initialized")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidPackage    = errors.New("invalid package level")
	ErrIdentityMismatch  = errors.New("wallet identity changed")
	ErrSubscriptionEnded = errors.New("subscription ended")
)

// Account is the public half of the connected identity. The signing
// handle never leaves the gateway.
type Account struct {
	Address common.Address `json:"address"`
	ChainID int64          `json:"chain_id"`
}

// IsZero reports whether no account is connected
func (a Account) IsZero() bool {
	return a.Address == (common.Address{})
}

// Key returns the cache key for the account
func (a Account) Key() string {
	return strings.ToLower(a.Address.Hex())
}

// ParseAddress validates a hex account address
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(s), nil
}

// Domain names one aggregated view of an account
type Domain string

const (
	DomainDashboard Domain = "dashboard"
	DomainEarnings  Domain = "earnings"
	DomainReferrals Domain = "referrals"
)

// AllDomains lists every domain in refresh order
func AllDomains() []Domain {
	return []Domain{DomainDashboard, DomainEarnings, DomainReferrals}
}

// ParseDomain resolves a domain name
func ParseDomain(s string) (Domain, error) {
	switch d := Domain(strings.ToLower(strings.TrimSpace(s))); d {
	case DomainDashboard, DomainEarnings, DomainReferrals:
		return d, nil
	}
	return "", ErrUnknownDomain
}

// Source is the advisory provenance tag of a view model
type Source string

const (
	SourceLoading    Source = "loading"
	SourceBlockchain Source = "blockchain"
	SourceFallback   Source = "fallback"
)
