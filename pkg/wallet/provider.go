package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrUserRejected is returned when the holder declines a request
	ErrUserRejected = errors.New("user rejected request")
	// ErrNoAccounts is returned when the provider exposes no account
	ErrNoAccounts = errors.New("provider has no accounts")
	// ErrUnknownAccount is returned when asked to sign for a foreign address
	ErrUnknownAccount = errors.New("account not managed by provider")
)

// ChangeKind tells which part of the wallet identity changed
type ChangeKind int

const (
	AccountChanged ChangeKind = iota
	ChainChanged
	Disconnected
)

func (k ChangeKind) String() string {
	switch k {
	case AccountChanged:
		return "account_changed"
	case ChainChanged:
		return "chain_changed"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Change is a wallet notification
type Change struct {
	Kind    ChangeKind
	Address common.Address
	ChainID int64
}

// Provider is the boundary to whatever holds the user's keys
type Provider interface {
	// Type names the wallet implementation, persisted in the session descriptor
	Type() string
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (int64, error)
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	// Changes delivers account and chain notifications until the provider is closed
	Changes() <-chan Change
}
