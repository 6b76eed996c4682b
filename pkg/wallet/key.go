package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyProvider signs with in-process private keys. The first key is the
// active account; Switch promotes another one and emits a change.
type KeyProvider struct {
	mu      sync.RWMutex
	keys    map[common.Address]*ecdsa.PrivateKey
	active  common.Address
	chainID int64
	changes chan Change
	closed  bool
}

// NewKeyProvider creates a provider from hex-encoded private keys
func NewKeyProvider(chainID int64, privateKeysHex ...string) (*KeyProvider, error) {
	if len(privateKeysHex) == 0 {
		return nil, ErrNoAccounts
	}

	p := &KeyProvider{
		keys:    make(map[common.Address]*ecdsa.PrivateKey, len(privateKeysHex)),
		chainID: chainID,
		changes: make(chan Change, 8),
	}

	for i, keyHex := range privateKeysHex {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key %d: %w", i, err)
		}
		publicKey, ok := key.Public().(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("failed to derive public key")
		}
		address := crypto.PubkeyToAddress(*publicKey)
		p.keys[address] = key
		if i == 0 {
			p.active = address
		}
	}

	return p, nil
}

func (p *KeyProvider) Type() string { return "private_key" }

func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrUserRejected
	}
	return []common.Address{p.active}, nil
}

func (p *KeyProvider) ChainID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chainID, nil
}

func (p *KeyProvider) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	key, ok := p.keys[from]
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrUserRejected
	}
	if !ok {
		return nil, ErrUnknownAccount
	}

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signedTx, nil
}

func (p *KeyProvider) Changes() <-chan Change { return p.changes }

// Active returns the address currently used for signing
func (p *KeyProvider) Active() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Switch makes another managed address the active account
func (p *KeyProvider) Switch(address common.Address) error {
	p.mu.Lock()
	if _, ok := p.keys[address]; !ok {
		p.mu.Unlock()
		return ErrUnknownAccount
	}
	p.active = address
	chainID := p.chainID
	p.mu.Unlock()

	p.emit(Change{Kind: AccountChanged, Address: address, ChainID: chainID})
	return nil
}

// SwitchChain changes the reported chain id
func (p *KeyProvider) SwitchChain(chainID int64) {
	p.mu.Lock()
	p.chainID = chainID
	active := p.active
	p.mu.Unlock()

	p.emit(Change{Kind: ChainChanged, Address: active, ChainID: chainID})
}

// Close stops notifications; further requests are rejected
func (p *KeyProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.changes)
}

func (p *KeyProvider) emit(c Change) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.changes <- c:
	default:
		// slow consumer; only the latest identity matters
	}
}
