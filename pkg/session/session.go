// Package session persists the connected wallet between runs as a signed
// token on disk.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/leadfive/ledgerview/pkg/types"
)

const (
	DefaultFile   = ".ledgerview-session"
	DefaultExpiry = 24 * time.Hour
	issuer        = "ledgerview"
)

// Descriptor identifies the last connected wallet
type Descriptor struct {
	AccountAddress string    `json:"account_address"`
	ChainID        int64     `json:"chain_id"`
	WalletType     string    `json:"wallet_type"`
	Timestamp      time.Time `json:"timestamp"`
}

// Expired reports whether the descriptor is older than ttl
func (d *Descriptor) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(d.Timestamp) > ttl
}

type claims struct {
	ChainID    int64  `json:"chain_id"`
	WalletType string `json:"wallet_type"`
	jwt.RegisteredClaims
}

// Manager reads and writes the descriptor file
type Manager struct {
	filePath string
	secret   []byte
	expiry   time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

// Option customizes a Manager
type Option func(*Manager)

// WithExpiry overrides the 24h lifetime
func WithExpiry(d time.Duration) Option {
	return func(m *Manager) { m.expiry = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager for filePath signed with secret
func NewManager(filePath string, secret []byte, opts ...Option) (*Manager, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: session secret is required", types.ErrInvalidConfig)
	}
	if filePath == "" {
		filePath = DefaultFile
	}

	dir := filepath.Dir(filePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	m := &Manager{
		filePath: filePath,
		secret:   secret,
		expiry:   DefaultExpiry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Save signs d and writes it to disk atomically
func (m *Manager) Save(d *Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.Timestamp.IsZero() {
		d.Timestamp = m.now().UTC()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ChainID:    d.ChainID,
		WalletType: d.WalletType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   strings.ToLower(d.AccountAddress),
			IssuedAt:  jwt.NewNumericDate(d.Timestamp),
			ExpiresAt: jwt.NewNumericDate(d.Timestamp.Add(m.expiry)),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session: %w", err)
	}

	tempPath := m.filePath + ".tmp"
	if err := os.WriteFile(tempPath, []byte(signed), 0600); err != nil {
		return fmt.Errorf("failed to write temp session file: %w", err)
	}
	if err := os.Rename(tempPath, m.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save session file: %w", err)
	}
	return nil
}

// Load returns the stored descriptor, or nil when none exists.
// Expired descriptors are deleted and reported as absent.
func (m *Manager) Load() (*Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var c claims
	_, err = jwt.ParseWithClaims(strings.TrimSpace(string(data)), &c, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		if rmErr := m.deleteLocked(); rmErr != nil {
			return nil, rmErr
		}
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	return &Descriptor{
		AccountAddress: c.Subject,
		ChainID:        c.ChainID,
		WalletType:     c.WalletType,
		Timestamp:      c.IssuedAt.Time.UTC(),
	}, nil
}

// Delete removes the session file
func (m *Manager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked()
}

func (m *Manager) deleteLocked() error {
	if err := os.Remove(m.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// Path returns the session file location
func (m *Manager) Path() string {
	return m.filePath
}
