// Package journal records submitted ledger writes on disk until their receipt
// is observed, so confirmation can resume after a restart.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leadfive/ledgerview/pkg/ledger"
)

// Entry is one unconfirmed write
type Entry struct {
	TxHash      string    `json:"tx_hash"`
	Method      string    `json:"method"`
	Account     string    `json:"account"`
	ChainID     int64     `json:"chain_id"`
	Nonce       uint64    `json:"nonce"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Hash returns the transaction hash
func (e *Entry) Hash() common.Hash {
	return common.HexToHash(e.TxHash)
}

// Journal stores one file per pending transaction
type Journal struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// New creates a journal rooted at dir. An empty dir uses ~/.ledgerview/pending.
func New(dir string) *Journal {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".ledgerview", "pending")
	}
	return &Journal{dir: dir, now: time.Now}
}

func (j *Journal) path(hash string) string {
	return filepath.Join(j.dir, strings.ToLower(hash)+".json")
}

// Record writes the pending transaction atomically
func (j *Journal) Record(pending *ledger.PendingTransaction, chainID int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0700); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	entry := Entry{
		TxHash:      pending.Hash.Hex(),
		Method:      pending.Method,
		Account:     pending.From.Hex(),
		ChainID:     chainID,
		Nonce:       pending.Nonce,
		SubmittedAt: pending.SubmittedAt,
		UpdatedAt:   j.now(),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	path := j.path(entry.TxHash)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write journal temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename journal temp file: %w", err)
	}
	return nil
}

// Resolve removes the entry for hash
func (j *Journal) Resolve(hash common.Hash) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.Remove(j.path(hash.Hex())); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete journal entry: %w", err)
	}
	return nil
}

// Pending lists the entries submitted by account on chainID
func (j *Journal) Pending(account common.Address, chainID int64) ([]Entry, error) {
	entries, err := j.list()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if common.HexToAddress(e.Account) == account && e.ChainID == chainID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *Journal) list() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(j.dir, f.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue // skip invalid entries
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CleanupOld removes entries not updated within maxAge
func (j *Journal) CleanupOld(maxAge time.Duration) (int, error) {
	entries, err := j.list()
	if err != nil {
		return 0, err
	}
	now := j.now()
	deleted := 0
	for _, e := range entries {
		if now.Sub(e.UpdatedAt) > maxAge {
			if err := j.Resolve(e.Hash()); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
