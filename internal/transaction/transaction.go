// Package transaction provides the cross-process locks and the install
// journal that keep concurrent crash invocations from corrupting the
// managed directory.
package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State represents the current state of a transaction or swap.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

const journalPrefix = "txn-install-"

// InstallTxn journals the swaps of one install so an interrupted install
// can be rolled back by the next one.
type InstallTxn struct {
	Version   int       `json:"version"` // Schema version for future evolution
	ID        string    `json:"id"`      // UUID for unique identification
	Kind      string    `json:"kind"`    // core, geo or ui
	Timestamp time.Time `json:"timestamp"`
	Swaps     []Swap    `json:"swaps"`
}

// Swap moves a staged path into place, keeping the previous occupant as a
// backup.
type Swap struct {
	Staged    string `json:"staged"`
	Target    string `json:"target"`
	Backup    string `json:"backup"`
	State     State  `json:"state"`
	LastError string `json:"last_error,omitempty"`
}

// NewInstall creates a journal for an install of kind.
func NewInstall(kind string) *InstallTxn {
	return &InstallTxn{
		Version:   1,
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Swaps:     []Swap{},
	}
}

// AddSwap appends a pending swap and returns its index.
func (t *InstallTxn) AddSwap(staged, target, backup string) int {
	t.Swaps = append(t.Swaps, Swap{
		Staged: staged,
		Target: target,
		Backup: backup,
		State:  StatePending,
	})
	return len(t.Swaps) - 1
}

// MarkSwap updates the state of the swap at index i.
func (t *InstallTxn) MarkSwap(i int, state State, err error) {
	if i < 0 || i >= len(t.Swaps) {
		return
	}
	t.Swaps[i].State = state
	if err != nil {
		t.Swaps[i].LastError = err.Error()
	} else {
		t.Swaps[i].LastError = ""
	}
}

// AllCompleted returns true if every swap completed.
func (t *InstallTxn) AllCompleted() bool {
	for _, s := range t.Swaps {
		if s.State != StateCompleted {
			return false
		}
	}
	return len(t.Swaps) > 0
}

func (t *InstallTxn) filename() string {
	return fmt.Sprintf("%s%s-%s.json", journalPrefix, t.Kind, t.ID)
}

// Save writes the transaction to disk atomically.
// Uses write-then-rename pattern for atomicity.
func (t *InstallTxn) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create transaction directory: %w", err)
	}

	finalPath := filepath.Join(dir, t.filename())
	tmpPath := finalPath + ".tmp"

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temporary transaction file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename transaction file: %w", err)
	}

	// Sync directory for durability. Windows cannot flush directory handles.
	if runtime.GOOS != "windows" {
		df, err := os.Open(dir)
		if err == nil {
			syncErr := df.Sync()
			df.Close()
			if syncErr != nil && !errors.Is(syncErr, os.ErrInvalid) {
				return fmt.Errorf("sync directory: %w", syncErr)
			}
		}
	}

	return nil
}

// Remove deletes the journal once the install finished.
func (t *InstallTxn) Remove(dir string) error {
	err := os.Remove(filepath.Join(dir, t.filename()))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove transaction file: %w", err)
	}
	return nil
}

// Load reads a transaction from disk.
func Load(path string) (*InstallTxn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transaction file: %w", err)
	}

	var txn InstallTxn
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}

	return &txn, nil
}

// Pending returns the journals left behind for kind, oldest first.
func Pending(dir, kind string) ([]*InstallTxn, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transaction directory: %w", err)
	}

	prefix := journalPrefix + kind + "-"
	var txns []*InstallTxn
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		txn, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	// File names embed a random id, so order by timestamp instead.
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Timestamp.Before(txns[j].Timestamp)
	})
	return txns, nil
}

// Rollback undoes the incomplete swaps of an interrupted install: a missing
// target is restored from its backup and staged leftovers are removed.
// Completed swaps are kept. It returns the targets that were restored.
func (t *InstallTxn) Rollback() ([]string, error) {
	var restored []string
	for i := range t.Swaps {
		s := &t.Swaps[i]
		if s.State == StateCompleted {
			continue
		}

		if _, err := os.Lstat(s.Target); os.IsNotExist(err) && s.Backup != "" {
			if _, err := os.Lstat(s.Backup); err == nil {
				if err := os.Rename(s.Backup, s.Target); err != nil {
					return restored, fmt.Errorf("restore %s: %w", s.Target, err)
				}
				restored = append(restored, s.Target)
			}
		}

		if s.Staged != "" {
			if err := os.RemoveAll(s.Staged); err != nil {
				return restored, fmt.Errorf("remove staged %s: %w", s.Staged, err)
			}
		}
		s.State = StateFailed
	}
	return restored, nil
}
