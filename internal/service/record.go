package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
	"github.com/ZebulonRouseFrantzich/crash/internal/transaction"
)

// State is the lifecycle state of the core.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateUnknown  State = "unknown"
)

func (s State) String() string {
	return string(s)
}

// Record identifies a launched core. It is persisted while the core is
// believed to be alive.
type Record struct {
	PID int `json:"pid"`
	// Exe is the executable the OS reported right after launch.
	Exe string `json:"exe"`
	// CreateTime is the process create time in ms since epoch.
	CreateTime int64         `json:"create_time"`
	LaunchID   string        `json:"launch_id"`
	Core       platform.Core `json:"core"`
	StartedAt  time.Time     `json:"started_at"`
	Status     State         `json:"status"`
}

var errNoRecord = errors.New("no service record")

func loadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNoRecord
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if rec.PID <= 0 {
		return nil, fmt.Errorf("parse %s: invalid pid %d", path, rec.PID)
	}
	return &rec, nil
}

func (r *Record) save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return transaction.WriteFile(path, append(data, '\n'), 0o644)
}

func removeRecord(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
