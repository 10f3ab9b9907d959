package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/crash/internal/artifact"
	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/layout"
	"github.com/ZebulonRouseFrantzich/crash/internal/logging"
	"github.com/ZebulonRouseFrantzich/crash/internal/mirror"
	"github.com/ZebulonRouseFrantzich/crash/internal/transaction"
)

// BackupSuffix marks the single previous generation of the active document.
const BackupSuffix = ".bak"

// documentLockWait bounds how long an update waits for a concurrent one.
const documentLockWait = 4 * time.Second

// SyncConfig holds the collaborators of a Synchronizer.
type SyncConfig struct {
	Layout *layout.Layout
	// Store defaults to NewStore(Layout, Logger).
	Store *Store
	// Downloader defaults to artifact.NewDownloader.
	Downloader *artifact.Downloader
	// Candidates defaults to mirror.Resolve.
	Candidates func(canonical string, strategy mirror.Strategy) []string
	// LockWait bounds the wait for a concurrent update or rollback.
	// Defaults to 4s.
	LockWait time.Duration
	Logger   *zap.Logger
}

// Synchronizer keeps the active core document in sync with the
// subscription URL.
type Synchronizer struct {
	layout     *layout.Layout
	store      *Store
	downloader *artifact.Downloader
	candidates func(string, mirror.Strategy) []string
	lockWait   time.Duration
	logger     *zap.Logger
}

// SyncResult describes one update.
type SyncResult struct {
	Path    string // active document
	Source  string // URL that served the document
	Size    int64
	Changed bool // false when the fetched document equals the active one
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(cfg SyncConfig) (*Synchronizer, error) {
	if cfg.Layout == nil || cfg.Layout.Root == "" {
		return nil, fmt.Errorf("layout is required")
	}
	logger := logging.OrNop(cfg.Logger).Named("config")

	store := cfg.Store
	if store == nil {
		store = NewStore(cfg.Layout, cfg.Logger)
	}
	dl := cfg.Downloader
	if dl == nil {
		dl = artifact.NewDownloader(artifact.WithLogger(logger))
	}
	candidates := cfg.Candidates
	if candidates == nil {
		candidates = mirror.Resolve
	}
	lockWait := cfg.LockWait
	if lockWait <= 0 {
		lockWait = documentLockWait
	}

	return &Synchronizer{
		layout:     cfg.Layout,
		store:      store,
		downloader: dl,
		candidates: candidates,
		lockWait:   lockWait,
		logger:     logger,
	}, nil
}

// lockDocument serializes updates and rollbacks of the active document.
func (s *Synchronizer) lockDocument(ctx context.Context, op string) (*transaction.Lock, error) {
	lock, err := transaction.AcquireWithin(ctx, s.layout.LocksDir(), "config", s.lockWait)
	if err != nil {
		if errors.Is(err, transaction.ErrLocked) {
			return nil, crasherr.New(crasherr.KindConfigUpdateInProgress, op,
				"another config update or rollback is running", err).WithResource(transaction.LockPath(s.layout.LocksDir(), "config"))
		}
		return nil, crasherr.Wrap(crasherr.KindIO, op, err)
	}
	return lock, nil
}

// UpdateFromURL persists raw as the subscription URL, then fetches it. The
// URL stays persisted even when the fetch fails.
func (s *Synchronizer) UpdateFromURL(ctx context.Context, raw string) (*SyncResult, error) {
	if err := s.store.SetURL(ctx, raw); err != nil {
		return nil, err
	}
	return s.Update(ctx)
}

// Update fetches the persisted subscription URL and replaces the active
// document when the result is valid. On any failure the active document is
// left as it was.
func (s *Synchronizer) Update(ctx context.Context) (*SyncResult, error) {
	const op = "config update"

	st, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if st.URL == "" {
		return nil, crasherr.New(crasherr.KindNoURLConfigured, op,
			"no subscription url configured; set one with 'crash url <url>'", nil)
	}

	lock, err := s.lockDocument(ctx, op)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if err := os.MkdirAll(s.layout.StagingDir(), 0o755); err != nil {
		return nil, crasherr.IO(op, s.layout.StagingDir(), err)
	}
	stage, err := os.MkdirTemp(s.layout.StagingDir(), "config-*")
	if err != nil {
		return nil, crasherr.IO(op, s.layout.StagingDir(), err)
	}
	defer os.RemoveAll(stage)

	s.logger.Info("fetching config document",
		zap.String("url", RedactURL(st.URL)),
		zap.Stringer("core", st.Core))

	downloaded := filepath.Join(stage, st.Core.ConfigFileName())
	fetched, err := s.downloader.Fetch(ctx, s.candidates(st.URL, st.Proxy), downloaded, artifact.ContentText)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(downloaded)
	if err != nil {
		return nil, crasherr.IO(op, downloaded, err)
	}

	if err := ValidateDocument(st.Core, data); err != nil {
		return nil, err
	}
	patched := Patch(st.Core, data, Controller{
		Host:   st.Web.Host,
		Secret: st.Web.Secret,
		UIPath: UIPath(st.Web.UI),
	})

	active := s.layout.ConfigDocument(st.Core)
	result := &SyncResult{Path: active, Source: RedactURL(fetched.URL), Size: int64(len(patched))}

	previous, err := os.ReadFile(active)
	switch {
	case err == nil:
		if bytes.Equal(previous, patched) {
			s.logger.Info("config document unchanged", zap.String("path", active))
			return result, nil
		}
		if err := transaction.WriteFile(active+BackupSuffix, previous, 0o600); err != nil {
			return nil, crasherr.IO(op, active+BackupSuffix, err)
		}
	case !os.IsNotExist(err):
		return nil, crasherr.IO(op, active, err)
	}

	if err := transaction.WriteFile(active, patched, 0o600); err != nil {
		return nil, crasherr.IO(op, active, err)
	}
	result.Changed = true
	s.logger.Info("config document updated",
		zap.String("path", active),
		zap.Int64("size", result.Size))
	return result, nil
}

// Rollback swaps the active document with its backup, so a second
// Rollback undoes the first.
func (s *Synchronizer) Rollback(ctx context.Context) (string, error) {
	const op = "config rollback"

	st, err := s.store.Load()
	if err != nil {
		return "", err
	}

	lock, err := s.lockDocument(ctx, op)
	if err != nil {
		return "", err
	}
	defer lock.Release()

	active := s.layout.ConfigDocument(st.Core)
	backup, err := os.ReadFile(active + BackupSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", crasherr.New(crasherr.KindValidation, op, "no previous config document to restore", nil).
				WithResource(active + BackupSuffix)
		}
		return "", crasherr.IO(op, active+BackupSuffix, err)
	}

	current, err := os.ReadFile(active)
	if err != nil && !os.IsNotExist(err) {
		return "", crasherr.IO(op, active, err)
	}
	if err := transaction.WriteFile(active, backup, 0o600); err != nil {
		return "", crasherr.IO(op, active, err)
	}
	if current != nil {
		if err := transaction.WriteFile(active+BackupSuffix, current, 0o600); err != nil {
			return "", crasherr.IO(op, active+BackupSuffix, err)
		}
	} else if err := os.Remove(active + BackupSuffix); err != nil {
		return "", crasherr.IO(op, active+BackupSuffix, err)
	}

	s.logger.Info("config document restored", zap.String("path", active))
	return active, nil
}

// UIPath is the dashboard directory relative to the core's data dir.
func UIPath(ui artifact.UI) string {
	return "ui/" + ui.String()
}
