package config

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/crash/internal/artifact"
	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/layout"
	"github.com/ZebulonRouseFrantzich/crash/internal/logging"
	"github.com/ZebulonRouseFrantzich/crash/internal/mirror"
	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
	"github.com/ZebulonRouseFrantzich/crash/internal/transaction"
)

// settingsLockWait bounds how long a setter waits for a concurrent writer.
const settingsLockWait = 2 * time.Second

// Store reads and modifies the settings document of one install root.
type Store struct {
	layout *layout.Layout
	logger *zap.Logger
}

// NewStore creates a Store for l.
func NewStore(l *layout.Layout, logger *zap.Logger) *Store {
	return &Store{layout: l, logger: logging.OrNop(logger).Named("config")}
}

// Path returns the settings document path.
func (s *Store) Path() string {
	return s.layout.Settings()
}

// Load returns the current settings, or the defaults when none are saved.
func (s *Store) Load() (*Settings, error) {
	return Load(s.Path())
}

// Modify applies fn to the current settings and saves the result under the
// settings lock. Nothing is written when fn or validation fails.
func (s *Store) Modify(ctx context.Context, fn func(*Settings) error) (*Settings, error) {
	const op = "update settings"

	lock, err := transaction.AcquireWithin(ctx, s.layout.LocksDir(), "settings", settingsLockWait)
	if err != nil {
		if errors.Is(err, transaction.ErrLocked) {
			return nil, crasherr.New(crasherr.KindIO, op, "settings are being modified by another process", err).
				WithResource(s.Path())
		}
		return nil, crasherr.Wrap(crasherr.KindIO, op, err)
	}
	defer lock.Release()

	current, err := s.Load()
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, crasherr.Wrap(crasherr.KindValidation, op, err)
	}
	if err := current.Save(s.Path()); err != nil {
		return nil, err
	}
	return current, nil
}

// SetURL validates and persists the subscription URL without fetching it.
func (s *Store) SetURL(ctx context.Context, raw string) error {
	_, err := s.Modify(ctx, func(st *Settings) error {
		if err := validateURL(raw); err != nil {
			return &ValidationError{Field: "url", Message: err.Error()}
		}
		st.URL = raw
		return nil
	})
	if err == nil {
		s.logger.Info("subscription url set", zap.String("url", RedactURL(raw)))
	}
	return err
}

// SetProxy persists the mirror strategy.
func (s *Store) SetProxy(ctx context.Context, raw string) error {
	strategy, err := mirror.ParseStrategy(raw)
	if err != nil {
		return crasherr.New(crasherr.KindValidation, "set proxy", err.Error(), nil)
	}
	_, err = s.Modify(ctx, func(st *Settings) error {
		st.Proxy = strategy
		return nil
	})
	if err == nil {
		s.logger.Info("mirror strategy set", zap.Stringer("proxy", strategy))
	}
	return err
}

// SetUI persists the dashboard selection.
func (s *Store) SetUI(ctx context.Context, raw string) error {
	ui, err := artifact.ParseUI(raw)
	if err != nil {
		return crasherr.New(crasherr.KindValidation, "set ui", err.Error(), nil)
	}
	_, err = s.Modify(ctx, func(st *Settings) error {
		st.Web.UI = ui
		return nil
	})
	if err == nil {
		s.logger.Info("dashboard set", zap.Stringer("ui", ui))
	}
	return err
}

// SetHost persists the controller address, which must contain a port.
func (s *Store) SetHost(ctx context.Context, host string) error {
	if err := validateHost(host); err != nil {
		return crasherr.New(crasherr.KindValidation, "set host", err.Error(), nil)
	}
	_, err := s.Modify(ctx, func(st *Settings) error {
		st.Web.Host = host
		return nil
	})
	if err == nil {
		s.logger.Info("controller host set", zap.String("host", host))
	}
	return err
}

// SetSecret persists the controller secret. An empty secret disables
// controller authentication.
func (s *Store) SetSecret(ctx context.Context, secret string) error {
	_, err := s.Modify(ctx, func(st *Settings) error {
		st.Web.Secret = secret
		return nil
	})
	if err == nil {
		s.logger.Info("controller secret set", zap.String("secret", redactSecret(secret)))
	}
	return err
}

// SetCore persists the core selection.
func (s *Store) SetCore(ctx context.Context, raw string) error {
	core, err := platform.ParseCore(raw)
	if err != nil {
		return crasherr.New(crasherr.KindValidation, "set core", err.Error(), nil)
	}
	_, err = s.Modify(ctx, func(st *Settings) error {
		st.Core = core
		return nil
	})
	if err == nil {
		s.logger.Info("core set", zap.Stringer("core", core))
	}
	return err
}
