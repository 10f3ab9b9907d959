package schedule

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/logging"
)

// Backend is an OS scheduler.
type Backend interface {
	Install(ctx context.Context, exe string, tasks []Task) error
	Remove(ctx context.Context, names []string) error
	List(ctx context.Context, names []string) ([]Entry, error)
}

// NewBackend selects the scheduler for goos.
func NewBackend(goos string, r Runner) (Backend, error) {
	switch goos {
	case "windows":
		return NewSchtasks(r), nil
	case "linux", "darwin", "freebsd", "openbsd", "netbsd", "android":
		return NewCrontab(r), nil
	default:
		return nil, crasherr.New(crasherr.KindUnsupportedPlatform, "select scheduler",
			fmt.Sprintf("no task scheduler support for %s", goos), nil)
	}
}

// Config holds configuration for the adapter.
type Config struct {
	// Executable is the crash binary the jobs invoke (required).
	Executable string
	// Home is the install root passed to scheduled runs (required).
	Home string
	// GOOS defaults to runtime.GOOS.
	GOOS string
	// Runner defaults to ExecRunner.
	Runner Runner
	Logger *zap.Logger
}

// Adapter installs and removes crash's periodic jobs.
type Adapter struct {
	backend Backend
	exe     string
	tasks   []Task
	logger  *zap.Logger
}

// New creates an Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.Executable == "" || cfg.Home == "" {
		return nil, fmt.Errorf("executable and home are required")
	}
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	backend, err := NewBackend(goos, runner)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		backend: backend,
		exe:     cfg.Executable,
		tasks:   DefaultTasks(cfg.Home),
		logger:  logging.OrNop(cfg.Logger).Named("schedule"),
	}, nil
}

// Tasks returns the managed jobs.
func (a *Adapter) Tasks() []Task {
	return a.tasks
}

// Install registers the managed jobs, updating existing ones in place.
func (a *Adapter) Install(ctx context.Context) error {
	const op = "install tasks"
	for _, t := range a.tasks {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	if err := a.backend.Install(ctx, a.exe, a.tasks); err != nil {
		return crasherr.Wrap(crasherr.KindIO, op, err)
	}
	for _, t := range a.tasks {
		a.logger.Info("task installed", zap.String("name", t.Name), zap.String("spec", t.Spec))
	}
	return nil
}

// Remove deletes the managed jobs. Jobs that are not installed are skipped.
func (a *Adapter) Remove(ctx context.Context) error {
	if err := a.backend.Remove(ctx, Names(a.tasks)); err != nil {
		return crasherr.Wrap(crasherr.KindIO, "remove tasks", err)
	}
	a.logger.Info("tasks removed")
	return nil
}

// List returns the managed jobs currently installed.
func (a *Adapter) List(ctx context.Context) ([]Entry, error) {
	entries, err := a.backend.List(ctx, Names(a.tasks))
	if err != nil {
		return nil, crasherr.Wrap(crasherr.KindIO, "list tasks", err)
	}
	return entries, nil
}
