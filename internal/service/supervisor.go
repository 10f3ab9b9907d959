package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/crash/internal/config"
	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/layout"
	"github.com/ZebulonRouseFrantzich/crash/internal/logging"
	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
	"github.com/ZebulonRouseFrantzich/crash/internal/transaction"
)

const (
	DefaultGracePeriod = 1500 * time.Millisecond
	DefaultStopTimeout = 5 * time.Second
	DefaultLockWait    = 4 * time.Second

	// createTimeTolerance absorbs platforms that report create time with
	// second granularity.
	createTimeTolerance = int64(time.Second / time.Millisecond)

	pollInterval = 100 * time.Millisecond
	lockName     = "service"
)

// Config holds configuration for the supervisor.
type Config struct {
	Layout *layout.Layout
	Logger *zap.Logger
	Clock  Clock

	// GracePeriod is how long a fresh core must stay alive before Start
	// reports success.
	GracePeriod time.Duration
	// StopTimeout is how long Stop waits after the terminate signal
	// before it kills the core.
	StopTimeout time.Duration
	// LockWait bounds the wait for a concurrent service operation.
	LockWait time.Duration

	// HTTPClient is used by the controller probe.
	HTTPClient *http.Client
}

// Supervisor starts, stops and inspects the core process.
type Supervisor struct {
	layout      *layout.Layout
	logger      *zap.Logger
	clock       Clock
	grace       time.Duration
	stopTimeout time.Duration
	lockWait    time.Duration
	client      *http.Client
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if cfg.Layout == nil || cfg.Layout.Root == "" {
		return nil, fmt.Errorf("layout is required")
	}
	s := &Supervisor{
		layout:      cfg.Layout,
		logger:      logging.OrNop(cfg.Logger).Named("service"),
		clock:       cfg.Clock,
		grace:       cfg.GracePeriod,
		stopTimeout: cfg.StopTimeout,
		lockWait:    cfg.LockWait,
		client:      cfg.HTTPClient,
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.grace <= 0 {
		s.grace = DefaultGracePeriod
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = DefaultStopTimeout
	}
	if s.lockWait <= 0 {
		s.lockWait = DefaultLockWait
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: probeTimeout}
	}
	return s, nil
}

// StopOutcome describes how Stop ended.
type StopOutcome string

const (
	StopNotRunning StopOutcome = "not-running"
	StopGraceful   StopOutcome = "graceful"
	StopKilled     StopOutcome = "killed"
)

func (s *Supervisor) lock(ctx context.Context, op string) (*transaction.Lock, error) {
	lock, err := transaction.AcquireWithin(ctx, s.layout.LocksDir(), lockName, s.lockWait)
	if err != nil {
		if errors.Is(err, transaction.ErrLocked) {
			return nil, crasherr.New(crasherr.KindServiceOperationInProgress, op,
				"another service operation is running", err)
		}
		return nil, crasherr.Wrap(crasherr.KindIO, op, err)
	}
	return lock, nil
}

// Start launches the core unless it is already alive. An already running
// core is success; the returned bool reports whether a new process was
// launched.
func (s *Supervisor) Start(ctx context.Context) (*Record, bool, error) {
	lock, err := s.lock(ctx, "start")
	if err != nil {
		return nil, false, err
	}
	defer lock.Release()

	return s.start(ctx)
}

// Stop terminates the core. A core that ignores the terminate signal for
// the stop timeout is killed and Stop returns ProcessStopTimeout, which is
// not fatal.
func (s *Supervisor) Stop(ctx context.Context) (StopOutcome, error) {
	lock, err := s.lock(ctx, "stop")
	if err != nil {
		return "", err
	}
	defer lock.Release()

	return s.stop(ctx)
}

// Restart stops the core if it is alive, then starts it.
func (s *Supervisor) Restart(ctx context.Context) (*Record, error) {
	lock, err := s.lock(ctx, "restart")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := s.stop(ctx); err != nil {
		if !crasherr.IsProcessStopTimeout(err) {
			return nil, err
		}
		s.logger.Warn("core did not stop in time and was killed", zap.Error(err))
	}
	rec, _, err := s.start(ctx)
	return rec, err
}

func (s *Supervisor) start(ctx context.Context) (*Record, bool, error) {
	const op = "start"

	rec, state := s.resolve(ctx)
	switch state {
	case StateStarting, StateRunning, StateStopping:
		s.logger.Info("core already running", zap.Int("pid", rec.PID))
		return rec, false, nil
	case StateUnknown:
		s.logger.Info("removing stale service record")
		if err := removeRecord(s.layout.ServiceState()); err != nil {
			return nil, false, crasherr.IO(op, s.layout.ServiceState(), err)
		}
	}

	settings, err := config.Load(s.layout.Settings())
	if err != nil {
		return nil, false, err
	}
	core := settings.Core

	bin := s.layout.CoreBinary(core)
	info, err := os.Stat(bin)
	if err != nil || !isExecutable(info) {
		return nil, false, crasherr.New(crasherr.KindProcessLaunchFailed, op,
			fmt.Sprintf("%s is not installed; run 'crash install'", core), err).WithResource(bin)
	}

	doc := s.layout.ConfigDocument(core)
	if _, err := os.Stat(doc); err != nil {
		s.logger.Warn("no config document; run 'crash update'", zap.String("path", doc))
	}

	args := core.LaunchArgs(platform.Launch{
		ConfigPath: doc,
		DataDir:    s.layout.DataDir(),
		Controller: settings.Web.Host,
		Secret:     settings.Web.Secret,
		UIDir:      s.layout.UIBundle(settings.Web.UI.String()),
	})

	if err := os.MkdirAll(s.layout.LogsDir(), 0o755); err != nil {
		return nil, false, crasherr.IO(op, s.layout.LogsDir(), err)
	}
	logFile, err := os.OpenFile(s.layout.CoreLog(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, crasherr.IO(op, s.layout.CoreLog(), err)
	}

	// Not CommandContext: the core must outlive ctx and this process.
	cmd := exec.Command(bin, args...)
	cmd.Dir = s.layout.Root
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detach(cmd)

	s.logger.Debug("launching core", zap.String("exe", bin), zap.Strings("args", redactArgs(args)))
	err = cmd.Start()
	logFile.Close()
	if err != nil {
		return nil, false, crasherr.New(crasherr.KindProcessLaunchFailed, op, "failed to launch core", err).
			WithResource(bin)
	}

	// Reap the child if it dies while this process is still around.
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	rec = &Record{
		PID:       cmd.Process.Pid,
		Exe:       bin,
		LaunchID:  uuid.NewString(),
		Core:      core,
		StartedAt: s.clock.Now().UTC(),
		Status:    StateStarting,
	}
	if p, err := process.NewProcessWithContext(ctx, int32(rec.PID)); err == nil {
		if ct, err := p.CreateTimeWithContext(ctx); err == nil {
			rec.CreateTime = ct
		}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			rec.Exe = exe
		}
	}
	if err := rec.save(s.layout.ServiceState()); err != nil {
		_ = cmd.Process.Kill()
		return nil, false, crasherr.IO(op, s.layout.ServiceState(), err)
	}

	select {
	case err := <-exited:
		_ = removeRecord(s.layout.ServiceState())
		return nil, false, crasherr.New(crasherr.KindProcessLaunchFailed, op,
			fmt.Sprintf("core exited during startup; see %s", s.layout.CoreLog()), err).
			WithContext("pid", rec.PID)
	case <-ctx.Done():
		return rec, true, ctx.Err()
	case <-time.After(s.grace):
	}

	if !s.alive(ctx, rec) {
		_ = removeRecord(s.layout.ServiceState())
		return nil, false, crasherr.New(crasherr.KindProcessLaunchFailed, op,
			fmt.Sprintf("core is not running after startup; see %s", s.layout.CoreLog()), nil).
			WithContext("pid", rec.PID)
	}

	rec.Status = StateRunning
	if err := rec.save(s.layout.ServiceState()); err != nil {
		return nil, false, crasherr.IO(op, s.layout.ServiceState(), err)
	}
	s.logger.Info("core started",
		zap.Stringer("core", core),
		zap.Int("pid", rec.PID),
		zap.String("launch_id", rec.LaunchID))
	return rec, true, nil
}

func (s *Supervisor) stop(ctx context.Context) (StopOutcome, error) {
	const op = "stop"
	statePath := s.layout.ServiceState()

	rec, state := s.resolve(ctx)
	switch state {
	case StateStopped:
		return StopNotRunning, nil
	case StateUnknown:
		s.logger.Info("removing stale service record")
		if err := removeRecord(statePath); err != nil {
			return "", crasherr.IO(op, statePath, err)
		}
		return StopNotRunning, nil
	}

	p, err := process.NewProcessWithContext(ctx, int32(rec.PID))
	if err != nil {
		_ = removeRecord(statePath)
		return StopNotRunning, nil
	}

	rec.Status = StateStopping
	if err := rec.save(statePath); err != nil {
		return "", crasherr.IO(op, statePath, err)
	}

	s.logger.Debug("terminating core", zap.Int("pid", rec.PID))
	if err := p.TerminateWithContext(ctx); err != nil && s.alive(ctx, rec) {
		s.logger.Warn("terminate signal failed", zap.Int("pid", rec.PID), zap.Error(err))
	}

	if s.waitExit(ctx, rec, s.stopTimeout) {
		if err := removeRecord(statePath); err != nil {
			return "", crasherr.IO(op, statePath, err)
		}
		s.logger.Info("core stopped", zap.Int("pid", rec.PID))
		return StopGraceful, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.logger.Warn("core ignored terminate signal, killing", zap.Int("pid", rec.PID))
	if err := p.KillWithContext(ctx); err != nil && s.alive(ctx, rec) {
		return "", crasherr.New(crasherr.KindInternal, op, "failed to kill core", err).
			WithContext("pid", rec.PID)
	}
	s.waitExit(ctx, rec, time.Second)
	if err := removeRecord(statePath); err != nil {
		return "", crasherr.IO(op, statePath, err)
	}
	return StopKilled, crasherr.New(crasherr.KindProcessStopTimeout, op,
		fmt.Sprintf("core did not exit within %s and was killed", s.stopTimeout), nil).
		WithContext("pid", rec.PID)
}

// waitExit polls until rec's process is gone or timeout elapses.
func (s *Supervisor) waitExit(ctx context.Context, rec *Record, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !s.alive(ctx, rec) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

// resolve derives the current state from the record and the process table.
func (s *Supervisor) resolve(ctx context.Context) (*Record, State) {
	rec, err := loadRecord(s.layout.ServiceState())
	if err != nil {
		if errors.Is(err, errNoRecord) {
			return nil, StateStopped
		}
		s.logger.Warn("unreadable service record", zap.Error(err))
		return nil, StateUnknown
	}
	if !s.alive(ctx, rec) {
		return rec, StateUnknown
	}
	switch rec.Status {
	case StateStarting, StateStopping:
		return rec, rec.Status
	default:
		return rec, StateRunning
	}
}

// alive reports whether rec's pid is a live process that matches the
// recorded fingerprint.
func (s *Supervisor) alive(ctx context.Context, rec *Record) bool {
	p, err := process.NewProcessWithContext(ctx, int32(rec.PID))
	if err != nil {
		return false
	}
	if status, err := p.StatusWithContext(ctx); err == nil && slices.Contains(status, process.Zombie) {
		return false
	}
	if rec.CreateTime != 0 {
		ct, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			return false
		}
		if d := ct - rec.CreateTime; d > createTimeTolerance || d < -createTimeTolerance {
			return false
		}
	}
	if rec.Exe != "" {
		if exe, err := p.ExeWithContext(ctx); err == nil && !sameExe(exe, rec.Exe) {
			return false
		}
	}
	return true
}

// sameExe compares executable paths. Linux reports a replaced binary with a
// " (deleted)" suffix, which still is the recorded core.
func sameExe(actual, recorded string) bool {
	return strings.TrimSuffix(actual, " (deleted)") == strings.TrimSuffix(recorded, " (deleted)")
}

// redactArgs hides the controller secret in logged argv.
func redactArgs(args []string) []string {
	out := slices.Clone(args)
	for i := 0; i+1 < len(out); i++ {
		if out[i] == "-secret" {
			out[i+1] = "[REDACTED]"
		}
	}
	return out
}
