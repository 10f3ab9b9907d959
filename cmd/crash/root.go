package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/crash/internal/artifact"
	"github.com/ZebulonRouseFrantzich/crash/internal/config"
	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/layout"
	"github.com/ZebulonRouseFrantzich/crash/internal/logging"
	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
	"github.com/ZebulonRouseFrantzich/crash/internal/schedule"
	"github.com/ZebulonRouseFrantzich/crash/internal/service"
)

// Viper keys. Each is bound to a persistent flag and to CRASH_<KEY>.
const (
	keyHome     = "home"
	keyLogLevel = "log-level"
	keyJSONLogs = "json-logs"
)

// app carries what every subcommand shares. It is populated by the root
// command's pre-run hook.
type app struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer

	layout   *layout.Layout
	logger   *zap.Logger
	closeLog func()

	// Overridable collaborators
	runner     schedule.Runner
	goos       string
	executable func() (string, error)
}

func newApp(out, errOut io.Writer) *app {
	v := viper.New()
	v.SetEnvPrefix("CRASH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(keyLogLevel, "info")

	return &app{
		v:          v,
		out:        out,
		errOut:     errOut,
		logger:     zap.NewNop(),
		closeLog:   func() {},
		executable: os.Executable,
	}
}

// execute runs the command line args and returns the process exit code.
func (a *app) execute(ctx context.Context, args []string) int {
	cmd := a.newRootCommand()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		a.logger.Debug("command failed", zap.Error(err))
	}
	a.closeLog()
	return reportError(a.errOut, err)
}

// newRootCommand creates the root command for the crash application
func (a *app) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crash",
		Short: "Install, update and supervise a proxy core",
		Long: `crash manages a proxy core (mihomo, clash or sing-box) on this machine.
It installs the core with its dashboard and geo databases, keeps the core's
configuration in sync with a subscription URL, runs the core in the
background and registers periodic maintenance with the OS scheduler.`,
		Version:           Version,
		Args:              usageArgs(cobra.NoArgs),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup() },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.SetVersionTemplate(versionString() + "\n")
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return crasherr.Validation(c.CommandPath(), "%v", err)
	})

	flags := cmd.PersistentFlags()
	flags.String(keyHome, "", "install root (default $CRASH_HOME or <user config dir>/crash)")
	flags.String(keyLogLevel, "info", "log level: debug, info, warn, error")
	flags.Bool(keyJSONLogs, false, "write console logs as JSON")
	for _, key := range []string{keyHome, keyLogLevel, keyJSONLogs} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}

	cmd.AddCommand(
		a.newInstallCommand(),
		a.newUpdateGeoCommand(),
		a.newURLCommand(),
		a.newUpdateURLCommand(),
		a.newUpdateCommand(),
		a.newRollbackCommand(),
		a.newStartCommand(),
		a.newStopCommand(),
		a.newRestartCommand(),
		a.newStatusCommand(),
		a.newUICommand(),
		a.newHostCommand(),
		a.newSecretCommand(),
		a.newCoreCommand(),
		a.newProxyCommand(),
		a.newTaskCommand(),
		a.newRemoveTaskCommand(),
		a.newRunTaskCommand(),
		a.newVersionCommand(),
	)
	return cmd
}

// setup resolves the install root and builds the logger.
func (a *app) setup() error {
	const op = "setup"

	root := a.v.GetString(keyHome)
	if root == "" {
		var err error
		if root, err = layout.DefaultRoot(); err != nil {
			return crasherr.Wrap(crasherr.KindIO, op, err)
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return crasherr.IO(op, root, err)
	}

	l := layout.New(abs)
	if err := l.Ensure(); err != nil {
		return crasherr.IO(op, abs, err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:   a.v.GetString(keyLogLevel),
		JSON:    a.v.GetBool(keyJSONLogs),
		Dir:     l.LogsDir(),
		Console: a.errOut,
	})
	if err != nil {
		return crasherr.New(crasherr.KindValidation, op, "invalid logging options", err)
	}

	a.layout = l
	a.logger = logger
	a.closeLog = closeLog
	a.logger.Debug("install root", zap.String("path", l.Root))
	return nil
}

// usageArgs classifies positional argument errors as validation failures.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return crasherr.Validation(cmd.CommandPath(), "%v", err)
		}
		return nil
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) store() *config.Store {
	return config.NewStore(a.layout, a.logger)
}

func (a *app) settings() (*config.Settings, error) {
	return a.store().Load()
}

func (a *app) installer() (*artifact.Installer, error) {
	inst, err := artifact.NewInstaller(artifact.Config{
		Layout:   a.layout,
		Detector: platform.NewDetector(),
		Logger:   a.logger,
	})
	if err != nil {
		return nil, crasherr.Wrap(crasherr.KindInternal, "create installer", err)
	}
	return inst, nil
}

func (a *app) synchronizer() (*config.Synchronizer, error) {
	s, err := config.NewSynchronizer(config.SyncConfig{
		Layout: a.layout,
		Store:  a.store(),
		Logger: a.logger,
	})
	if err != nil {
		return nil, crasherr.Wrap(crasherr.KindInternal, "create synchronizer", err)
	}
	return s, nil
}

func (a *app) supervisor() (*service.Supervisor, error) {
	s, err := service.NewSupervisor(service.Config{
		Layout: a.layout,
		Logger: a.logger,
	})
	if err != nil {
		return nil, crasherr.Wrap(crasherr.KindInternal, "create supervisor", err)
	}
	return s, nil
}

func (a *app) scheduler() (*schedule.Adapter, error) {
	exe, err := a.executable()
	if err != nil {
		return nil, crasherr.Wrap(crasherr.KindIO, "locate crash executable", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return schedule.New(schedule.Config{
		Executable: exe,
		Home:       a.layout.Root,
		GOOS:       a.goos,
		Runner:     a.runner,
		Logger:     a.logger,
	})
}
