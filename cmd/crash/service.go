package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/crash/internal/service"
)

func (a *app) newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the core in the background",
		Long: `start launches the installed core with the active configuration. If the
core is already running nothing happens, so start is safe to run repeatedly.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStart(cmd.Context())
		},
	}
}

// runStart handles the `crash start` subcommand
func (a *app) runStart(ctx context.Context) error {
	sup, err := a.supervisor()
	if err != nil {
		return err
	}
	rec, launched, err := sup.Start(ctx)
	if err != nil {
		return err
	}
	if launched {
		a.printf("started %s (pid %d)\n", rec.Core, rec.PID)
	} else {
		a.printf("%s already running (pid %d)\n", rec.Core, rec.PID)
	}
	return nil
}

func (a *app) newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the core",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			sup, err := a.supervisor()
			if err != nil {
				return err
			}
			outcome, err := sup.Stop(cmd.Context())
			switch outcome {
			case service.StopNotRunning:
				a.printf("not running\n")
			case service.StopGraceful:
				a.printf("stopped\n")
			case service.StopKilled:
				a.printf("stopped (killed after timeout)\n")
			}
			return err
		},
	}
}

func (a *app) newRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop the core if it runs, then start it",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			sup, err := a.supervisor()
			if err != nil {
				return err
			}
			rec, err := sup.Restart(cmd.Context())
			if err != nil {
				return err
			}
			a.printf("restarted %s (pid %d)\n", rec.Core, rec.PID)
			return nil
		},
	}
}

func (a *app) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the core's state",
		Long: `status reports whether the core runs, with its pid, uptime, memory and
controller version. It never changes anything on disk.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			sup, err := a.supervisor()
			if err != nil {
				return err
			}
			report, err := sup.Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, line := range report.Lines() {
				a.printf("%s\n", line)
			}
			return nil
		},
	}
}
