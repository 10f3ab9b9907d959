package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/ZebulonRouseFrantzich/crash/internal/artifact"
	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/service"
)

func (a *app) newRunTaskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run-task",
		Short: "Refresh configuration and geo databases, then make sure the core runs",
		Long: `run-task is the periodic maintenance job. It updates the configuration
from the subscription URL, refreshes the geo databases and then makes sure
the core runs, restarting it when the configuration changed. Every step runs
even if an earlier one failed; all failures are reported.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runMaintenance(cmd.Context())
		},
	}
}

// runMaintenance handles the `crash run-task` subcommand. The configuration
// and geo refresh complete before the core is (re)started so the new files
// are in effect.
func (a *app) runMaintenance(ctx context.Context) error {
	var errs error
	changed := false

	syncer, err := a.synchronizer()
	if err != nil {
		return err
	}
	res, err := syncer.Update(ctx)
	switch {
	case crasherr.IsNoURLConfigured(err):
		a.logger.Info("no subscription url configured, skipping config update")
	case err != nil:
		errs = multierr.Append(errs, err)
	default:
		changed = res.Changed
		a.printSyncResult(res)
	}

	settings, err := a.settings()
	if err != nil {
		return multierr.Append(errs, err)
	}
	inst, err := a.installer()
	if err != nil {
		return multierr.Append(errs, err)
	}
	geo, err := inst.Install(ctx, artifact.KindGeo, settings.Selection(), true)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else {
		a.printInstallResult(settings, geo)
	}

	sup, err := a.supervisor()
	if err != nil {
		return multierr.Append(errs, err)
	}
	if changed && sup.State(ctx) == service.StateRunning {
		rec, err := sup.Restart(ctx)
		if err != nil {
			return multierr.Append(errs, err)
		}
		a.printf("restarted %s (pid %d)\n", rec.Core, rec.PID)
		return errs
	}
	return multierr.Append(errs, a.runStart(ctx))
}
