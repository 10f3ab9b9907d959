package main

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/crash/internal/artifact"
	"github.com/ZebulonRouseFrantzich/crash/internal/config"
)

func (a *app) newInstallCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the core, its dashboard and geo databases",
		Long: `Install downloads the configured core for this platform together with
the selected dashboard and the core's geo databases. Artifacts that are
already present are left alone unless --force is given.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runInstall(cmd.Context(), force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "reinstall artifacts that are already present")
	return cmd
}

// runInstall handles the `crash install` subcommand
func (a *app) runInstall(ctx context.Context, force bool) error {
	settings, err := a.settings()
	if err != nil {
		return err
	}
	inst, err := a.installer()
	if err != nil {
		return err
	}

	results, err := inst.InstallAll(ctx, settings.Selection(), force)
	for _, res := range results {
		a.printInstallResult(settings, res)
	}
	return err
}

func (a *app) newUpdateGeoCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "update-geo",
		Short: "Refresh the core's geo databases",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runUpdateGeo(cmd.Context(), force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "download even when the databases are present")
	return cmd
}

// runUpdateGeo handles the `crash update-geo` subcommand
func (a *app) runUpdateGeo(ctx context.Context, force bool) error {
	settings, err := a.settings()
	if err != nil {
		return err
	}
	inst, err := a.installer()
	if err != nil {
		return err
	}

	res, err := inst.Install(ctx, artifact.KindGeo, settings.Selection(), force)
	if err != nil {
		return err
	}
	a.printInstallResult(settings, res)
	return nil
}

func (a *app) printInstallResult(settings *config.Settings, res *artifact.InstallResult) {
	for _, path := range res.Restored {
		a.printf("%s: restored %s from an interrupted install\n", res.Kind, path)
	}
	if res.Skipped {
		if res.Kind == artifact.KindGeo && len(settings.Core.GeoFiles()) == 0 {
			a.printf("%s: not used by %s\n", res.Kind, settings.Core)
			return
		}
		a.printf("%s: already installed (use --force to reinstall)\n", res.Kind)
		return
	}
	for _, art := range res.Artifacts {
		version := art.Version
		if version == "" {
			version = "-"
		}
		a.printf("%s: %s %s (%s, %s)\n", res.Kind, art.Name, version, humanize.IBytes(uint64(art.Size)), art.Verified)
	}
}
