package main

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/crash/internal/config"
)

func (a *app) newURLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "url [url]",
		Short: "Set the subscription URL without fetching it",
		Long: `url persists the subscription URL the core's configuration is fetched
from. Run 'crash update' to fetch it. Without an argument the current URL is
printed with its credentials redacted.`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return a.printSetting(func(s *config.Settings) string { return config.RedactURL(s.URL) })
			}
			if err := a.store().SetURL(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printf("url set to %s\n", config.RedactURL(args[0]))
			return nil
		},
	}
}

func (a *app) newUpdateURLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update-url [url]",
		Short: "Set the subscription URL and fetch it",
		Long: `update-url persists the URL, then fetches and activates the document it
serves. The URL stays set even when the fetch fails. Without an argument the
persisted URL is fetched.`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return a.runUpdate(cmd.Context())
			}
			return a.runUpdateURL(cmd.Context(), args[0])
		},
	}
}

// runUpdateURL handles the `crash update-url <url>` subcommand
func (a *app) runUpdateURL(ctx context.Context, raw string) error {
	syncer, err := a.synchronizer()
	if err != nil {
		return err
	}
	res, err := syncer.UpdateFromURL(ctx, raw)
	if err != nil {
		return err
	}
	a.printSyncResult(res)
	return nil
}

func (a *app) newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Fetch the configuration from the persisted subscription URL",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runUpdate(cmd.Context())
		},
	}
}

// runUpdate handles the `crash update` subcommand
func (a *app) runUpdate(ctx context.Context) error {
	syncer, err := a.synchronizer()
	if err != nil {
		return err
	}
	res, err := syncer.Update(ctx)
	if err != nil {
		return err
	}
	a.printSyncResult(res)
	return nil
}

func (a *app) printSyncResult(res *config.SyncResult) {
	if !res.Changed {
		a.printf("config unchanged: %s\n", res.Path)
		return
	}
	a.printf("config updated: %s (%s from %s)\n",
		res.Path, humanize.IBytes(uint64(res.Size)), config.RedactURL(res.Source))
}

func (a *app) newRollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Swap the active configuration with the previous one",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			syncer, err := a.synchronizer()
			if err != nil {
				return err
			}
			path, err := syncer.Rollback(cmd.Context())
			if err != nil {
				return err
			}
			a.printf("restored previous config: %s\n", path)
			a.printf("run 'crash restart' to apply it\n")
			return nil
		},
	}
}
