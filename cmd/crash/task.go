package main

import (
	"context"

	"github.com/spf13/cobra"
)

func (a *app) newTaskCommand() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Register the periodic maintenance and healthcheck jobs",
		Long: `task registers two jobs with the OS scheduler (crontab, or the Task
Scheduler on Windows): a weekly 'crash run-task' that refreshes the
configuration and geo databases, and a 'crash start' every five minutes that
relaunches the core if it died. Running task again updates the jobs in place.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				return a.runTaskList(cmd.Context())
			}
			return a.runTaskInstall(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "show the registered jobs instead of registering them")
	return cmd
}

// runTaskInstall handles the `crash task` subcommand
func (a *app) runTaskInstall(ctx context.Context) error {
	adapter, err := a.scheduler()
	if err != nil {
		return err
	}
	if err := adapter.Install(ctx); err != nil {
		return err
	}
	for _, t := range adapter.Tasks() {
		a.printf("registered %s (%s)\n", t.Name, t.Spec)
	}
	return nil
}

func (a *app) runTaskList(ctx context.Context) error {
	adapter, err := a.scheduler()
	if err != nil {
		return err
	}
	entries, err := adapter.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.printf("No scheduled tasks are registered.\n")
		a.printf("\nTo register them:\n  crash task\n")
		return nil
	}
	for _, e := range entries {
		a.printf("%s  %s  %s\n", e.Name, e.Spec, e.Command)
	}
	return nil
}

func (a *app) newRemoveTaskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-task",
		Short: "Unregister the periodic jobs",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			adapter, err := a.scheduler()
			if err != nil {
				return err
			}
			if err := adapter.Remove(cmd.Context()); err != nil {
				return err
			}
			a.printf("scheduled tasks removed\n")
			return nil
		},
	}
}
