package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/crash/internal/config"
)

// settingCommand describes a subcommand that sets one settings field. With
// no argument it prints the current value instead.
type settingCommand struct {
	use   string
	short string
	show  func(*config.Settings) string
	set   func(ctx context.Context, value string) error
	// done is printed after a successful set.
	done func(*config.Settings) string
}

func (a *app) newSettingCommand(sc settingCommand) *cobra.Command {
	return &cobra.Command{
		Use:   sc.use,
		Short: sc.short,
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return a.printSetting(sc.show)
			}
			if err := sc.set(cmd.Context(), args[0]); err != nil {
				return err
			}
			settings, err := a.settings()
			if err != nil {
				return err
			}
			a.printf("%s\n", sc.done(settings))
			return nil
		},
	}
}

func (a *app) printSetting(show func(*config.Settings) string) error {
	settings, err := a.settings()
	if err != nil {
		return err
	}
	value := show(settings)
	if value == "" {
		value = "(not set)"
	}
	a.printf("%s\n", value)
	return nil
}

func (a *app) newUICommand() *cobra.Command {
	return a.newSettingCommand(settingCommand{
		use:   "ui [metacubexd|zashboard|yacd]",
		short: "Select the web dashboard",
		show:  func(s *config.Settings) string { return s.Web.UI.String() },
		set:   func(ctx context.Context, v string) error { return a.store().SetUI(ctx, v) },
		done: func(s *config.Settings) string {
			return "ui set to " + s.Web.UI.String() + "; run 'crash install' to fetch it"
		},
	})
}

func (a *app) newHostCommand() *cobra.Command {
	return a.newSettingCommand(settingCommand{
		use:   "host [addr:port]",
		short: "Set the controller listen address",
		show:  func(s *config.Settings) string { return s.Web.Host },
		set:   func(ctx context.Context, v string) error { return a.store().SetHost(ctx, v) },
		done: func(s *config.Settings) string {
			return "host set to " + s.Web.Host + "; takes effect on the next start"
		},
	})
}

func (a *app) newSecretCommand() *cobra.Command {
	return a.newSettingCommand(settingCommand{
		use:   "secret [value]",
		short: "Set the controller secret; an empty value clears it",
		show: func(s *config.Settings) string {
			if s.Web.Secret == "" {
				return ""
			}
			return "set"
		},
		set: func(ctx context.Context, v string) error { return a.store().SetSecret(ctx, v) },
		done: func(s *config.Settings) string {
			if s.Web.Secret == "" {
				return "secret cleared; takes effect on the next start"
			}
			return "secret updated; takes effect on the next start"
		},
	})
}

func (a *app) newCoreCommand() *cobra.Command {
	return a.newSettingCommand(settingCommand{
		use:   "core [mihomo|clash|singbox]",
		short: "Select the proxy core",
		show:  func(s *config.Settings) string { return s.Core.String() },
		set:   func(ctx context.Context, v string) error { return a.store().SetCore(ctx, v) },
		done: func(s *config.Settings) string {
			return "core set to " + s.Core.String() + "; run 'crash install' to fetch it"
		},
	})
}

func (a *app) newProxyCommand() *cobra.Command {
	return a.newSettingCommand(settingCommand{
		use:   "proxy [direct|gh-proxy|xget|jsdelivr]",
		short: "Select the mirror strategy for GitHub downloads",
		show:  func(s *config.Settings) string { return s.Proxy.String() },
		set:   func(ctx context.Context, v string) error { return a.store().SetProxy(ctx, v) },
		done: func(s *config.Settings) string {
			return "proxy set to " + s.Proxy.String()
		},
	})
}
