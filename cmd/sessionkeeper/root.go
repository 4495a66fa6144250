package main

import (
	"github.com/spf13/cobra"

	"github.com/scribeline/sessionkeeper/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the sessionkeeper CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmdWithDeps(nil)
}

func newRootCmdWithDeps(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "sessionkeeper",
		Short: "Sessionkeeper - keeps an API session alive",
		Long: `Sessionkeeper signs in to the notes API, keeps the session alive while
it is in use and ends it cleanly when it expires or you sign out.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/sessionkeeper/config.yaml)")

	pf := cmd.PersistentFlags()
	pf.String("api-url", def.API.BaseURL, "API base URL")
	pf.Duration("api-timeout", def.API.Timeout, "per-request timeout")
	pf.String("credential-store", def.Session.Store, "credential store (file or memory)")
	pf.String("credential-file", "", "credential file (default: XDG_STATE_HOME/sessionkeeper/credential.json)")
	pf.String("log-format", def.Log.Format, "log format (json or text)")
	pf.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")

	cmd.AddCommand(newLoginCmd(deps))
	cmd.AddCommand(newRegisterCmd(deps))
	cmd.AddCommand(newLogoutCmd(deps))
	cmd.AddCommand(newWhoamiCmd(deps))
	cmd.AddCommand(newWatchCmd(deps))
	cmd.AddCommand(newStatusCmd(deps))

	return cmd
}
