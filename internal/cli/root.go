// Package cli implements the driftwatch command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/driftwood-forum/driftwood/internal/config"
	"github.com/driftwood-forum/driftwood/internal/logging"
)

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "driftwatch",
		Short:         "Track read state and live updates for a Driftwood forum",
		Long:          "driftwatch follows a Driftwood forum's message bus and keeps per-topic read state, unread counts and resume positions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	cmd.PersistentFlags().String("config", "", "Config file path")
	cmd.PersistentFlags().String("server", "", "Forum base URL (overrides config)")
	cmd.PersistentFlags().String("log-level", "", "Log level (overrides config)")

	cmd.AddCommand(
		newCountsCmd(),
		newWatchCmd(),
		newReadCmd(),
		newSnapshotCmd(),
	)

	return cmd
}

// loadConfig loads configuration honoring the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loader.SetConfigFile(path)
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		loader.Set("server.base_url", server)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		loader.Set("logging.level", level)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	logging.Debug().
		Str("file", loader.ConfigFileUsed()).
		Interface("settings", logging.RedactMap(loader.Viper().AllSettings())).
		Msg("configuration loaded")
	return cfg, nil
}
