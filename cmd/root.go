package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/barrier-explorer/internal/config"
)

// modeKey annotates a command with the config.Validate mode it runs under.
// Subcommands inherit their parent's mode.
const modeKey = "mode"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "barriers",
	Short: "Aquatic barrier inventory explorer",
	Long:  "Imports dam and road-crossing inventories, decodes packed network tiers, and serves faceted exploration sessions over summary units.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setup(commandMode(cmd))
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

// setup loads configuration, installs the global logger and validates the
// settings mode depends on. An empty mode skips validation.
func setup(mode string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	cfg = c
	if mode == "" {
		return nil
	}
	if err := cfg.Validate(mode); err != nil {
		return eris.Wrapf(err, "%s config", mode)
	}
	zap.L().Debug("config loaded", zap.String("mode", mode), zap.String("driver", cfg.Store.Driver))
	return nil
}

// commandMode returns the nearest mode annotation on cmd or its parents.
func commandMode(cmd *cobra.Command) string {
	for c := cmd; c != nil; c = c.Parent() {
		if mode, ok := c.Annotations[modeKey]; ok {
			return mode
		}
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
