package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pourwell/pourwell-core/internal/infrastructure/config"
	"github.com/pourwell/pourwell-core/internal/infrastructure/logging"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pourwell",
		Short: "Pourwell - automated cocktail dispenser",
		Long: `Pourwell drives a bank of liquid pumps to pour cocktails from a recipe book.

Examples:
  pourwell serve                      # Run the dispenser service
  pourwell prime --seconds 8          # Fill every bound line
  pourwell clean                      # Run every bound pump in reverse
  pourwell pour --channel 1 --oz 1    # Calibration pour on pump 1
  pourwell recipes                    # Show what can be poured right now`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", getConfigPath(),
		"configuration file (env POURWELL_CONFIG)")

	cmd.AddCommand(
		newServeCmd(opts),
		newPrimeCmd(opts),
		newCleanCmd(opts),
		newPourCmd(opts),
		newRecipesCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// getConfigPath returns the configuration file path.
// Uses POURWELL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("POURWELL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// load reads the configuration and builds the logger. Debug mode forces
// debug-level logging.
func (o *rootOptions) load() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Dispenser.Debug {
		cfg.Logging.Level = "debug"
	}

	log := logging.New(cfg.Logging, version)
	log.Debug("configuration loaded", "path", o.configPath)
	return cfg, log, nil
}
