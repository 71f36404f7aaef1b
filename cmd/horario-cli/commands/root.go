package commands

import (
	"context"
	"fmt"
	"os"

	"horario-backend/internal/config"
	"horario-backend/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath *string
	driver     *string
	verbose    *bool
)

var rootCmd = &cobra.Command{
	Use:   "horario-cli",
	Short: "horario-cli logs into the UDLAP intranet and scrapes schedules without the HTTP server.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "Path to the config file.")
	driver = rootCmd.PersistentFlags().String("driver", "", `Browser driver, "rod" or "http", overrides the config.`)
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging.")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	if *driver != "" {
		cfg.Browser.Driver = *driver
	}
	return cfg, cfg.Validate()
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
