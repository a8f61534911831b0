package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/niyio-cyber/NECIM-Market/internal/app"
	"github.com/niyio-cyber/NECIM-Market/internal/config"
	"github.com/niyio-cyber/NECIM-Market/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	outputPath string
	logLevel   string
	logFormat  string
)

// necmis-collect runs one ingestion pass and exits. Partial source failures
// still exit 0; only a run that could not publish exits 1.
func main() {
	rootCmd := &cobra.Command{
		Use:           "necmis-collect",
		Short:         "Fetch, classify and publish one construction-market snapshot",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCollect,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $NECMIS_CONFIG or built-in sources)")
	rootCmd.PersistentFlags().StringVar(&outputPath, "output", "", "snapshot output path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "text or json")

	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "necmis-collect:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if outputPath != "" {
		cfg.Output.Path = outputPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func runCollect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := a.Pipeline.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d items to %s (%s)\n", len(res.Snapshot.Items), cfg.Output.Path, res.Snapshot.Stats.Summary)
	return nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and list the source registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for i, s := range cfg.Sources {
				fmt.Printf("%2d  %-5s %-6s %s\n", i, s.Category, s.State, s.Name)
			}
			fmt.Printf("config ok: %d sources, rules %s\n", len(cfg.Sources), cfg.Rules.ID())
			return nil
		},
	}
}
