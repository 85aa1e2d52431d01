package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/fundsync/internal/application"
)

const version = "v1.0.0"

var (
	configPath string
	logLevel   string
	schemaPath string
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	root := &cobra.Command{
		Use:     "fundsync",
		Short:   "Perpetual funding-rate synchronization engine",
		Version: version,
		Long: `fundsync keeps a local PostgreSQL store of perpetual funding rates in
step with Binance, Bybit, HyperLiquid and MEXC, and serves the collected
data over a query API.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override configured log level (trace|debug|info|warn|error)")

	// Accept snake_case spellings of every flag.
	root.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	root.AddCommand(serveCmd(), syncCmd(), migrateCmd(), seedCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the log-level flag override.
func loadConfig() (application.Config, error) {
	cfg, err := application.LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if schemaPath != "" {
		cfg.SchemaPath = schemaPath
	}
	zerolog.SetGlobalLevel(cfg.Level())
	return cfg, nil
}

// newApp builds the wired application from the resolved config.
func newApp(ctx context.Context) (*application.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return application.New(ctx, cfg, log.Logger)
}
