package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/api"
	"github.com/dgnsrekt/telemetry-relay/internal/config"
	"github.com/dgnsrekt/telemetry-relay/internal/logging"
	"github.com/dgnsrekt/telemetry-relay/internal/session"
	"github.com/dgnsrekt/telemetry-relay/internal/wire"
)

var (
	cfgFile string
	verbose bool
	logger  *zap.Logger
	cfg     *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "relay-observer",
		Short:        "Watch a telemetry relay and manage its waypoints",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				logger = zap.NewNop()
				return nil
			}

			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			logCfg := cfg.Logging
			if verbose {
				logCfg.Level = "debug"
				logCfg.Development = true
			}
			logger, err = logging.New(logCfg)
			return err
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("RELAY_CONFIG"), "config file path (or set RELAY_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(listCmd())

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newAPIClient() *api.HTTPClient {
	return api.NewClient(cfg.API.BaseURL, cfg.API.RatePerSecond, cfg.API.Timeout, cfg.API.RetryDelay, cfg.API.RetryCount, logger)
}

func sessionConfig() (session.Config, error) {
	codec, err := wire.ByName(cfg.Session.Codec)
	if err != nil {
		return session.Config{}, err
	}
	sc := session.DefaultConfig(cfg.Session.URL)
	sc.Codec = codec
	sc.StaleAfter = cfg.Session.StaleAfter
	sc.CheckInterval = cfg.Session.CheckInterval
	sc.ReconnectInterval = cfg.Session.ReconnectInterval
	return sc, nil
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("15:04:05")
}
