package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/api"
	"github.com/dgnsrekt/telemetry-relay/internal/config"
	"github.com/dgnsrekt/telemetry-relay/internal/logging"
	"github.com/dgnsrekt/telemetry-relay/internal/sim"
)

var (
	cfgFile string
	verbose bool
	logger  *zap.Logger
	cfg     *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "relay-simulator",
		Short:        "Feed synthetic sensor reports into a telemetry relay",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
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

	rootCmd.AddCommand(runCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		transport string
		interval  time.Duration
		count     int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fly a circular orbit and report each step",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sc := cfg.Simulator
			if cmd.Flags().Changed("transport") {
				sc.Transport = transport
			}
			if cmd.Flags().Changed("interval") {
				sc.Interval = interval
			}

			var sink sim.Sink
			switch sc.Transport {
			case "http":
				client := api.NewClient(cfg.API.BaseURL, cfg.API.RatePerSecond, cfg.API.Timeout, cfg.API.RetryDelay, cfg.API.RetryCount, logger)
				sink = sim.NewHTTPSink(client)
			case "mqtt":
				mqttSink, err := sim.DialMQTT(ctx, cfg.MQTT.Broker, sc.Topic, byte(cfg.MQTT.QoS))
				if err != nil {
					return err
				}
				defer mqttSink.Close()
				sink = mqttSink
			default:
				return fmt.Errorf("unknown transport %q (want http or mqtt)", sc.Transport)
			}

			flight := sim.NewFlight(sim.Orbit{
				CenterLat: sc.CenterLat,
				CenterLon: sc.CenterLon,
				RadiusM:   sc.Radius,
				AltitudeM: sc.Altitude,
			})

			logger.Info("simulator starting",
				zap.String("transport", sc.Transport),
				zap.Duration("interval", sc.Interval),
				zap.Int("count", count),
			)
			return sim.Run(ctx, flight, sink, sc.Interval, count, logger)
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", "http", "delivery transport: http or mqtt")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "time between reports")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after n reports (0 runs until interrupted)")
	return cmd
}
