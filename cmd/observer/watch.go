package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/notify"
	"github.com/dgnsrekt/telemetry-relay/internal/session"
)

func watchCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror relay state and report link health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sc, err := sessionConfig()
			if err != nil {
				return err
			}
			if url, _ := cmd.Flags().GetString("url"); url != "" {
				sc.URL = url
			}

			notifier := notify.New(notify.FromSettings(cfg.Notify), logger)
			sess := session.New(sc, logger)

			done := make(chan error, 1)
			go func() { done <- sess.Run(ctx) }()

			out := cmd.OutOrStdout()
			var lostAt time.Time
			for {
				select {
				case err := <-done:
					return err

				case ev := <-sess.Events():
					switch ev.Kind {
					case session.EventState:
						fmt.Fprintf(out, "[%s] session %s\n", time.Now().Format("15:04:05"), ev.State)

					case session.EventTelemetry:
						if quiet {
							continue
						}
						t := ev.Telemetry
						fmt.Fprintf(out, "[%s] pos %.6f,%.6f alt %.1fm yaw %.0f bat %.0f%% sats %d\n",
							formatMillis(t.Timestamp), t.Lat, t.Lon, t.Alt, t.Yaw, t.Battery, t.Satellites)

					case session.EventWaypoints:
						fmt.Fprintf(out, "[%s] %d waypoint(s)\n", time.Now().Format("15:04:05"), len(ev.Waypoints))

					case session.EventStatus:
						if quiet {
							continue
						}
						fmt.Fprintf(out, "[%s] armed=%t mode=%s\n", formatMillis(ev.Status.LastUpdate), ev.Status.Armed, ev.Status.Mode)

					case session.EventLinkLost:
						lostAt = time.Now()
						snap := sess.Snapshot()
						fmt.Fprintf(out, "[%s] LINK LOST\n", lostAt.Format("15:04:05"))
						report := notify.LinkReport{
							RelayURL:  sc.URL,
							Telemetry: snap.Telemetry,
							Mode:      snap.Status.Mode,
						}
						if snap.Status.LastUpdate > 0 {
							report.LastUpdate = time.UnixMilli(snap.Status.LastUpdate)
						}
						if err := notifier.SendLinkLost(ctx, report); err != nil {
							logger.Warn("link lost notification failed", zap.Error(err))
						}

					case session.EventLinkRestored:
						var downtime time.Duration
						if !lostAt.IsZero() {
							downtime = time.Since(lostAt)
						}
						fmt.Fprintf(out, "[%s] link restored after %s\n", time.Now().Format("15:04:05"), downtime.Round(time.Second))
						report := notify.LinkReport{
							RelayURL:  sc.URL,
							Downtime:  downtime,
							Telemetry: sess.Telemetry(),
						}
						if err := notifier.SendLinkRestored(ctx, report); err != nil {
							logger.Warn("link restored notification failed", zap.Error(err))
						}
					}
				}
			}
		},
	}

	cmd.Flags().String("url", "", "websocket URL (overrides session.url)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print connection, waypoint and link events")
	return cmd
}
