package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/telemetry-relay/internal/session"
	"github.com/dgnsrekt/telemetry-relay/internal/state"
	"github.com/dgnsrekt/telemetry-relay/internal/wire"
)

func addCmd() *cobra.Command {
	var (
		id, name string
		lat, lon float64
		alt      float64
		overWS   bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a waypoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := state.WaypointSpec{ID: id, Lat: lat, Lon: lon, Name: name}
			if cmd.Flags().Changed("alt") {
				spec.Alt = &alt
			}

			if overWS {
				sc, err := sessionConfig()
				if err != nil {
					return err
				}
				if err := session.SendOnce(cmd.Context(), sc, wire.AddWaypointCommand(spec)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "addWaypoint sent")
				return nil
			}

			wp, err := newAPIClient().CreateWaypoint(cmd.Context(), spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", wp.ID, wp.Name)
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude (required)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude (required)")
	cmd.Flags().Float64Var(&alt, "alt", 0, "altitude in meters")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&id, "id", "", "explicit waypoint id")
	cmd.Flags().BoolVar(&overWS, "ws", false, "send over the websocket command channel instead of REST")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func removeCmd() *cobra.Command {
	var overWS bool

	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a waypoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if overWS {
				sc, err := sessionConfig()
				if err != nil {
					return err
				}
				return session.SendOnce(cmd.Context(), sc, wire.RemoveWaypointCommand(args[0]))
			}

			if err := newAPIClient().DeleteWaypoint(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&overWS, "ws", false, "send over the websocket command channel instead of REST")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List waypoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			wps, err := newAPIClient().ListWaypoints(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLAT\tLON\tALT\tCREATED")
			for _, wp := range wps {
				alt := "-"
				if wp.Alt != nil {
					alt = fmt.Sprintf("%.1f", *wp.Alt)
				}
				fmt.Fprintf(w, "%s\t%s\t%.6f\t%.6f\t%s\t%s\n", wp.ID, wp.Name, wp.Lat, wp.Lon, alt, formatMillis(wp.Timestamp))
			}
			return w.Flush()
		},
	}
}
