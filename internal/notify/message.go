package notify

import (
	"fmt"
	"strings"
	"time"
)

// FormatLinkLostMessage creates the body sent when telemetry goes stale.
func FormatLinkLostMessage(r LinkReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Relay: %s\n", r.RelayURL))
	if r.LastUpdate.IsZero() {
		sb.WriteString("Last update: never\n")
	} else {
		sb.WriteString(fmt.Sprintf("Last update: %s\n", r.LastUpdate.UTC().Format(time.RFC3339)))
	}
	sb.WriteString(fmt.Sprintf("Last position: %.6f, %.6f @ %.1fm\n", r.Telemetry.Lat, r.Telemetry.Lon, r.Telemetry.Alt))
	sb.WriteString(fmt.Sprintf("Battery: %.0f%%", r.Telemetry.Battery))
	if r.Mode != "" {
		sb.WriteString(fmt.Sprintf("\nMode: %s", r.Mode))
	}

	return sb.String()
}

// FormatLinkRestoredMessage creates the body sent when telemetry resumes.
func FormatLinkRestoredMessage(r LinkReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Relay: %s\n", r.RelayURL))
	sb.WriteString(fmt.Sprintf("Outage: %s\n", r.Downtime.Round(time.Second)))
	sb.WriteString(fmt.Sprintf("Position: %.6f, %.6f @ %.1fm", r.Telemetry.Lat, r.Telemetry.Lon, r.Telemetry.Alt))

	return sb.String()
}
