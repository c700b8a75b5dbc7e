package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
)

// LinkReport describes a change in telemetry link health as seen by an observer.
type LinkReport struct {
	RelayURL   string
	LastUpdate time.Time
	Downtime   time.Duration
	Telemetry  state.Telemetry
	Mode       string
}

// Notifier is the interface for sending link health notifications.
type Notifier interface {
	SendLinkLost(ctx context.Context, r LinkReport) error
	SendLinkRestored(ctx context.Context, r LinkReport) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SendLinkLost sends a high priority notification that telemetry went stale.
func (c *Client) SendLinkLost(ctx context.Context, r LinkReport) error {
	if !c.config.Enabled {
		return nil
	}

	return c.send(ctx, "Telemetry link lost", FormatLinkLostMessage(r), joinTags(c.config.Tags, "warning"), "high")
}

// SendLinkRestored sends a notification that telemetry resumed.
func (c *Client) SendLinkRestored(ctx context.Context, r LinkReport) error {
	if !c.config.Enabled {
		return nil
	}

	return c.send(ctx, "Telemetry link restored", FormatLinkRestoredMessage(r), joinTags(c.config.Tags, "white_check_mark"), c.config.Priority)
}

func joinTags(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "," + extra
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SendLinkLost is a no-op.
func (n *NoopNotifier) SendLinkLost(_ context.Context, _ LinkReport) error { return nil }

// SendLinkRestored is a no-op.
func (n *NoopNotifier) SendLinkRestored(_ context.Context, _ LinkReport) error { return nil }

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
