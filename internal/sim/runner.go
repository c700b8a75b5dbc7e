package sim

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/telemetry-relay/internal/api"
	"github.com/dgnsrekt/telemetry-relay/internal/state"
)

// Sink delivers one report to the relay.
type Sink interface {
	Send(ctx context.Context, r state.Report) error
}

// HTTPSink posts reports to the relay's ingestion endpoint.
type HTTPSink struct {
	client api.Client
}

func NewHTTPSink(client api.Client) *HTTPSink {
	return &HTTPSink{client: client}
}

func (s *HTTPSink) Send(ctx context.Context, r state.Report) error {
	_, err := s.client.PostTelemetry(ctx, r)
	return err
}

// Run sends one report per interval until ctx is cancelled or count reports
// have been sent (count <= 0 means no limit). Send failures are logged and the
// flight continues; a rejected report is not retried.
func Run(ctx context.Context, f *Flight, sink Sink, interval time.Duration, count int, logger *zap.Logger) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for sent := 0; count <= 0 || sent < count; sent++ {
		if err := limiter.Wait(ctx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}

		r := f.Next()
		if err := sink.Send(ctx, r); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("report not delivered", zap.Error(err))
			continue
		}
		logger.Debug("report sent",
			zap.Float64("lat", r.Lat),
			zap.Float64("lon", r.Lon),
			zap.Float64("yaw", r.Yaw),
		)
	}
	return nil
}
