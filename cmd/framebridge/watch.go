package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"framebridge/client"
	"framebridge/config"
	"framebridge/endpoint"
	"framebridge/health"
	"framebridge/transport"
)

func runWatch(cfg *config.Config, logger *zap.Logger, url string, interval time.Duration) error {
	if interval <= 0 {
		interval = cfg.Health.Interval()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := client.New(client.Options{
		Endpoint:     []endpoint.Option{endpoint.WithCodec(cfg.RPC.CodecType())},
		SetupTimeout: cfg.RPC.SetupTimeout(),
		Health: &health.Config{
			Interval:   interval,
			Timeout:    cfg.Health.Timeout(),
			MaxRetries: cfg.Health.Retries(),
			RetryDelay: cfg.Health.RetryDelay(),
			OnChange: func(s health.Snapshot) {
				logger.Info("health changed",
					zap.String("target", s.Target),
					zap.Stringer("status", s.Status),
					zap.Int("failures", s.Failures),
					zap.Stringer("kind", s.LastKind),
					zap.Duration("avg_response", s.AverageResponse))
			},
		},
		HealthGrace: cfg.Health.Grace(),
		Origin:      cfg.Server.Origin,
		Logger:      logger,
	})
	defer mgr.Close()

	ws, err := transport.Dial(ctx, url, cfg.Server.Origin)
	if err != nil {
		return err
	}
	if _, err := mgr.Attach(ctx, url, ws, client.WithTargetOrigin(ws.Origin()), client.WithCloser(ws)); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-ws.Done():
		logger.Warn("connection closed", zap.Error(ws.Err()))
	}
	return nil
}
