package server

import (
	"context"
	"log/slog"
	"time"

	"bountyboard/internal/engine"
)

// StartBackground launches the long-running workers that accompany the API:
// the webhook dispatcher, the bounty expiry sweeper and the registry
// refresh loop. All stop when ctx is cancelled.
func StartBackground(ctx context.Context, cfg Config) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	startWebhookDispatcher(ctx, cfg.Engine, cfg.Cfg.Webhooks.SigningSecret, cfg.Cfg.WebhookTimeout(), cfg.Log)
	go cfg.Registry.Run(ctx, cfg.Cfg.Registry.TTL())
	go runExpirySweeper(ctx, cfg.Engine, cfg.Cfg.ExpiryInterval(), cfg.Log)
}

func runExpirySweeper(ctx context.Context, e *engine.Engine, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.ExpireDue(ctx)
			if err != nil {
				log.Warn("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expired bounties cancelled", "count", n)
			}
		}
	}
}
