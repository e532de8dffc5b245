package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RunEvery runs the pipeline immediately and then once per interval until ctx ends. A run
// still in progress when the ticker fires is not overlapped.
func (p *Pipeline) RunEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	p.log.Info("Pipeline scheduler started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Run(ctx); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				p.log.Warn("Skipping scheduled run, previous run still active")
			} else if ctx.Err() == nil {
				p.log.Error("Scheduled pipeline run failed", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			p.log.Info("Pipeline scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
