package main

import (
	"context"
	"log/slog"
	"time"
)

type sessionPurger interface {
	PurgeExpired() error
}

// startSessionPurgeWorker sweeps expired sessions on an interval until the
// context is cancelled. The returned function blocks until the worker exits.
func startSessionPurgeWorker(ctx context.Context, logger *slog.Logger, sessions sessionPurger, interval time.Duration) func() {
	if sessions == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if err := sessions.PurgeExpired(); err != nil && logger != nil {
					logger.Warn("session purge failed", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
