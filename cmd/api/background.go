package main

import (
	"context"
	"time"
)

const janitorInterval = 30 * time.Minute

// startBackground runs the stats poller and the slot janitor until ctx is
// cancelled. run waits for both before returning.
func (app *application) startBackground(ctx context.Context) {
	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		app.stats.Run(ctx)
	}()
	go func() {
		defer app.wg.Done()
		app.runJanitor(ctx, janitorInterval)
	}()
}

func (app *application) runJanitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	// Run once immediately
	app.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.sweep(ctx)
		}
	}
}

// sweep drops abandoned checkout slots and idle rate limiter windows.
func (app *application) sweep(ctx context.Context) {
	before := time.Now().Add(-app.config.drafts.ttl)
	n, err := app.drafts.Expire(ctx, before)
	if err != nil {
		app.logger.Errorf("Error expiring checkout slots: %v", err)
	} else if n > 0 {
		app.logger.Infof("Expired %d checkout slots older than %s", n, before.Format(time.RFC1123))
	}

	if app.rateLimiter != nil {
		if dropped := app.rateLimiter.Sweep(); dropped > 0 {
			app.logger.Debugw("rate limiter windows swept", "count", dropped)
		}
	}
}
