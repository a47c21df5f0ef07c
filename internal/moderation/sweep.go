package moderation

import (
	"context"
	"time"
)

// Sweep applies the decay rules eagerly: pattern severities unseen for the
// configured window lose a step, and every user whose escalation expiry has
// passed is decayed by one level so read-only queries see consistent state.
// The per-user rule is the same decayLocked the message path uses, so the
// two triggers can never disagree.
func (e *Engine) Sweep() (patternsDecayed, usersDecayed int) {
	now := e.now()
	patternsDecayed = e.patterns.DecaySweep(now)

	for _, rec := range e.store.all() {
		rec.mu.Lock()
		if rec.decayLocked(now) {
			usersDecayed++
		}
		rec.mu.Unlock()
	}

	e.metrics.sweepRuns.Inc()
	if patternsDecayed > 0 || usersDecayed > 0 {
		e.logger.Info("sweep: decay applied", "patterns", patternsDecayed, "users", usersDecayed)
		e.queuePersist()
	}
	return patternsDecayed, usersDecayed
}

// RunSweeper runs Sweep on a fixed interval until the context is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("sweep: started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sweep: stopped")
			return
		case <-ticker.C:
			e.Sweep()
			// scheduled snapshot, independent of whether anything decayed
			e.queuePersist()
		}
	}
}
