package authkit

import (
	"context"
	"log"
	"sync"
	"time"
)

// janitor runs the periodic sweeps: pruning session and refresh index
// entries whose records have TTL-expired, and dropping stale in-memory
// rate windows. Sweep failures are logged and retried next tick, never
// fatal.
type janitor struct {
	engine *Engine

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func startJanitor(e *Engine) *janitor {
	j := &janitor{
		engine: e,
		done:   make(chan struct{}),
	}

	j.spawn(e.config.Session.SweepInterval, j.sweepSessions)
	j.spawn(e.config.Refresh.SweepInterval, j.sweepRefresh)
	j.spawn(e.config.Token.BlacklistSweepInterval, j.sweepBlacklist)
	j.spawn(e.config.Csrf.SweepInterval, j.sweepCsrf)
	if e.limiterMemory != nil {
		j.spawn(e.config.RateLimit.SweepInterval, j.sweepLimiter)
	}

	return j
}

func (j *janitor) spawn(interval time.Duration, sweep func()) {
	if interval <= 0 {
		return
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sweep()
			case <-j.done:
				return
			}
		}
	}()
}

func (j *janitor) sweepSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), j.engine.config.Security.StoreTimeout)
	defer cancel()

	if _, err := j.engine.sessions.SweepExpired(ctx); err != nil {
		log.Printf("authkit: session sweep failed: %v", err)
	}
}

func (j *janitor) sweepRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), j.engine.config.Security.StoreTimeout)
	defer cancel()

	if _, err := j.engine.refreshTokens.Sweep(ctx); err != nil {
		log.Printf("authkit: refresh sweep failed: %v", err)
	}
}

func (j *janitor) sweepBlacklist() {
	ctx, cancel := context.WithTimeout(context.Background(), j.engine.config.Security.StoreTimeout)
	defer cancel()

	if _, err := j.engine.blacklist.Sweep(ctx); err != nil {
		log.Printf("authkit: blacklist sweep failed: %v", err)
	}
}

func (j *janitor) sweepCsrf() {
	ctx, cancel := context.WithTimeout(context.Background(), j.engine.config.Security.StoreTimeout)
	defer cancel()

	if _, err := j.engine.csrf.Sweep(ctx); err != nil {
		log.Printf("authkit: csrf sweep failed: %v", err)
	}
}

func (j *janitor) sweepLimiter() {
	j.engine.limiterMemory.Sweep()
}

func (j *janitor) stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
	})
}
