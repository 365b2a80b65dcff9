package boss

import (
	"context"
	"errors"
	"time"

	"github.com/sonastea/questbot/pkg/repository"
)

// Start arms the spawn scheduler and the notification refresh loop. Timer
// callbacks run with ctx until Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.runCtx = ctx
	e.running = true
	e.mu.Unlock()

	if err := e.ScheduleNext(ctx); err != nil {
		log.Error("Initial boss scheduling failed: %v", err)
	}
	e.armRefresh()
}

// Stop cancels both timers. Callbacks already running finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.refresh != nil {
		e.refresh.Stop()
		e.refresh = nil
	}
}

// ScheduleNext decides when the scheduler should next wake:
//   - an open, unexpired boss: at its expiry plus the cooldown
//   - an open boss at zero health: pay out its defeat now, then continue
//   - an open, expired boss: despawn it now, then continue
//   - spawn cooldown still running: when it elapses
//   - otherwise: a random delay in [MinDelay, MaxDelay], then spawn
//
// Any storage failure re-arms a retry so the world never stalls.
func (e *Engine) ScheduleNext(ctx context.Context) error {
	now := e.clock.Now()

	open, err := e.store.FindOpenBoss(ctx)
	switch {
	case err == nil:
		if open.Health > 0 && !open.Expired(now) {
			e.arm(open.ExpiresAt.Sub(now)+e.cfg.Cooldown, e.onTick)
			return nil
		}
		if err := e.finish(ctx, open); err != nil {
			e.arm(e.cfg.RetryDelay, e.onTick)
			return err
		}
	case !errors.Is(err, repository.ErrNotFound):
		e.arm(e.cfg.RetryDelay, e.onTick)
		return err
	}

	last, ok, err := e.store.LastSpawnAt(ctx)
	if err != nil {
		e.arm(e.cfg.RetryDelay, e.onTick)
		return err
	}
	if ok {
		if wait := last.Add(e.cfg.Cooldown).Sub(now); wait > 0 {
			e.arm(wait, e.onTick)
			return nil
		}
	}

	delay := e.spawnDelay()
	log.Debug("Next boss spawn in %s", delay)
	e.arm(delay, e.onSpawn)
	return nil
}

func (e *Engine) spawnDelay() time.Duration {
	window := int64(e.cfg.MaxDelay - e.cfg.MinDelay)
	if window <= 0 {
		return e.cfg.MinDelay
	}
	return e.cfg.MinDelay + time.Duration(e.int64N(window+1))
}

// arm replaces the single scheduler timer.
func (e *Engine) arm(d time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = e.clock.AfterFunc(d, fn)
}

// reschedule re-runs ScheduleNext when the engine is running.
func (e *Engine) reschedule(ctx context.Context) {
	if _, ok := e.liveContext(); !ok {
		return
	}
	if err := e.ScheduleNext(ctx); err != nil {
		log.Error("Failed to reschedule boss spawn: %v", err)
	}
}

func (e *Engine) liveContext() (context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.runCtx.Err() != nil {
		return nil, false
	}
	return e.runCtx, true
}

func (e *Engine) onTick() {
	ctx, ok := e.liveContext()
	if !ok {
		return
	}
	if err := e.ScheduleNext(ctx); err != nil {
		log.Error("Boss scheduling failed, retrying in %s: %v", e.cfg.RetryDelay, err)
	}
}

func (e *Engine) onSpawn() {
	ctx, ok := e.liveContext()
	if !ok {
		return
	}
	if _, err := e.SpawnBoss(ctx); err != nil {
		switch {
		case errors.Is(err, ErrNoServers):
			log.Debug("No servers opted in, skipping spawn")
		case errors.Is(err, ErrBossActive):
			log.Debug("Boss already active, skipping spawn")
		default:
			log.Error("Boss spawn failed, retrying in %s: %v", e.cfg.RetryDelay, err)
			e.arm(e.cfg.RetryDelay, e.onTick)
			return
		}
	}
	if err := e.ScheduleNext(ctx); err != nil {
		log.Error("Boss scheduling failed: %v", err)
	}
}

func (e *Engine) armRefresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if e.refresh != nil {
		e.refresh.Stop()
	}
	e.refresh = e.clock.AfterFunc(e.cfg.RefreshInterval, e.onRefresh)
}

func (e *Engine) onRefresh() {
	ctx, ok := e.liveContext()
	if !ok {
		return
	}
	if err := e.RefreshNotification(ctx); err != nil {
		log.Warn("Boss refresh failed: %v", err)
	}
	e.armRefresh()
}
