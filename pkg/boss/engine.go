// Package boss runs the shared world boss: spawn scheduling, attacks, the
// single defeat claim and reward fan-out, and despawn of expired bosses.
package boss

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sonastea/questbot/pkg/catalog"
	"github.com/sonastea/questbot/pkg/clock"
	"github.com/sonastea/questbot/pkg/config"
	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/gameerr"
	"github.com/sonastea/questbot/pkg/logger"
	"github.com/sonastea/questbot/pkg/notify"
	"github.com/sonastea/questbot/pkg/repository"
	"github.com/sonastea/questbot/pkg/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNoActiveBoss    = gameerr.New("no_active_boss", "there is no boss to fight right now")
	ErrBossActive      = gameerr.New("boss_active", "a boss is already roaming")
	ErrAttackCooldown  = gameerr.New("attack_cooldown", "you need to catch your breath before attacking again")
	ErrTraveling       = gameerr.New("traveling", "you can't fight while traveling")
	ErrInvalidDamage   = gameerr.New("invalid_damage", "damage must be positive")
	ErrUnknownTemplate = gameerr.New("unknown_boss", "unknown boss type")
	ErrUnknownServer   = gameerr.New("unknown_server", "that server is not registered")

	// ErrNoServers means no guild has opted in; the scheduler just waits.
	ErrNoServers = errors.New("no servers have bosses enabled")
)

var log = logger.Named("boss")

// Store is the persistence the engine needs.
type Store interface {
	repository.UserRepository
	repository.ServerRepository
	repository.BossRepository
}

// Scorer records leaderboard points.
type Scorer interface {
	AddScore(ctx context.Context, userID int64, points int64, at time.Time) error
}

// Rand is the subset of math/rand/v2 the engine draws from.
type Rand interface {
	IntN(n int) int
	Int64N(n int64) int64
	Float64() float64
}

type globalRand struct{}

func (globalRand) IntN(n int) int       { return rand.Intn(n) }
func (globalRand) Int64N(n int64) int64 { return rand.Int63n(n) }
func (globalRand) Float64() float64     { return rand.Float64() }

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRand replaces the random source. It does not need to be safe for
// concurrent use.
func WithRand(r Rand) Option {
	return func(e *Engine) { e.rand = r }
}

type Engine struct {
	store   Store
	catalog *catalog.Catalog
	sink    notify.BossSink
	scores  Scorer
	cfg     config.BossConfig
	clock   clock.Clock
	tracer  trace.Tracer

	randMu sync.Mutex
	rand   Rand

	// last attack time per discord id
	cooldowns *session.Registry[string, time.Time]

	mu      sync.Mutex
	runCtx  context.Context
	running bool
	timer   clock.Timer
	refresh clock.Timer
}

func New(store Store, cat *catalog.Catalog, sink notify.BossSink, scores Scorer, cfg config.BossConfig, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		catalog: cat,
		sink:    sink,
		scores:  scores,
		cfg:     cfg,
		clock:   clock.Real{},
		rand:    globalRand{},
		tracer:  otel.Tracer("github.com/sonastea/questbot/pkg/boss"),
		runCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cooldowns = session.NewRegistry[string, time.Time](e.clock)
	return e
}

func (e *Engine) intN(n int) int {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.IntN(n)
}

func (e *Engine) int64N(n int64) int64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Int64N(n)
}

func (e *Engine) float64() float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Float64()
}

// Status derives the player-facing view of b at now.
func (e *Engine) Status(b entity.Boss, now time.Time) entity.BossStatus {
	return entity.StatusOf(b, now)
}

// ActiveStatus returns the open, unexpired boss with its ranked fighters.
func (e *Engine) ActiveStatus(ctx context.Context) (*entity.BossSnapshot, error) {
	now := e.clock.Now()
	b, err := e.store.FindActiveBoss(ctx, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveBoss
		}
		return nil, err
	}
	return e.snapshot(ctx, *b, now)
}

func (e *Engine) snapshot(ctx context.Context, b entity.Boss, now time.Time) (*entity.BossSnapshot, error) {
	parts, err := e.store.GetParticipantsRanked(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	return &entity.BossSnapshot{Status: e.Status(b, now), Participants: parts}, nil
}

// History returns the most recent bosses, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]entity.Boss, error) {
	if limit <= 0 {
		limit = 10
	}
	return e.store.RecentBosses(ctx, limit)
}

func (e *Engine) spawn(ctx context.Context, server entity.Server, tmpl catalog.BossTemplate) (*entity.Boss, error) {
	now := e.clock.Now()
	b := &entity.Boss{
		Type:           tmpl.ID,
		Name:           tmpl.Name,
		ServerID:       server.GuildID,
		Health:         tmpl.MaxHealth,
		MaxHealth:      tmpl.MaxHealth,
		RewardCurrency: tmpl.RewardCurrency,
		RewardGems:     tmpl.RewardGems,
		SpawnedAt:      now,
		ExpiresAt:      now.Add(e.cfg.SpawnDuration),
	}
	if err := e.store.CreateBoss(ctx, b); err != nil {
		if errors.Is(err, repository.ErrBossActive) {
			return nil, ErrBossActive
		}
		return nil, err
	}
	log.Info("Spawned %s (#%d) in %s until %s", b.Name, b.ID, b.ServerID, b.ExpiresAt.Format(time.RFC3339))

	ref, err := e.sink.AnnounceBossSpawn(ctx, server, e.Status(*b, now))
	if err != nil {
		log.Warn("Failed to announce boss #%d: %v", b.ID, err)
	}
	if ref != "" {
		if err := e.store.SetBossMessageRef(ctx, b.ID, ref); err != nil {
			log.Warn("Failed to store message ref for boss #%d: %v", b.ID, err)
		} else {
			b.MessageRef = ref
		}
	}
	return b, nil
}

// SpawnBoss creates a random boss on a random opted-in server.
func (e *Engine) SpawnBoss(ctx context.Context) (*entity.Boss, error) {
	ctx, span := e.tracer.Start(ctx, "boss.spawn")
	defer span.End()

	servers, err := e.store.ListOptedInServers(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	server := servers[e.intN(len(servers))]

	e.randMu.Lock()
	tmpl := e.catalog.RandomBoss(e.rand)
	e.randMu.Unlock()

	b, err := e.spawn(ctx, server, tmpl)
	if err != nil {
		span.RecordError(err)
	}
	return b, err
}

// ForceSpawn spawns templateID (random when empty) on guildID, closing an
// expired or felled leftover first, then re-arms the scheduler.
func (e *Engine) ForceSpawn(ctx context.Context, guildID, templateID string) (*entity.Boss, error) {
	server, err := e.store.GetServer(ctx, guildID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownServer
		}
		return nil, err
	}

	var tmpl catalog.BossTemplate
	if templateID == "" {
		e.randMu.Lock()
		tmpl = e.catalog.RandomBoss(e.rand)
		e.randMu.Unlock()
	} else {
		var ok bool
		if tmpl, ok = e.catalog.Boss(templateID); !ok {
			return nil, ErrUnknownTemplate
		}
	}

	if open, err := e.store.FindOpenBoss(ctx); err == nil {
		if open.Health > 0 && !open.Expired(e.clock.Now()) {
			return nil, ErrBossActive
		}
		if err := e.finish(ctx, open); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	b, err := e.spawn(ctx, *server, tmpl)
	if err != nil {
		return nil, err
	}
	e.reschedule(ctx)
	return b, nil
}

// ForceClear closes the open boss without rewards, unless it was already
// brought to zero, in which case its fighters are paid as for any defeat.
// Pending timers that later look for it find nothing and do nothing.
func (e *Engine) ForceClear(ctx context.Context) (*entity.Boss, error) {
	open, err := e.store.FindOpenBoss(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveBoss
		}
		return nil, err
	}
	if open.Health <= 0 {
		if _, _, err := e.claimDefeat(ctx, open); err != nil {
			return nil, err
		}
	} else if err := e.close(ctx, open); err != nil {
		return nil, err
	}
	log.Info("Force cleared %s (#%d)", open.Name, open.ID)
	e.reschedule(ctx)
	return open, nil
}

// finish closes an open boss that is expired or already at zero. A boss
// brought to zero is a defeat whose claim never ran, so its fighters are paid.
func (e *Engine) finish(ctx context.Context, b *entity.Boss) error {
	if b.Health <= 0 {
		_, _, err := e.claimDefeat(ctx, b)
		return err
	}
	return e.DespawnExpired(ctx, b)
}

// DespawnExpired closes b if its window has passed. It issues no rewards but
// still surfaces the ranked fighters. Closing an already closed boss is a no-op.
func (e *Engine) DespawnExpired(ctx context.Context, b *entity.Boss) error {
	if !b.Expired(e.clock.Now()) {
		return nil
	}
	if err := e.close(ctx, b); err != nil {
		return err
	}
	log.Info("%s (#%d) despawned with %d/%d hp", b.Name, b.ID, b.Health, b.MaxHealth)
	return nil
}

func (e *Engine) close(ctx context.Context, b *entity.Boss) error {
	now := e.clock.Now()
	claimed, err := e.store.MarkBossDefeated(ctx, b.ID, now)
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug("Boss #%d was already closed", b.ID)
		return nil
	}
	b.Defeated = true
	b.DefeatedAt = &now

	parts, err := e.store.GetParticipantsRanked(ctx, b.ID)
	if err != nil {
		log.Warn("Failed to rank fighters of boss #%d: %v", b.ID, err)
	}
	if err := e.sink.AnnounceBossDespawn(ctx, notify.BossOutcome{Boss: *b, Participants: parts}); err != nil {
		log.Warn("Failed to announce despawn of boss #%d: %v", b.ID, err)
	}
	return nil
}

// RefreshNotification pushes the current snapshot of the open boss. It also
// closes a boss whose window passed and finishes a defeat whose claim never
// ran, so either is picked up within one refresh interval.
func (e *Engine) RefreshNotification(ctx context.Context) error {
	open, err := e.store.FindOpenBoss(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	now := e.clock.Now()
	if open.Health <= 0 {
		_, _, err := e.resolveDefeat(ctx, open)
		return err
	}
	if open.Expired(now) {
		if err := e.DespawnExpired(ctx, open); err != nil {
			return err
		}
		e.reschedule(ctx)
		return nil
	}

	snap, err := e.snapshot(ctx, *open, now)
	if err != nil {
		return err
	}
	if err := e.sink.UpdateBossNotification(ctx, open.MessageRef, *snap); err != nil {
		log.Warn("Failed to refresh boss #%d notification: %v", open.ID, err)
	}
	return nil
}
