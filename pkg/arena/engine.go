// Package arena runs player duels: challenge negotiation, turn-based combat
// and settlement of the winner's rewards.
package arena

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
	ErrSelfChallenge     = gameerr.New("self_challenge", "you can't challenge yourself")
	ErrUnknownOpponent   = gameerr.New("unknown_opponent", "that player can't be challenged")
	ErrChallengerPvPOff  = gameerr.New("pvp_disabled", "you have PVP disabled")
	ErrOpponentPvPOff    = gameerr.New("opponent_pvp_disabled", "that player has PVP disabled")
	ErrTraveling         = gameerr.New("traveling", "one of you is traveling")
	ErrInBattle          = gameerr.New("in_battle", "one of you is already in a battle")
	ErrChallengePending  = gameerr.New("challenge_pending", "you already challenged that player")
	ErrChallengeNotFound = gameerr.New("challenge_not_found", "this challenge expired or no longer exists")
	ErrNotAuthorized     = gameerr.New("not_authorized", "this challenge isn't for you")
	ErrBattleNotFound    = gameerr.New("battle_not_found", "this battle is over or no longer exists")
	ErrNotYourTurn       = gameerr.New("not_your_turn", "it's not your turn")
	ErrNotCombatant      = gameerr.New("not_combatant", "you aren't part of this battle")
)

var log = logger.Named("arena")

// Store is the persistence the engine needs.
type Store interface {
	repository.UserRepository
	repository.MatchRepository
}

// Scorer records leaderboard points.
type Scorer interface {
	AddScore(ctx context.Context, userID int64, points int64, at time.Time) error
}

// Rand is the subset of math/rand/v2 the engine draws from.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRand replaces the crit roll source. It does not need to be safe for
// concurrent use.
func WithRand(r Rand) Option {
	return func(e *Engine) { e.rand = r }
}

type Engine struct {
	store   Store
	catalog *catalog.Catalog
	sink    notify.ArenaSink
	scores  Scorer
	cfg     config.ArenaConfig
	clock   clock.Clock
	tracer  trace.Tracer

	randMu sync.Mutex
	rand   Rand

	// guards the in-battle check and battle creation in Accept
	mu         sync.Mutex
	challenges *session.Registry[string, entity.Challenge]
	battles    *session.Registry[string, *battle]
}

func New(store Store, cat *catalog.Catalog, sink notify.ArenaSink, scores Scorer, cfg config.ArenaConfig, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		catalog: cat,
		sink:    sink,
		scores:  scores,
		cfg:     cfg,
		clock:   clock.Real{},
		rand:    globalRand{},
		tracer:  otel.Tracer("github.com/sonastea/questbot/pkg/arena"),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.challenges = session.NewRegistry[string, entity.Challenge](e.clock)
	e.challenges.OnExpire(e.onChallengeExpired)
	e.battles = session.NewRegistry[string, *battle](e.clock)
	e.battles.OnExpire(e.onBattleIdle)
	return e
}

// Key identifies a challenge, and the battle it turns into, by the ordered pair.
func Key(challengerID, opponentID string) string {
	return challengerID + ":" + opponentID
}

func (e *Engine) float64() float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Float64()
}

func (e *Engine) inBattle(discordID string) bool {
	_, _, ok := e.battles.Find(func(_ string, b *battle) bool {
		return b.involves(discordID)
	})
	return ok
}

// Challenge offers a duel from challenger to opponentID. The checks run in a
// fixed order and the first failure is returned.
func (e *Engine) Challenge(ctx context.Context, challenger entity.Actor, opponentID string) (*entity.Challenge, error) {
	ctx, span := e.tracer.Start(ctx, "arena.challenge")
	defer span.End()

	if challenger.DiscordID == opponentID {
		return nil, ErrSelfChallenge
	}

	opp, err := e.store.FindUser(ctx, opponentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownOpponent
		}
		span.RecordError(err)
		return nil, err
	}
	if opp.IsBot {
		return nil, ErrUnknownOpponent
	}

	me, err := e.store.EnsureUser(ctx, challenger.DiscordID, challenger.Username, challenger.IsBot)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !me.PvPEnabled {
		return nil, ErrChallengerPvPOff
	}
	if !opp.PvPEnabled {
		return nil, ErrOpponentPvPOff
	}

	now := e.clock.Now()
	if me.IsTraveling(now) || opp.IsTraveling(now) {
		return nil, ErrTraveling
	}
	if e.inBattle(me.DiscordID) || e.inBattle(opp.DiscordID) {
		return nil, ErrInBattle
	}

	c := entity.Challenge{
		ChallengerID:   me.DiscordID,
		ChallengerName: me.Username,
		OpponentID:     opp.DiscordID,
		OpponentName:   opp.Username,
		CreatedAt:      now,
	}
	if !e.challenges.PutIfAbsent(Key(c.ChallengerID, c.OpponentID), c, e.cfg.ChallengeTTL) {
		return nil, ErrChallengePending
	}
	log.Debug("%s challenged %s", c.ChallengerName, c.OpponentName)

	if err := e.sink.ChallengeIssued(ctx, c); err != nil {
		log.Warn("Failed to announce challenge %s: %v", Key(c.ChallengerID, c.OpponentID), err)
	}
	return &c, nil
}

// pending returns the challenge under key when actingID is its opponent.
func (e *Engine) pending(key, actingID string) (entity.Challenge, error) {
	c, ok := e.challenges.Get(key)
	if !ok {
		return c, ErrChallengeNotFound
	}
	if c.OpponentID != actingID {
		return c, ErrNotAuthorized
	}
	return c, nil
}

// Accept turns the challenge into a battle. Both fighters start at full
// health with their current gear, and the challenger moves first.
func (e *Engine) Accept(ctx context.Context, key, actingID string) (*entity.Battle, error) {
	ctx, span := e.tracer.Start(ctx, "arena.accept")
	defer span.End()

	c, err := e.pending(key, actingID)
	if err != nil {
		return nil, err
	}

	challenger, err := e.combatant(ctx, c.ChallengerID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	opponent, err := e.combatant(ctx, c.OpponentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.mu.Lock()
	if _, ok := e.challenges.Delete(key); !ok {
		e.mu.Unlock()
		return nil, ErrChallengeNotFound
	}
	if e.inBattle(c.ChallengerID) || e.inBattle(c.OpponentID) {
		e.mu.Unlock()
		return nil, ErrInBattle
	}
	b := &battle{
		key: key,
		state: entity.Battle{
			Challenger: challenger,
			Opponent:   opponent,
			Turn:       challenger.DiscordID,
			Round:      1,
			Log:        []string{},
			StartedAt:  e.clock.Now(),
		},
		lastAction: e.clock.Now(),
	}
	e.battles.Put(key, b, e.cfg.BattleIdle)
	e.mu.Unlock()

	view := b.view()
	log.Info("Battle %s started: %s vs %s", key, challenger.Name, opponent.Name)
	if err := e.sink.RenderArenaState(ctx, view, true); err != nil {
		log.Warn("Failed to render battle %s: %v", key, err)
	}
	return &view, nil
}

// Decline drops the challenge. Only its opponent may decline.
func (e *Engine) Decline(ctx context.Context, key, actingID string) error {
	c, err := e.pending(key, actingID)
	if err != nil {
		return err
	}
	if _, ok := e.challenges.Delete(key); !ok {
		return ErrChallengeNotFound
	}
	if err := e.sink.ChallengeClosed(ctx, c, notify.ReasonDeclined); err != nil {
		log.Warn("Failed to announce declined challenge %s: %v", key, err)
	}
	return nil
}

// Cancel withdraws a challenge the acting user issued.
func (e *Engine) Cancel(ctx context.Context, key, actingID string) error {
	c, ok := e.challenges.Get(key)
	if !ok {
		return ErrChallengeNotFound
	}
	if c.ChallengerID != actingID {
		return ErrNotAuthorized
	}
	if _, ok := e.challenges.Delete(key); !ok {
		return ErrChallengeNotFound
	}
	if err := e.sink.ChallengeClosed(ctx, c, notify.ReasonCancelled); err != nil {
		log.Warn("Failed to announce cancelled challenge %s: %v", key, err)
	}
	return nil
}

func (e *Engine) combatant(ctx context.Context, discordID string) (entity.Combatant, error) {
	u, err := e.store.FindUser(ctx, discordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return entity.Combatant{}, ErrUnknownOpponent
		}
		return entity.Combatant{}, err
	}
	l := e.catalog.Loadout(u)
	return entity.Combatant{
		DiscordID:  u.DiscordID,
		Name:       u.Username,
		UserID:     u.ID,
		Level:      u.Level,
		MaxHealth:  u.MaxHealth,
		Health:     u.MaxHealth,
		Attack:     l.Attack,
		Defense:    l.Defense,
		CritChance: l.CritChance,
	}, nil
}

// PendingFor lists the live challenges the user issued or received.
func (e *Engine) PendingFor(discordID string) []entity.Challenge {
	var out []entity.Challenge
	for _, c := range e.challenges.Values() {
		if c.ChallengerID == discordID || c.OpponentID == discordID {
			out = append(out, c)
		}
	}
	return out
}

// BattleFor returns the key and a copy of the battle the user is fighting in.
func (e *Engine) BattleFor(discordID string) (string, entity.Battle, bool) {
	key, b, ok := e.battles.Find(func(_ string, b *battle) bool {
		return b.involves(discordID)
	})
	if !ok {
		return "", entity.Battle{}, false
	}
	return key, b.view(), true
}

func (e *Engine) onChallengeExpired(key string, c entity.Challenge) {
	log.Debug("Challenge %s expired", key)
	if err := e.sink.ChallengeClosed(context.Background(), c, notify.ReasonExpired); err != nil {
		log.Warn("Failed to announce expired challenge %s: %v", key, err)
	}
}
