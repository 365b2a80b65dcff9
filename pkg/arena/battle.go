package arena

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/progression"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// battle wraps the shared state of one duel. mu serializes every action on
// it, including settlement storage, so a battle settles at most once.
type battle struct {
	key string

	mu    sync.Mutex
	state entity.Battle
	// settling is set once a winner is known. done is set after the
	// settlement is stored or the battle is abandoned.
	settling bool
	done     bool
	forfeit  bool
	winner   entity.Combatant
	loser    entity.Combatant
	// lastAction is when a turn was last accepted.
	lastAction time.Time
}

// involves reads only the ids, which never change after creation.
func (b *battle) involves(discordID string) bool {
	return b.state.Challenger.DiscordID == discordID || b.state.Opponent.DiscordID == discordID
}

func (b *battle) view() entity.Battle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyLocked()
}

func (b *battle) copyLocked() entity.Battle {
	v := b.state
	v.Log = slices.Clone(b.state.Log)
	return v
}

// sides returns the turn holder and the other combatant.
func (b *battle) sides() (attacker, defender *entity.Combatant) {
	if b.state.Turn == b.state.Challenger.DiscordID {
		return &b.state.Challenger, &b.state.Opponent
	}
	return &b.state.Opponent, &b.state.Challenger
}

func (b *battle) record(line string, limit int) {
	b.state.Log = append(b.state.Log, line)
	if over := len(b.state.Log) - limit; limit > 0 && over > 0 {
		b.state.Log = slices.Delete(b.state.Log, 0, over)
	}
}

// hitDamage is the attack minus half the defense (rounded down), at least 1,
// doubled on a crit.
func hitDamage(attack, defense int, crit bool) int {
	dmg := max(1, attack-defense/2)
	if crit {
		dmg *= 2
	}
	return dmg
}

// AttackResult is one resolved action. Result is set when the battle ended.
type AttackResult struct {
	Battle entity.Battle        `json:"battle"`
	Damage int                  `json:"damage"`
	Crit   bool                 `json:"crit"`
	Result *entity.BattleResult `json:"result,omitempty"`
}

// Attack resolves the turn holder's strike. A strike that drops the defender to
// zero settles the battle; if settlement storage fails the battle stays put and
// the same player can attack again to retry it.
func (e *Engine) Attack(ctx context.Context, key, actingID string) (*AttackResult, error) {
	ctx, span := e.tracer.Start(ctx, "arena.attack", trace.WithAttributes(
		attribute.String("arena.battle", key),
	))
	defer span.End()

	b, ok := e.battles.Get(key)
	if !ok {
		return nil, ErrBattleNotFound
	}
	res, err := e.strike(ctx, b, actingID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	e.render(ctx, res)
	return res, nil
}

func (e *Engine) strike(ctx context.Context, b *battle, actingID string) (*AttackResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return nil, ErrBattleNotFound
	}
	if b.state.Turn != actingID {
		return nil, ErrNotYourTurn
	}
	b.lastAction = e.clock.Now()
	if b.settling {
		result, err := e.settle(ctx, b)
		if err != nil {
			return nil, err
		}
		return &AttackResult{Battle: b.copyLocked(), Result: result}, nil
	}

	attacker, defender := b.sides()
	crit := e.float64()*100 < attacker.CritChance
	dmg := hitDamage(attacker.Attack, defender.Defense, crit)
	defender.Health = max(0, defender.Health-dmg)

	line := fmt.Sprintf("Round %d: %s hits %s for %d", b.state.Round, attacker.Name, defender.Name, dmg)
	if crit {
		line += " (critical)"
	}
	b.record(line, e.cfg.LogLimit)
	e.battles.Touch(b.key, e.cfg.BattleIdle)

	res := &AttackResult{Damage: dmg, Crit: crit}
	if defender.Health == 0 {
		b.settling = true
		b.winner, b.loser = *attacker, *defender
		result, err := e.settle(ctx, b)
		if err != nil {
			return nil, err
		}
		res.Result = result
		res.Battle = b.copyLocked()
		return res, nil
	}

	b.state.Turn = defender.DiscordID
	b.state.Round++
	res.Battle = b.copyLocked()
	return res, nil
}

// Forfeit ends the battle in the other combatant's favour with the usual
// settlement. Once a winner is known it only retries the settlement.
func (e *Engine) Forfeit(ctx context.Context, key, actingID string) (*entity.BattleResult, error) {
	b, ok := e.battles.Get(key)
	if !ok {
		return nil, ErrBattleNotFound
	}
	res, err := e.forfeit(ctx, b, actingID)
	if err != nil {
		return nil, err
	}
	e.render(ctx, res)
	return res.Result, nil
}

func (e *Engine) forfeit(ctx context.Context, b *battle, actingID string) (*AttackResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return nil, ErrBattleNotFound
	}
	if !b.involves(actingID) {
		return nil, ErrNotCombatant
	}
	if !b.settling {
		b.settling, b.forfeit = true, true
		if actingID == b.state.Challenger.DiscordID {
			b.winner, b.loser = b.state.Opponent, b.state.Challenger
		} else {
			b.winner, b.loser = b.state.Challenger, b.state.Opponent
		}
		b.record(fmt.Sprintf("%s forfeits", b.loser.Name), e.cfg.LogLimit)
	}

	result, err := e.settle(ctx, b)
	if err != nil {
		return nil, err
	}
	return &AttackResult{Battle: b.copyLocked(), Result: result}, nil
}

// settle stores the outcome, then drops the battle. b.mu must be held.
func (e *Engine) settle(ctx context.Context, b *battle) (*entity.BattleResult, error) {
	now := e.clock.Now()
	reward := progression.PvPReward(b.loser.Level)
	m := &entity.Match{
		WinnerID:  b.winner.UserID,
		LoserID:   b.loser.UserID,
		Rounds:    b.state.Round,
		Forfeit:   b.forfeit,
		CreatedAt: now,
	}
	out, err := e.store.SettlePvP(ctx, m, reward)
	if err != nil {
		log.Error("Failed to settle battle %s: %v", b.key, err)
		return nil, err
	}
	b.done = true
	e.battles.Delete(b.key)

	if e.scores != nil {
		if err := e.scores.AddScore(ctx, b.winner.UserID, reward.Experience, now); err != nil {
			log.Warn("Failed to score battle %s for %s: %v", b.key, b.winner.Name, err)
		}
	}
	log.Info("Battle %s won by %s in %d rounds", b.key, b.winner.Name, b.state.Round)

	return &entity.BattleResult{
		Winner:     b.winner,
		Loser:      b.loser,
		Rounds:     b.state.Round,
		Currency:   reward.Currency,
		Gems:       reward.Gems,
		Experience: reward.Experience,
		LeveledUp:  out.LeveledUp,
		NewLevel:   out.State.Level,
		Forfeit:    b.forfeit,
	}, nil
}

func (e *Engine) render(ctx context.Context, res *AttackResult) {
	var err error
	if res.Result != nil {
		err = e.sink.RenderBattleEnd(ctx, *res.Result)
	} else {
		err = e.sink.RenderArenaState(ctx, res.Battle, false)
	}
	if err != nil {
		log.Warn("Failed to render battle update: %v", err)
	}
}

// onBattleIdle runs after a battle saw no action for the idle window. A battle
// that already has a winner gets one last settlement attempt.
func (e *Engine) onBattleIdle(key string, b *battle) {
	ctx := context.Background()

	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	// a turn taken while this timer was already firing keeps the battle alive
	if idle := e.clock.Now().Sub(b.lastAction); idle < e.cfg.BattleIdle &&
		e.battles.PutIfAbsent(key, b, e.cfg.BattleIdle-idle) {
		b.mu.Unlock()
		log.Debug("Battle %s moved during eviction, keeping it", key)
		return
	}
	if b.settling {
		result, err := e.settle(ctx, b)
		b.mu.Unlock()
		if err != nil {
			log.Error("Dropping unsettled battle %s: %v", key, err)
			return
		}
		e.render(ctx, &AttackResult{Result: result})
		return
	}
	b.done = true
	view := b.copyLocked()
	b.mu.Unlock()

	log.Info("Battle %s abandoned after %s idle", key, e.cfg.BattleIdle)
	if err := e.sink.BattleAbandoned(ctx, view); err != nil {
		log.Warn("Failed to announce abandoned battle %s: %v", key, err)
	}
}
