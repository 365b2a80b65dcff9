package boss

import (
	"context"
	"errors"
	"math"

	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/gameerr"
	"github.com/sonastea/questbot/pkg/notify"
	"github.com/sonastea/questbot/pkg/progression"
	"github.com/sonastea/questbot/pkg/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AttackResult is the view returned to the attacker. ClaimedDefeat is true
// only for the one caller whose hit performed the defeat transition.
type AttackResult struct {
	Damage        int                 `json:"damage"`
	Crit          bool                `json:"crit"`
	Status        entity.BossStatus   `json:"status"`
	Defeated      bool                `json:"defeated"`
	ClaimedDefeat bool                `json:"claimed_defeat"`
	Outcome       *notify.BossOutcome `json:"outcome,omitempty"`
}

// damage variance is +/-20% around the attack stat
const variance = 0.2

// Attack is the player entry point: resolve the user, enforce the attack
// cooldown, roll damage from the gear-adjusted attack and hit the active boss.
func (e *Engine) Attack(ctx context.Context, actor entity.Actor) (*AttackResult, error) {
	ctx, span := e.tracer.Start(ctx, "boss.attack", trace.WithAttributes(
		attribute.String("discord.user", actor.DiscordID),
	))
	defer span.End()

	u, err := e.store.EnsureUser(ctx, actor.DiscordID, actor.Username, actor.IsBot)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := e.clock.Now()
	if u.IsTraveling(now) {
		return nil, ErrTraveling
	}

	active, err := e.store.FindActiveBoss(ctx, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveBoss
		}
		span.RecordError(err)
		return nil, err
	}

	if e.cfg.AttackCooldown > 0 && !e.cooldowns.PutIfAbsent(actor.DiscordID, now, e.cfg.AttackCooldown) {
		return nil, ErrAttackCooldown
	}

	loadout := e.catalog.Loadout(u)
	roll := 1 - variance + 2*variance*e.float64()
	dmg := max(1, int(math.Round(float64(loadout.Attack)*roll)))
	crit := e.float64()*100 < loadout.CritChance
	if crit {
		dmg *= 2
	}

	res, err := e.Hit(ctx, active.ID, u.ID, dmg)
	if err != nil {
		if gameerr.IsValidation(err) {
			// the swing never landed, so it does not cost a cooldown
			e.cooldowns.Delete(actor.DiscordID)
		}
		span.RecordError(err)
		return nil, err
	}
	res.Crit = crit
	span.SetAttributes(attribute.Int("boss.damage", dmg), attribute.Bool("boss.defeated", res.Defeated))
	return res, nil
}

// ApplyDamage lowers the boss health by amount, floored at zero, and records
// the participant. The boss must be open and unexpired.
func (e *Engine) ApplyDamage(ctx context.Context, bossID, userID int64, amount int) (*entity.Boss, error) {
	if amount <= 0 {
		return nil, ErrInvalidDamage
	}
	b, err := e.store.RecordAttack(ctx, bossID, userID, amount, e.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveBoss
		}
		return nil, err
	}
	return b, nil
}

// Hit applies damage and, when the boss reaches zero, races for the defeat
// claim. Losing the race is not an error: the result shows the boss defeated
// without the outcome.
func (e *Engine) Hit(ctx context.Context, bossID, userID int64, amount int) (*AttackResult, error) {
	b, err := e.ApplyDamage(ctx, bossID, userID, amount)
	if err != nil {
		return nil, err
	}

	res := &AttackResult{Damage: amount}
	if b.Health <= 0 && !b.Defeated {
		claimed, out, err := e.resolveDefeat(ctx, b)
		if err != nil {
			return nil, err
		}
		res.ClaimedDefeat = claimed
		res.Outcome = out
		b.Defeated = true
	}
	res.Defeated = b.Defeated
	res.Status = e.Status(*b, e.clock.Now())
	return res, nil
}

// resolveDefeat claims the defeat of b and re-arms the scheduler when this
// caller won the claim.
func (e *Engine) resolveDefeat(ctx context.Context, b *entity.Boss) (bool, *notify.BossOutcome, error) {
	claimed, out, err := e.claimDefeat(ctx, b)
	if claimed {
		e.reschedule(ctx)
	}
	return claimed, out, err
}

// claimDefeat performs the conditional defeat claim. Only the caller whose
// claim succeeds ranks the fighters and pays them out; the top damage dealer
// alone gets the multiplier.
func (e *Engine) claimDefeat(ctx context.Context, b *entity.Boss) (bool, *notify.BossOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "boss.resolve_defeat", trace.WithAttributes(
		attribute.Int64("boss.id", b.ID),
	))
	defer span.End()

	now := e.clock.Now()
	claimed, err := e.store.MarkBossDefeated(ctx, b.ID, now)
	if err != nil {
		span.RecordError(err)
		return false, nil, err
	}
	if !claimed {
		return false, nil, nil
	}
	b.Defeated = true
	b.DefeatedAt = &now

	parts, err := e.store.GetParticipantsRanked(ctx, b.ID)
	if err != nil {
		// the boss is closed either way; fighters go unpaid rather than paid twice
		log.Error("Failed to rank fighters of boss #%d: %v", b.ID, err)
		span.RecordError(err)
		return true, nil, err
	}

	out := &notify.BossOutcome{Boss: *b, Participants: parts}
	for i, p := range parts {
		top := i == 0
		r := progression.BossReward(b.RewardCurrency, b.RewardGems, b.MaxHealth, top, e.cfg.TopMultiplier)
		applied, err := e.store.ApplyReward(ctx, p.UserID, r)
		if err != nil {
			log.Error("Failed to reward user %d for boss #%d: %v", p.UserID, b.ID, err)
			continue
		}
		if e.scores != nil {
			if err := e.scores.AddScore(ctx, p.UserID, r.Experience, now); err != nil {
				log.Warn("Failed to score user %d for boss #%d: %v", p.UserID, b.ID, err)
			}
		}
		out.Rewards = append(out.Rewards, notify.ParticipantReward{
			UserID:    p.UserID,
			DiscordID: p.DiscordID,
			Top:       top,
			Reward:    r,
			LeveledUp: applied.LeveledUp,
			NewLevel:  applied.State.Level,
		})
	}
	log.Info("%s (#%d) defeated, %d fighters paid", b.Name, b.ID, len(out.Rewards))

	if err := e.sink.AnnounceBossDefeat(ctx, *out); err != nil {
		log.Warn("Failed to announce defeat of boss #%d: %v", b.ID, err)
	}
	return true, out, nil
}
