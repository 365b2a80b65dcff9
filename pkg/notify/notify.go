// Package notify delivers game events to whatever presents them. Engines treat
// every call as fire-and-forget and only log failures.
package notify

import (
	"context"
	"errors"

	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/progression"
)

// ParticipantReward is what one fighter received when a boss fell.
type ParticipantReward struct {
	UserID    int64              `json:"user_id"`
	DiscordID string             `json:"discord_id"`
	Top       bool               `json:"top"`
	Reward    progression.Reward `json:"reward"`
	LeveledUp bool               `json:"leveled_up"`
	NewLevel  int                `json:"new_level"`
}

// BossOutcome describes a closed boss with its ranked fighters. Rewards is
// empty for a despawn.
type BossOutcome struct {
	Boss         entity.Boss          `json:"boss"`
	Participants []entity.Participant `json:"participants"`
	Rewards      []ParticipantReward  `json:"rewards,omitempty"`
}

// ChallengeClose reasons.
const (
	ReasonDeclined  = "declined"
	ReasonExpired   = "expired"
	ReasonCancelled = "cancelled"
)

type BossSink interface {
	// AnnounceBossSpawn posts the spawn and returns a reference used for later updates.
	AnnounceBossSpawn(ctx context.Context, server entity.Server, status entity.BossStatus) (string, error)
	UpdateBossNotification(ctx context.Context, ref string, snap entity.BossSnapshot) error
	AnnounceBossDefeat(ctx context.Context, out BossOutcome) error
	AnnounceBossDespawn(ctx context.Context, out BossOutcome) error
}

type ArenaSink interface {
	ChallengeIssued(ctx context.Context, c entity.Challenge) error
	ChallengeClosed(ctx context.Context, c entity.Challenge, reason string) error
	RenderArenaState(ctx context.Context, b entity.Battle, initial bool) error
	RenderBattleEnd(ctx context.Context, r entity.BattleResult) error
	BattleAbandoned(ctx context.Context, b entity.Battle) error
}

// Sink is both halves.
type Sink interface {
	BossSink
	ArenaSink
}

// Multi fans every event out to all sinks and joins their errors.
type Multi []Sink

var _ Sink = Multi(nil)

// AnnounceBossSpawn returns the first non-empty reference.
func (m Multi) AnnounceBossSpawn(ctx context.Context, server entity.Server, status entity.BossStatus) (string, error) {
	var (
		ref  string
		errs []error
	)
	for _, s := range m {
		r, err := s.AnnounceBossSpawn(ctx, server, status)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ref == "" {
			ref = r
		}
	}
	return ref, errors.Join(errs...)
}

func (m Multi) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) UpdateBossNotification(ctx context.Context, ref string, snap entity.BossSnapshot) error {
	return m.each(func(s Sink) error { return s.UpdateBossNotification(ctx, ref, snap) })
}

func (m Multi) AnnounceBossDefeat(ctx context.Context, out BossOutcome) error {
	return m.each(func(s Sink) error { return s.AnnounceBossDefeat(ctx, out) })
}

func (m Multi) AnnounceBossDespawn(ctx context.Context, out BossOutcome) error {
	return m.each(func(s Sink) error { return s.AnnounceBossDespawn(ctx, out) })
}

func (m Multi) ChallengeIssued(ctx context.Context, c entity.Challenge) error {
	return m.each(func(s Sink) error { return s.ChallengeIssued(ctx, c) })
}

func (m Multi) ChallengeClosed(ctx context.Context, c entity.Challenge, reason string) error {
	return m.each(func(s Sink) error { return s.ChallengeClosed(ctx, c, reason) })
}

func (m Multi) RenderArenaState(ctx context.Context, b entity.Battle, initial bool) error {
	return m.each(func(s Sink) error { return s.RenderArenaState(ctx, b, initial) })
}

func (m Multi) RenderBattleEnd(ctx context.Context, r entity.BattleResult) error {
	return m.each(func(s Sink) error { return s.RenderBattleEnd(ctx, r) })
}

func (m Multi) BattleAbandoned(ctx context.Context, b entity.Battle) error {
	return m.each(func(s Sink) error { return s.BattleAbandoned(ctx, b) })
}
