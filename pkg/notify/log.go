package notify

import (
	"context"

	"github.com/lithammer/shortuuid"
	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/logger"
)

// LogSink writes every event to the log. It is the fallback when no push
// channel is configured.
type LogSink struct {
	log *logger.Logger
}

var _ Sink = (*LogSink)(nil)

func NewLogSink() *LogSink {
	return &LogSink{log: logger.Named("notify")}
}

func (s *LogSink) AnnounceBossSpawn(_ context.Context, server entity.Server, status entity.BossStatus) (string, error) {
	ref := shortuuid.New()
	s.log.Info("%s appeared in %s with %d hp (ref %s)", status.Boss.Name, server.GuildID, status.Boss.MaxHealth, ref)
	return ref, nil
}

func (s *LogSink) UpdateBossNotification(_ context.Context, ref string, snap entity.BossSnapshot) error {
	st := snap.Status
	s.log.Debug("%s at %d%% with %dm left, %d fighters (ref %s)",
		st.Boss.Name, st.HealthPercent, st.MinutesRemaining, len(snap.Participants), ref)
	return nil
}

func (s *LogSink) AnnounceBossDefeat(_ context.Context, out BossOutcome) error {
	top := "nobody"
	if len(out.Participants) > 0 {
		top = out.Participants[0].Username
	}
	s.log.Info("%s defeated by %d fighters, top damage %s", out.Boss.Name, len(out.Participants), top)
	return nil
}

func (s *LogSink) AnnounceBossDespawn(_ context.Context, out BossOutcome) error {
	s.log.Info("%s escaped with %d/%d hp", out.Boss.Name, out.Boss.Health, out.Boss.MaxHealth)
	return nil
}

func (s *LogSink) ChallengeIssued(_ context.Context, c entity.Challenge) error {
	s.log.Info("%s challenged %s", c.ChallengerName, c.OpponentName)
	return nil
}

func (s *LogSink) ChallengeClosed(_ context.Context, c entity.Challenge, reason string) error {
	s.log.Info("challenge %s -> %s %s", c.ChallengerName, c.OpponentName, reason)
	return nil
}

func (s *LogSink) RenderArenaState(_ context.Context, b entity.Battle, initial bool) error {
	if initial {
		s.log.Info("battle started: %s vs %s", b.Challenger.Name, b.Opponent.Name)
		return nil
	}
	s.log.Debug("round %d: %s %d hp, %s %d hp",
		b.Round, b.Challenger.Name, b.Challenger.Health, b.Opponent.Name, b.Opponent.Health)
	return nil
}

func (s *LogSink) RenderBattleEnd(_ context.Context, r entity.BattleResult) error {
	s.log.Info("%s beat %s in %d rounds (+%d currency, +%d gems, +%d exp)",
		r.Winner.Name, r.Loser.Name, r.Rounds, r.Currency, r.Gems, r.Experience)
	return nil
}

func (s *LogSink) BattleAbandoned(_ context.Context, b entity.Battle) error {
	s.log.Info("battle %s vs %s abandoned at round %d", b.Challenger.Name, b.Opponent.Name, b.Round)
	return nil
}
