package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid"
	"github.com/redis/go-redis/v9"
	"github.com/sonastea/questbot/pkg/entity"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// DashboardChannel is the pub/sub channel the live dashboard listens on.
	DashboardChannel = "live.dashboard"
	// RedisKeyBossSnapshot holds the latest encoded boss event for late joiners.
	RedisKeyBossSnapshot = "live:boss"

	snapshotTTL = 2 * time.Hour
	closedTTL   = 10 * time.Minute
)

// Event types carried in the envelope.
const (
	EventBossSpawn       = "boss.spawn"
	EventBossUpdate      = "boss.update"
	EventBossDefeat      = "boss.defeat"
	EventBossDespawn     = "boss.despawn"
	EventChallengeIssued = "pvp.challenge"
	EventChallengeClosed = "pvp.challenge_closed"
	EventArenaState      = "pvp.state"
	EventBattleEnd       = "pvp.end"
	EventBattleAbandoned = "pvp.abandoned"
)

// Publisher pushes events to redis for the dashboard hub.
type Publisher struct {
	redis *redis.Client
	now   func() time.Time
}

var _ Sink = (*Publisher)(nil)

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{redis: rdb, now: time.Now}
}

// Encode wraps payload in a protobuf Struct envelope {type, ref, sent_at, payload}.
func Encode(eventType, ref string, sentAt time.Time, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", eventType, err)
	}

	envelope, err := structpb.NewStruct(map[string]any{
		"type":    eventType,
		"ref":     ref,
		"sent_at": sentAt.UTC().Format(time.RFC3339Nano),
		"payload": body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build %s envelope: %w", eventType, err)
	}

	wire, err := proto.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", eventType, err)
	}
	return wire, nil
}

// Decode is the inverse of Encode.
func Decode(wire []byte) (*structpb.Struct, error) {
	envelope := &structpb.Struct{}
	if err := proto.Unmarshal(wire, envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return envelope, nil
}

func (p *Publisher) publish(ctx context.Context, eventType, ref string, payload any) ([]byte, error) {
	wire, err := Encode(eventType, ref, p.now(), payload)
	if err != nil {
		return nil, err
	}
	if err := p.redis.Publish(ctx, DashboardChannel, wire).Err(); err != nil {
		return nil, fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return wire, nil
}

func (p *Publisher) publishSnapshot(ctx context.Context, eventType, ref string, payload any, ttl time.Duration) error {
	wire, err := p.publish(ctx, eventType, ref, payload)
	if err != nil {
		return err
	}
	if err := p.redis.Set(ctx, RedisKeyBossSnapshot, wire, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache boss snapshot: %w", err)
	}
	return nil
}

func (p *Publisher) AnnounceBossSpawn(ctx context.Context, server entity.Server, status entity.BossStatus) (string, error) {
	ref := shortuuid.New()
	payload := struct {
		Server entity.Server     `json:"server"`
		Status entity.BossStatus `json:"status"`
	}{server, status}
	if err := p.publishSnapshot(ctx, EventBossSpawn, ref, payload, snapshotTTL); err != nil {
		return "", err
	}
	return ref, nil
}

func (p *Publisher) UpdateBossNotification(ctx context.Context, ref string, snap entity.BossSnapshot) error {
	return p.publishSnapshot(ctx, EventBossUpdate, ref, snap, snapshotTTL)
}

func (p *Publisher) AnnounceBossDefeat(ctx context.Context, out BossOutcome) error {
	return p.publishSnapshot(ctx, EventBossDefeat, out.Boss.MessageRef, out, closedTTL)
}

func (p *Publisher) AnnounceBossDespawn(ctx context.Context, out BossOutcome) error {
	return p.publishSnapshot(ctx, EventBossDespawn, out.Boss.MessageRef, out, closedTTL)
}

func (p *Publisher) ChallengeIssued(ctx context.Context, c entity.Challenge) error {
	_, err := p.publish(ctx, EventChallengeIssued, "", c)
	return err
}

func (p *Publisher) ChallengeClosed(ctx context.Context, c entity.Challenge, reason string) error {
	payload := struct {
		Challenge entity.Challenge `json:"challenge"`
		Reason    string           `json:"reason"`
	}{c, reason}
	_, err := p.publish(ctx, EventChallengeClosed, "", payload)
	return err
}

func (p *Publisher) RenderArenaState(ctx context.Context, b entity.Battle, initial bool) error {
	payload := struct {
		Battle  entity.Battle `json:"battle"`
		Initial bool          `json:"initial"`
	}{b, initial}
	_, err := p.publish(ctx, EventArenaState, "", payload)
	return err
}

func (p *Publisher) RenderBattleEnd(ctx context.Context, r entity.BattleResult) error {
	_, err := p.publish(ctx, EventBattleEnd, "", r)
	return err
}

func (p *Publisher) BattleAbandoned(ctx context.Context, b entity.Battle) error {
	_, err := p.publish(ctx, EventBattleAbandoned, "", b)
	return err
}
