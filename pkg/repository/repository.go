package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/progression"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrBossActive is returned by CreateBoss while another boss is still open.
	ErrBossActive = errors.New("a boss is already active")
)

// Slot is an equipment slot on a user.
type Slot string

const (
	SlotWeapon Slot = "weapon"
	SlotArmor  Slot = "armor"
)

// UserRepository defines the interface for user storage operations
type UserRepository interface {
	EnsureUser(ctx context.Context, discordID, username string, isBot bool) (*entity.User, error)
	FindUser(ctx context.Context, discordID string) (*entity.User, error)
	GetUserByID(ctx context.Context, userID int64) (*entity.User, error)
	// ApplyReward credits r and cascades level-ups in one transaction.
	ApplyReward(ctx context.Context, userID int64, r progression.Reward) (progression.Outcome, error)
	SetPvPEnabled(ctx context.Context, userID int64, enabled bool) error
	SetTravel(ctx context.Context, userID int64, destination string, arrivesAt *time.Time) error
	EquipItem(ctx context.Context, userID int64, slot Slot, itemID string) error
	// CompleteQuest credits r and stamps last_quest_at in one transaction.
	CompleteQuest(ctx context.Context, userID int64, r progression.Reward, at time.Time) (progression.Outcome, error)
}

// ServerRepository defines the interface for guild storage operations
type ServerRepository interface {
	UpsertServer(ctx context.Context, s entity.Server) error
	GetServer(ctx context.Context, guildID string) (*entity.Server, error)
	SetBossesEnabled(ctx context.Context, guildID string, enabled bool) error
	ListOptedInServers(ctx context.Context) ([]entity.Server, error)
}

// BossRepository defines the interface for boss storage operations
type BossRepository interface {
	// FindActiveBoss returns the undefeated boss whose window is open at now.
	FindActiveBoss(ctx context.Context, now time.Time) (*entity.Boss, error)
	// FindOpenBoss returns the undefeated boss regardless of expiry.
	FindOpenBoss(ctx context.Context) (*entity.Boss, error)
	GetBoss(ctx context.Context, bossID int64) (*entity.Boss, error)
	// CreateBoss inserts b and sets its ID. It fails with ErrBossActive when
	// an undefeated boss already exists.
	CreateBoss(ctx context.Context, b *entity.Boss) error
	SetBossMessageRef(ctx context.Context, bossID int64, ref string) error
	// ApplyBossDamage lowers health by amount, floored at zero, on an
	// undefeated boss that is unexpired at now.
	ApplyBossDamage(ctx context.Context, bossID int64, amount int, now time.Time) (*entity.Boss, error)
	UpsertParticipant(ctx context.Context, bossID, userID int64, damage int64) error
	// RecordAttack applies damage and upserts the participant in one transaction.
	RecordAttack(ctx context.Context, bossID, userID int64, amount int, now time.Time) (*entity.Boss, error)
	// MarkBossDefeated closes an undefeated boss. It reports whether this
	// call performed the transition.
	MarkBossDefeated(ctx context.Context, bossID int64, at time.Time) (bool, error)
	GetParticipantsRanked(ctx context.Context, bossID int64) ([]entity.Participant, error)
	LastSpawnAt(ctx context.Context) (time.Time, bool, error)
	RecentBosses(ctx context.Context, limit int) ([]entity.Boss, error)
}

// MatchRepository defines the interface for PVP history storage operations
type MatchRepository interface {
	// SettlePvP credits the winner, bumps win/loss counters, restores both
	// users to max health and records the match, all in one transaction.
	SettlePvP(ctx context.Context, m *entity.Match, r progression.Reward) (progression.Outcome, error)
	RecentMatches(ctx context.Context, userID int64, limit int) ([]entity.Match, error)
}

// LeaderboardRepository defines the interface for monthly score storage
type LeaderboardRepository interface {
	UpdateLeaderboardScore(ctx context.Context, userID int64, month, year int, delta int64, at time.Time) error
	GetLeaderboard(ctx context.Context, month, year, limit int) ([]entity.LeaderboardEntry, error)
}

// Store is the full persistence surface used by the engines.
type Store interface {
	UserRepository
	ServerRepository
	BossRepository
	MatchRepository
	LeaderboardRepository
	Close() error
}

func validSlot(slot Slot) bool {
	return slot == SlotWeapon || slot == SlotArmor
}
