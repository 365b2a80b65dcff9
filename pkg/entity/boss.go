package entity

import (
	"math"
	"time"
)

// Boss is a shared world encounter. Rows are kept after resolution for history.
type Boss struct {
	ID             int64      `json:"id"`
	Type           string     `json:"type"`
	Name           string     `json:"name"`
	ServerID       string     `json:"server_id"`
	Health         int        `json:"health"`
	MaxHealth      int        `json:"max_health"`
	RewardCurrency int64      `json:"reward_currency"`
	RewardGems     int64      `json:"reward_gems"`
	SpawnedAt      time.Time  `json:"spawned_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Defeated       bool       `json:"defeated"`
	DefeatedAt     *time.Time `json:"defeated_at,omitempty"`
	MessageRef     string     `json:"message_ref,omitempty"`
}

// Expired reports whether the boss window has closed at now.
func (b *Boss) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// Despawned reports whether the boss was closed without being killed.
func (b *Boss) Despawned() bool {
	return b.Defeated && b.Health > 0
}

// Participant is a user's cumulative contribution against one boss.
type Participant struct {
	BossID    int64  `json:"boss_id"`
	UserID    int64  `json:"user_id"`
	DiscordID string `json:"discord_id"`
	Username  string `json:"username"`
	Damage    int64  `json:"damage"`
	Attacks   int    `json:"attacks"`
}

// BossStatus is the derived view shown to players.
type BossStatus struct {
	Boss             Boss `json:"boss"`
	HealthPercent    int  `json:"health_percent"`
	MinutesRemaining int  `json:"minutes_remaining"`
	IsAlive          bool `json:"is_alive"`
}

// StatusOf derives the status view of b at now.
func StatusOf(b Boss, now time.Time) BossStatus {
	percent := 0
	if b.MaxHealth > 0 {
		percent = int(math.Round(float64(b.Health) / float64(b.MaxHealth) * 100))
	}
	minutes := int(math.Floor(b.ExpiresAt.Sub(now).Minutes()))
	if minutes < 0 {
		minutes = 0
	}
	return BossStatus{
		Boss:             b,
		HealthPercent:    percent,
		MinutesRemaining: minutes,
		IsAlive:          b.Health > 0 && !b.Defeated,
	}
}

// BossSnapshot is what the live announcement is rendered from.
type BossSnapshot struct {
	Status       BossStatus    `json:"status"`
	Participants []Participant `json:"participants"`
}
