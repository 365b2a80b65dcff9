package entity

import "time"

// User is a player's persistent profile.
type User struct {
	ID        int64  `json:"id"`
	DiscordID string `json:"discord_id"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`

	Currency        int64 `json:"currency"`
	Gems            int64 `json:"gems"`
	Level           int   `json:"level"`
	Experience      int64 `json:"experience"`
	TotalExperience int64 `json:"total_experience"`

	Attack    int    `json:"attack"`
	Defense   int    `json:"defense"`
	Health    int    `json:"health"`
	MaxHealth int    `json:"max_health"`
	WeaponID  string `json:"weapon_id,omitempty"`
	ArmorID   string `json:"armor_id,omitempty"`

	PvPWins    int  `json:"pvp_wins"`
	PvPLosses  int  `json:"pvp_losses"`
	PvPEnabled bool `json:"pvp_enabled"`

	TravelDestination string     `json:"travel_destination,omitempty"`
	TravelArrivesAt   *time.Time `json:"travel_arrives_at,omitempty"`
	LastQuestAt       *time.Time `json:"last_quest_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Actor identifies who is acting, as reported by the presentation layer.
type Actor struct {
	DiscordID string `json:"discord_id"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

// IsTraveling reports whether the user is still en route at now.
func (u *User) IsTraveling(now time.Time) bool {
	return u.TravelArrivesAt != nil && now.Before(*u.TravelArrivesAt)
}

// Server is a guild that may have opted in to boss spawns.
type Server struct {
	GuildID       string    `json:"guild_id"`
	Name          string    `json:"name"`
	ChannelID     string    `json:"channel_id"`
	BossesEnabled bool      `json:"bosses_enabled"`
	CreatedAt     time.Time `json:"created_at"`
}

// LeaderboardEntry is one user's score for a calendar month.
type LeaderboardEntry struct {
	UserID    int64  `json:"user_id"`
	DiscordID string `json:"discord_id"`
	Username  string `json:"username"`
	Month     int    `json:"month"`
	Year      int    `json:"year"`
	Score     int64  `json:"score"`
	Rank      int    `json:"rank"`
}
