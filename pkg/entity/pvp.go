package entity

import "time"

// Challenge is a pending PVP invitation. It only lives in memory.
type Challenge struct {
	ChallengerID   string    `json:"challenger_id"`
	ChallengerName string    `json:"challenger_name"`
	OpponentID     string    `json:"opponent_id"`
	OpponentName   string    `json:"opponent_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Combatant is a gear-adjusted snapshot of a user taken when a battle starts.
type Combatant struct {
	DiscordID  string  `json:"discord_id"`
	Name       string  `json:"name"`
	UserID     int64   `json:"user_id"`
	Level      int     `json:"level"`
	MaxHealth  int     `json:"max_health"`
	Health     int     `json:"health"`
	Attack     int     `json:"attack"`
	Defense    int     `json:"defense"`
	CritChance float64 `json:"crit_chance"`
}

// Battle is an active duel between two combatants. It only lives in memory.
type Battle struct {
	Challenger Combatant `json:"challenger"`
	Opponent   Combatant `json:"opponent"`
	Turn       string    `json:"turn"`
	Round      int       `json:"round"`
	Log        []string  `json:"log"`
	StartedAt  time.Time `json:"started_at"`
}

// BattleResult is the settled outcome of a battle.
type BattleResult struct {
	Winner     Combatant `json:"winner"`
	Loser      Combatant `json:"loser"`
	Rounds     int       `json:"rounds"`
	Currency   int64     `json:"currency"`
	Gems       int64     `json:"gems"`
	Experience int64     `json:"experience"`
	LeveledUp  bool      `json:"leveled_up"`
	NewLevel   int       `json:"new_level"`
	Forfeit    bool      `json:"forfeit"`
}

// Match is the persisted history row of a settled battle.
type Match struct {
	ID         int64     `json:"id"`
	WinnerID   int64     `json:"winner_id"`
	LoserID    int64     `json:"loser_id"`
	Rounds     int       `json:"rounds"`
	Currency   int64     `json:"currency"`
	Gems       int64     `json:"gems"`
	Experience int64     `json:"experience"`
	Forfeit    bool      `json:"forfeit"`
	CreatedAt  time.Time `json:"created_at"`
}
