package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// GameConfig holds gameplay tuning. It is passed to engine constructors
// explicitly; nothing reads it from a package global.
type GameConfig struct {
	Boss  BossConfig  `envPrefix:"BOSS_"`
	Arena ArenaConfig `envPrefix:"PVP_"`
}

type BossConfig struct {
	MinDelay        time.Duration `env:"MIN_DELAY" envDefault:"30m"`
	MaxDelay        time.Duration `env:"MAX_DELAY" envDefault:"2h"`
	SpawnDuration   time.Duration `env:"SPAWN_DURATION" envDefault:"1h"`
	Cooldown        time.Duration `env:"COOLDOWN" envDefault:"30m"`
	RetryDelay      time.Duration `env:"RETRY_DELAY" envDefault:"1m"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"60s"`
	AttackCooldown  time.Duration `env:"ATTACK_COOLDOWN" envDefault:"30s"`
	TopMultiplier   float64       `env:"TOP_MULTIPLIER" envDefault:"1.5"`
}

type ArenaConfig struct {
	ChallengeTTL time.Duration `env:"CHALLENGE_TTL" envDefault:"120s"`
	BattleIdle   time.Duration `env:"BATTLE_IDLE" envDefault:"10m"`
	LogLimit     int           `env:"LOG_LIMIT" envDefault:"10"`
}

// DefaultGameConfig returns the tuning used when no environment overrides are set.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		Boss: BossConfig{
			MinDelay:        30 * time.Minute,
			MaxDelay:        2 * time.Hour,
			SpawnDuration:   time.Hour,
			Cooldown:        30 * time.Minute,
			RetryDelay:      time.Minute,
			RefreshInterval: 60 * time.Second,
			AttackCooldown:  30 * time.Second,
			TopMultiplier:   1.5,
		},
		Arena: ArenaConfig{
			ChallengeTTL: 120 * time.Second,
			BattleIdle:   10 * time.Minute,
			LogLimit:     10,
		},
	}
}

// Load fills the game config from the environment.
func (g *GameConfig) Load() error {
	if err := env.Parse(g); err != nil {
		return fmt.Errorf("parse game config: %w", err)
	}
	return g.Validate()
}

func (g GameConfig) Validate() error {
	b := g.Boss
	if b.MinDelay <= 0 || b.MaxDelay <= 0 {
		return fmt.Errorf("boss spawn delays must be positive")
	}
	if b.MinDelay > b.MaxDelay {
		return fmt.Errorf("boss min delay %s exceeds max delay %s", b.MinDelay, b.MaxDelay)
	}
	if b.SpawnDuration <= 0 {
		return fmt.Errorf("boss spawn duration must be positive")
	}
	if b.Cooldown < 0 || b.AttackCooldown < 0 {
		return fmt.Errorf("boss cooldowns cannot be negative")
	}
	if b.RetryDelay <= 0 || b.RefreshInterval <= 0 {
		return fmt.Errorf("boss retry delay and refresh interval must be positive")
	}
	if b.TopMultiplier < 1 {
		return fmt.Errorf("boss top multiplier must be at least 1")
	}
	if g.Arena.ChallengeTTL <= 0 || g.Arena.BattleIdle <= 0 {
		return fmt.Errorf("arena timeouts must be positive")
	}
	if g.Arena.LogLimit <= 0 {
		return fmt.Errorf("arena log limit must be positive")
	}
	return nil
}
