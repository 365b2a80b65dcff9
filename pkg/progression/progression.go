// Package progression computes experience curves, level-ups and reward scaling.
// Every reward path (quests, bosses, PVP) goes through this package.
package progression

import (
	"fmt"
	"math"
)

const (
	baseExperience   = 100
	experienceGrowth = 1.5

	levelBonusCurrency = 100
	levelBonusGems     = 5
	levelBonusGrowth   = 1.02

	// epsilon absorbs float error in values that are mathematically integral
	epsilon = 1e-9
)

// Reward is a bundle of currency, gems and experience credited to one user.
type Reward struct {
	Currency   int64 `json:"currency"`
	Gems       int64 `json:"gems"`
	Experience int64 `json:"experience"`
}

func (r Reward) Add(o Reward) Reward {
	return Reward{
		Currency:   r.Currency + o.Currency,
		Gems:       r.Gems + o.Gems,
		Experience: r.Experience + o.Experience,
	}
}

// Scale multiplies every component by m, flooring each result.
func (r Reward) Scale(m float64) Reward {
	return Reward{
		Currency:   floor(float64(r.Currency) * m),
		Gems:       floor(float64(r.Gems) * m),
		Experience: floor(float64(r.Experience) * m),
	}
}

func floor(v float64) int64 {
	return int64(math.Floor(v + epsilon))
}

// RequiredExperience is the experience needed to advance from level to level+1.
func RequiredExperience(level int) int64 {
	if level < 1 {
		level = 1
	}
	return floor(baseExperience * math.Pow(experienceGrowth, float64(level-1)))
}

// LevelFromTotalExperience walks the thresholds from level 1 and returns the
// resulting level, the experience into that level and the next threshold.
func LevelFromTotalExperience(total int64) (level int, current int64, next int64) {
	level = 1
	remaining := total
	if remaining < 0 {
		remaining = 0
	}
	for remaining >= RequiredExperience(level) {
		remaining -= RequiredExperience(level)
		level++
	}
	return level, remaining, RequiredExperience(level)
}

// Progress is the experience state after adding experience.
type Progress struct {
	Level           int   `json:"level"`
	Experience      int64 `json:"experience"`
	TotalExperience int64 `json:"total_experience"`
	NextThreshold   int64 `json:"next_threshold"`
	LeveledUp       bool  `json:"leveled_up"`
	LevelsGained    int   `json:"levels_gained"`
}

// AddExperience recomputes the level from totalExp+delta. A level raised above the
// curve by an administrator is never lowered.
func AddExperience(currentLevel int, currentExp, totalExp, delta int64) Progress {
	total := totalExp + delta
	if total < 0 {
		total = 0
	}
	level, current, next := LevelFromTotalExperience(total)
	if level < currentLevel {
		return Progress{
			Level:           currentLevel,
			Experience:      max(currentExp+delta, 0),
			TotalExperience: total,
			NextThreshold:   RequiredExperience(currentLevel),
		}
	}

	gained := 0
	if currentLevel > 0 {
		gained = level - currentLevel
	}
	return Progress{
		Level:           level,
		Experience:      current,
		TotalExperience: total,
		NextThreshold:   next,
		LeveledUp:       gained > 0,
		LevelsGained:    gained,
	}
}

// LevelRewards is the bonus granted on reaching level.
func LevelRewards(level int) Reward {
	if level < 1 {
		level = 1
	}
	growth := math.Pow(levelBonusGrowth, float64(level-1))
	return Reward{
		Currency: floor(levelBonusCurrency * growth),
		Gems:     floor(levelBonusGems * growth),
	}
}

// Difficulty of a quest.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var questExperience = map[Difficulty]int64{
	DifficultyEasy:   50,
	DifficultyMedium: 100,
	DifficultyHard:   200,
}

var questCurrency = map[Difficulty]int64{
	DifficultyEasy:   25,
	DifficultyMedium: 50,
	DifficultyHard:   100,
}

// QuestExperience returns the fixed experience for a quest difficulty.
func QuestExperience(d Difficulty) (int64, error) {
	exp, ok := questExperience[d]
	if !ok {
		return 0, fmt.Errorf("unknown quest difficulty %q", d)
	}
	return exp, nil
}

// QuestReward is the full credit for completing a quest of difficulty d.
func QuestReward(d Difficulty) (Reward, error) {
	exp, err := QuestExperience(d)
	if err != nil {
		return Reward{}, err
	}
	return Reward{Currency: questCurrency[d], Experience: exp}, nil
}

// BossExperience scales with the boss's size.
func BossExperience(maxHealth int) int64 {
	return int64(maxHealth / 50)
}

// BossReward is the credit for one participant. The top damage dealer gets
// every component multiplied by topMultiplier.
func BossReward(currency, gems int64, maxHealth int, top bool, topMultiplier float64) Reward {
	r := Reward{Currency: currency, Gems: gems, Experience: BossExperience(maxHealth)}
	if top {
		return r.Scale(topMultiplier)
	}
	return r
}

// PvPReward is the winner's credit, scaled by the loser's level.
func PvPReward(loserLevel int) Reward {
	return Reward{
		Currency:   50 + int64(loserLevel)*5,
		Gems:       max(1, int64(loserLevel/3)),
		Experience: 25 + int64(loserLevel)*2,
	}
}

// State is the part of a user that rewards touch.
type State struct {
	Level           int
	Experience      int64
	TotalExperience int64
	Currency        int64
	Gems            int64
}

// Outcome is the state after applying a reward, with level-up details.
type Outcome struct {
	State         State  `json:"state"`
	Granted       Reward `json:"granted"`
	LevelBonus    Reward `json:"level_bonus"`
	LeveledUp     bool   `json:"leveled_up"`
	LevelsGained  int    `json:"levels_gained"`
	NextThreshold int64  `json:"next_threshold"`
}

// Apply credits r to s, cascading level-ups and adding LevelRewards for every
// level gained. Balances never drop below zero.
func Apply(s State, r Reward) Outcome {
	p := AddExperience(s.Level, s.Experience, s.TotalExperience, r.Experience)

	var bonus Reward
	for lvl := s.Level + 1; lvl <= p.Level && p.LeveledUp; lvl++ {
		bonus = bonus.Add(LevelRewards(lvl))
	}

	next := State{
		Level:           p.Level,
		Experience:      p.Experience,
		TotalExperience: p.TotalExperience,
		Currency:        max(s.Currency+r.Currency+bonus.Currency, 0),
		Gems:            max(s.Gems+r.Gems+bonus.Gems, 0),
	}
	return Outcome{
		State:         next,
		Granted:       r,
		LevelBonus:    bonus,
		LeveledUp:     p.LeveledUp,
		LevelsGained:  p.LevelsGained,
		NextThreshold: p.NextThreshold,
	}
}
