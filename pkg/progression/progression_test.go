package progression

import "testing"

func TestRequiredExperience(t *testing.T) {
	cases := map[int]int64{1: 100, 2: 150, 3: 225, 4: 337, 5: 506}
	for level, want := range cases {
		if got := RequiredExperience(level); got != want {
			t.Fatalf("RequiredExperience(%d) = %d, want %d", level, got, want)
		}
	}
}

func TestLevelFromTotalExperience(t *testing.T) {
	tests := []struct {
		total       int64
		level       int
		current     int64
		nextRequire int64
	}{
		{0, 1, 0, 100},
		{99, 1, 99, 100},
		{100, 2, 0, 150},
		{249, 2, 149, 150},
		{250, 3, 0, 225},
	}
	for _, tt := range tests {
		level, current, next := LevelFromTotalExperience(tt.total)
		if level != tt.level || current != tt.current || next != tt.nextRequire {
			t.Fatalf("LevelFromTotalExperience(%d) = (%d, %d, %d), want (%d, %d, %d)",
				tt.total, level, current, next, tt.level, tt.current, tt.nextRequire)
		}
	}
}

func TestAddExperienceCascadesLevels(t *testing.T) {
	p := AddExperience(1, 0, 0, 400)
	if p.Level != 3 {
		t.Fatalf("level = %d, want 3", p.Level)
	}
	if p.Experience != 150 {
		t.Fatalf("experience = %d, want 150", p.Experience)
	}
	if !p.LeveledUp || p.LevelsGained != 2 {
		t.Fatalf("leveled up = %v gained = %d, want true 2", p.LeveledUp, p.LevelsGained)
	}
	if p.NextThreshold != 225 {
		t.Fatalf("next threshold = %d, want 225", p.NextThreshold)
	}
}

func TestAddExperienceKeepsAdministrativeLevel(t *testing.T) {
	p := AddExperience(10, 5, 120, 20)
	if p.Level != 10 {
		t.Fatalf("level = %d, want 10", p.Level)
	}
	if p.LeveledUp {
		t.Fatal("did not expect a level up")
	}
	if p.TotalExperience != 140 {
		t.Fatalf("total = %d, want 140", p.TotalExperience)
	}
}

func TestLevelRewardsCompound(t *testing.T) {
	if r := LevelRewards(1); r.Currency != 100 || r.Gems != 5 {
		t.Fatalf("LevelRewards(1) = %+v", r)
	}
	if r := LevelRewards(2); r.Currency != 102 || r.Gems != 5 {
		t.Fatalf("LevelRewards(2) = %+v", r)
	}
	if r := LevelRewards(11); r.Currency != 121 || r.Gems != 6 {
		t.Fatalf("LevelRewards(11) = %+v", r)
	}
}

func TestQuestAndBossExperience(t *testing.T) {
	for d, want := range map[Difficulty]int64{DifficultyEasy: 50, DifficultyMedium: 100, DifficultyHard: 200} {
		got, err := QuestExperience(d)
		if err != nil || got != want {
			t.Fatalf("QuestExperience(%s) = %d, %v, want %d", d, got, err, want)
		}
	}
	if _, err := QuestExperience("legendary"); err == nil {
		t.Fatal("expected error for unknown difficulty")
	}
	if got := BossExperience(10000); got != 200 {
		t.Fatalf("BossExperience(10000) = %d, want 200", got)
	}
}

func TestBossRewardTopMultiplier(t *testing.T) {
	base := BossReward(500, 10, 10000, false, 1.5)
	if base != (Reward{Currency: 500, Gems: 10, Experience: 200}) {
		t.Fatalf("base reward = %+v", base)
	}
	top := BossReward(500, 10, 10000, true, 1.5)
	if top != (Reward{Currency: 750, Gems: 15, Experience: 300}) {
		t.Fatalf("top reward = %+v", top)
	}
}

func TestPvPReward(t *testing.T) {
	if r := PvPReward(1); r != (Reward{Currency: 55, Gems: 1, Experience: 27}) {
		t.Fatalf("PvPReward(1) = %+v", r)
	}
	if r := PvPReward(9); r != (Reward{Currency: 95, Gems: 3, Experience: 43}) {
		t.Fatalf("PvPReward(9) = %+v", r)
	}
}

func TestApplyAddsLevelBonusPerLevelGained(t *testing.T) {
	out := Apply(State{Level: 1, Currency: 10}, Reward{Currency: 5, Experience: 400})
	if out.State.Level != 3 || out.LevelsGained != 2 {
		t.Fatalf("level = %d gained = %d, want 3 2", out.State.Level, out.LevelsGained)
	}
	wantBonus := LevelRewards(2).Add(LevelRewards(3))
	if out.LevelBonus != wantBonus {
		t.Fatalf("bonus = %+v, want %+v", out.LevelBonus, wantBonus)
	}
	if out.State.Currency != 15+wantBonus.Currency {
		t.Fatalf("currency = %d, want %d", out.State.Currency, 15+wantBonus.Currency)
	}
	if out.State.Gems != wantBonus.Gems {
		t.Fatalf("gems = %d, want %d", out.State.Gems, wantBonus.Gems)
	}
}

func TestApplyNeverGoesNegative(t *testing.T) {
	out := Apply(State{Level: 1, Currency: 10, Gems: 1}, Reward{Currency: -50, Gems: -3})
	if out.State.Currency != 0 || out.State.Gems != 0 {
		t.Fatalf("balances = %d/%d, want 0/0", out.State.Currency, out.State.Gems)
	}
}
