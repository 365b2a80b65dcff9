package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/progression"
)

func openTempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "questbot.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedBoss(t *testing.T, store *SQLiteStore, now time.Time, health int) *entity.Boss {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertServer(ctx, entity.Server{GuildID: "g1", Name: "Guild", BossesEnabled: true}); err != nil {
		t.Fatalf("upsert server: %v", err)
	}
	b := &entity.Boss{
		Type:           "frost_giant",
		Name:           "Frost Giant",
		ServerID:       "g1",
		Health:         health,
		MaxHealth:      health,
		RewardCurrency: 100,
		RewardGems:     5,
		SpawnedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
	if err := store.CreateBoss(ctx, b); err != nil {
		t.Fatalf("create boss: %v", err)
	}
	return b
}

func TestEnsureUserIsStable(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	first, err := store.EnsureUser(ctx, "d1", "alice", false)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.Level != 1 || first.Health != 100 || !first.PvPEnabled {
		t.Fatalf("defaults = %+v", first)
	}

	again, err := store.EnsureUser(ctx, "d1", "", false)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.ID != first.ID || again.Username != "alice" {
		t.Fatalf("got = %+v, want id %d named alice", again, first.ID)
	}

	if _, err := store.FindUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("find missing err = %v, want ErrNotFound", err)
	}
}

func TestApplyRewardLevelsUp(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	u, err := store.EnsureUser(ctx, "d1", "alice", false)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	out, err := store.ApplyReward(ctx, u.ID, progression.Reward{Currency: 10, Gems: 1, Experience: 150})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !out.LeveledUp || out.State.Level != 2 || out.State.Experience != 50 {
		t.Fatalf("outcome = %+v", out)
	}

	got, err := store.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	bonus := progression.LevelRewards(2)
	if got.Currency != 10+bonus.Currency || got.Gems != 1+bonus.Gems || got.TotalExperience != 150 {
		t.Fatalf("user = %+v", got)
	}

	if _, err := store.ApplyReward(ctx, 999, progression.Reward{Currency: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user err = %v, want ErrNotFound", err)
	}
}

func TestCreateBossRejectsSecondOpenBoss(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b := seedBoss(t, store, now, 100)
	second := &entity.Boss{Type: "kraken", Name: "Kraken", ServerID: "g1", Health: 10, MaxHealth: 10,
		SpawnedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.CreateBoss(ctx, second); !errors.Is(err, ErrBossActive) {
		t.Fatalf("create err = %v, want ErrBossActive", err)
	}

	claimed, err := store.MarkBossDefeated(ctx, b.ID, now)
	if err != nil || !claimed {
		t.Fatalf("claim = %v, %v", claimed, err)
	}
	if err := store.CreateBoss(ctx, second); err != nil {
		t.Fatalf("create after defeat: %v", err)
	}
}

func TestBossDamageFloorsAtZero(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b := seedBoss(t, store, now, 100)
	u, _ := store.EnsureUser(ctx, "d1", "alice", false)

	got, err := store.RecordAttack(ctx, b.ID, u.ID, 5000, now)
	if err != nil {
		t.Fatalf("attack: %v", err)
	}
	if got.Health != 0 {
		t.Fatalf("health = %d, want 0", got.Health)
	}

	parts, err := store.GetParticipantsRanked(ctx, b.ID)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(parts) != 1 || parts[0].Damage != 5000 || parts[0].Attacks != 1 {
		t.Fatalf("participants = %+v", parts)
	}

	if _, err := store.RecordAttack(ctx, b.ID, u.ID, 10, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("hit on felled boss err = %v, want ErrNotFound", err)
	}
}

func TestRecordAttackRejectsExpiredBoss(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b := seedBoss(t, store, now, 100)
	u, _ := store.EnsureUser(ctx, "d1", "alice", false)

	if _, err := store.RecordAttack(ctx, b.ID, u.ID, 10, now.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	parts, _ := store.GetParticipantsRanked(ctx, b.ID)
	if len(parts) != 0 {
		t.Fatalf("participants = %+v, want none", parts)
	}
	if _, err := store.FindActiveBoss(ctx, now.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("active err = %v, want ErrNotFound", err)
	}
	if open, err := store.FindOpenBoss(ctx); err != nil || open.ID != b.ID {
		t.Fatalf("open = %v, %v", open, err)
	}
}

func TestMarkBossDefeatedClaimsOnce(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := seedBoss(t, store, now, 100)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkBossDefeated(ctx, b.ID, now)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claims != 1 {
		t.Fatalf("claims = %d, want 1", claims)
	}

	got, err := store.GetBoss(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Defeated || got.DefeatedAt == nil || !got.DefeatedAt.Equal(now) {
		t.Fatalf("boss = %+v", got)
	}
}

func TestParticipantsRankedByDamage(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := seedBoss(t, store, now, 10000)

	a, _ := store.EnsureUser(ctx, "d1", "alice", false)
	c, _ := store.EnsureUser(ctx, "d2", "carol", false)
	for _, hit := range []struct {
		user   int64
		amount int
	}{{a.ID, 30}, {c.ID, 50}, {a.ID, 40}} {
		if _, err := store.RecordAttack(ctx, b.ID, hit.user, hit.amount, now); err != nil {
			t.Fatalf("attack: %v", err)
		}
	}

	parts, err := store.GetParticipantsRanked(ctx, b.ID)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(parts) != 2 || parts[0].Username != "alice" || parts[0].Damage != 70 || parts[0].Attacks != 2 {
		t.Fatalf("participants = %+v", parts)
	}

	last, ok, err := store.LastSpawnAt(ctx)
	if err != nil || !ok || !last.Equal(now) {
		t.Fatalf("last spawn = %v %v %v", last, ok, err)
	}
}

func TestSettlePvP(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w, _ := store.EnsureUser(ctx, "d1", "alice", false)
	l, _ := store.EnsureUser(ctx, "d2", "bob", false)

	m := &entity.Match{WinnerID: w.ID, LoserID: l.ID, Rounds: 4, CreatedAt: now}
	reward := progression.PvPReward(1)
	if _, err := store.SettlePvP(ctx, m, reward); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if m.ID == 0 || m.Currency != reward.Currency {
		t.Fatalf("match = %+v", m)
	}

	winner, _ := store.GetUserByID(ctx, w.ID)
	loser, _ := store.GetUserByID(ctx, l.ID)
	if winner.PvPWins != 1 || loser.PvPLosses != 1 {
		t.Fatalf("wins = %d, losses = %d", winner.PvPWins, loser.PvPLosses)
	}
	if winner.Currency != reward.Currency || winner.Health != winner.MaxHealth || loser.Health != loser.MaxHealth {
		t.Fatalf("winner = %+v, loser = %+v", winner, loser)
	}
	if !winner.UpdatedAt.Equal(now) || !loser.UpdatedAt.Equal(now) {
		t.Fatalf("updated at = %v / %v, want the match time %v", winner.UpdatedAt, loser.UpdatedAt, now)
	}

	matches, err := store.RecentMatches(ctx, l.ID, 5)
	if err != nil || len(matches) != 1 || !matches[0].CreatedAt.Equal(now) {
		t.Fatalf("matches = %+v, %v", matches, err)
	}
}

func TestLeaderboardAccumulates(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a, _ := store.EnsureUser(ctx, "d1", "alice", false)
	b, _ := store.EnsureUser(ctx, "d2", "bob", false)
	_ = store.UpdateLeaderboardScore(ctx, a.ID, 3, 2026, 10, now)
	_ = store.UpdateLeaderboardScore(ctx, b.ID, 3, 2026, 25, now)
	_ = store.UpdateLeaderboardScore(ctx, a.ID, 3, 2026, 20, now)
	_ = store.UpdateLeaderboardScore(ctx, a.ID, 4, 2026, 99, now)

	board, err := store.GetLeaderboard(ctx, 3, 2026, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].Username != "alice" || board[0].Score != 30 || board[0].Rank != 1 || board[1].Rank != 2 {
		t.Fatalf("board = %+v", board)
	}
}

func TestServersAndUserFlags(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	_ = store.UpsertServer(ctx, entity.Server{GuildID: "g1", BossesEnabled: true})
	_ = store.UpsertServer(ctx, entity.Server{GuildID: "g2"})
	servers, err := store.ListOptedInServers(ctx)
	if err != nil || len(servers) != 1 || servers[0].GuildID != "g1" {
		t.Fatalf("servers = %+v, %v", servers, err)
	}
	if err := store.SetBossesEnabled(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("toggle missing err = %v", err)
	}

	u, _ := store.EnsureUser(ctx, "d1", "alice", false)
	arrives := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	if err := store.SetTravel(ctx, u.ID, "harbor", &arrives); err != nil {
		t.Fatalf("travel: %v", err)
	}
	if err := store.EquipItem(ctx, u.ID, SlotWeapon, "iron_sword"); err != nil {
		t.Fatalf("equip: %v", err)
	}
	if err := store.SetPvPEnabled(ctx, u.ID, false); err != nil {
		t.Fatalf("pvp flag: %v", err)
	}
	if err := store.EquipItem(ctx, u.ID, Slot("ring"), "x"); err == nil {
		t.Fatal("expected unknown slot error")
	}

	got, _ := store.GetUserByID(ctx, u.ID)
	if got.WeaponID != "iron_sword" || got.PvPEnabled || !got.IsTraveling(arrives.Add(-time.Minute)) {
		t.Fatalf("user = %+v", got)
	}
}
