package boss

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sonastea/questbot/pkg/catalog"
	"github.com/sonastea/questbot/pkg/clock"
	"github.com/sonastea/questbot/pkg/config"
	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/leaderboard"
	"github.com/sonastea/questbot/pkg/notify/notifytest"
	"github.com/sonastea/questbot/pkg/progression"
	"github.com/sonastea/questbot/pkg/repository"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// midRand rolls exactly the attack stat and never crits.
type midRand struct{}

func (midRand) IntN(int) int       { return 0 }
func (midRand) Int64N(int64) int64 { return 0 }
func (midRand) Float64() float64   { return 0.5 }

type harness struct {
	engine *Engine
	store  *repository.SQLiteStore
	sink   *notifytest.Recorder
	clock  *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "boss.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cat, err := catalog.Load("")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	ctx := context.Background()
	if err := store.UpsertServer(ctx, entity.Server{GuildID: "g1", BossesEnabled: true}); err != nil {
		t.Fatalf("upsert server: %v", err)
	}
	if err := store.UpsertServer(ctx, entity.Server{GuildID: "g2"}); err != nil {
		t.Fatalf("upsert server: %v", err)
	}

	h := &harness{store: store, sink: notifytest.New(), clock: clock.NewFake(start)}
	h.engine = New(store, cat, h.sink, leaderboard.New(store, nil), config.DefaultGameConfig().Boss,
		WithClock(h.clock), WithRand(midRand{}))
	return h
}

func (h *harness) createBoss(t *testing.T, health int) *entity.Boss {
	t.Helper()
	now := h.clock.Now()
	b := &entity.Boss{
		Type: "test", Name: "Test Boss", ServerID: "g1",
		Health: health, MaxHealth: health, RewardCurrency: 100, RewardGems: 5,
		SpawnedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := h.store.CreateBoss(context.Background(), b); err != nil {
		t.Fatalf("create boss: %v", err)
	}
	return b
}

func TestStatusView(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	b := entity.Boss{Health: 50, MaxHealth: 100, ExpiresAt: start.Add(150 * time.Second)}

	st := h.engine.Status(b, start)
	if st.HealthPercent != 50 || st.MinutesRemaining != 2 || !st.IsAlive {
		t.Fatalf("status = %+v, want 50%% 2m alive", st)
	}
}

func TestOverDamageFloorsAtZero(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.engine.ForceSpawn(ctx, "g1", "frost_giant")
	if err != nil {
		t.Fatalf("force spawn: %v", err)
	}
	u, _ := h.store.EnsureUser(ctx, "d1", "alice", false)

	res, err := h.engine.Hit(ctx, b.ID, u.ID, 50000)
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if res.Status.Boss.Health != 0 || !res.Defeated || !res.ClaimedDefeat {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Outcome.Rewards) != 1 || !res.Outcome.Rewards[0].Top || res.Outcome.Rewards[0].Reward.Currency != 825 {
		t.Fatalf("rewards = %+v", res.Outcome.Rewards)
	}

	stored, _ := h.store.GetBoss(ctx, b.ID)
	if stored.Health != 0 || !stored.Defeated {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestConcurrentHitsFanOutOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBoss(t, 100)

	const fighters = 10
	users := make([]*entity.User, fighters)
	for i := range users {
		u, err := h.store.EnsureUser(ctx, string(rune('a'+i)), "fighter", false)
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		users[i] = u
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for _, u := range users {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			res, err := h.engine.Hit(ctx, b.ID, userID, 10)
			if err != nil {
				t.Errorf("hit: %v", err)
				return
			}
			if res.ClaimedDefeat {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}(u.ID)
	}
	wg.Wait()

	if claims != 1 {
		t.Fatalf("claims = %d, want 1", claims)
	}
	if defeats, _ := h.sink.Counts(); defeats != 1 {
		t.Fatalf("defeat announcements = %d, want 1", defeats)
	}

	base := progression.BossReward(100, 5, 100, false, 1.5)
	top := progression.BossReward(100, 5, 100, true, 1.5)
	var total int64
	for _, u := range users {
		got, _ := h.store.GetUserByID(ctx, u.ID)
		total += got.Currency
	}
	if want := base.Currency*(fighters-1) + top.Currency; total != want {
		t.Fatalf("total currency = %d, want %d", total, want)
	}
}

func TestSpawnTargetsOptedInServer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.engine.SpawnBoss(ctx)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if b.ServerID != "g1" {
		t.Fatalf("server = %s, want g1", b.ServerID)
	}
	stored, _ := h.store.GetBoss(ctx, b.ID)
	if stored.MessageRef != "ref-1" {
		t.Fatalf("message ref = %q", stored.MessageRef)
	}
	if !stored.ExpiresAt.Equal(start.Add(time.Hour)) {
		t.Fatalf("expires = %v", stored.ExpiresAt)
	}

	if _, err := h.engine.SpawnBoss(ctx); !errors.Is(err, ErrBossActive) {
		t.Fatalf("second spawn err = %v, want ErrBossActive", err)
	}
}

func TestSpawnWithoutServers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	_ = h.store.SetBossesEnabled(ctx, "g1", false)

	if _, err := h.engine.SpawnBoss(ctx); !errors.Is(err, ErrNoServers) {
		t.Fatalf("err = %v, want ErrNoServers", err)
	}
}

func TestScheduleNextKeepsOneTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := h.engine.ScheduleNext(ctx); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	if n := h.clock.Pending(); n != 1 {
		t.Fatalf("pending timers = %d, want 1", n)
	}
}

func TestSchedulerSpawnsThenDespawns(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.engine.Start(ctx)
	defer h.engine.Stop()

	h.clock.Advance(30 * time.Minute)
	if len(h.sink.Spawns) != 1 {
		t.Fatalf("spawns = %d, want 1", len(h.sink.Spawns))
	}
	if _, err := h.engine.ActiveStatus(ctx); err != nil {
		t.Fatalf("active status: %v", err)
	}

	h.clock.Advance(61 * time.Minute)
	if _, despawns := h.sink.Counts(); despawns != 1 {
		t.Fatalf("despawns = %d, want 1", despawns)
	}
	if _, err := h.engine.ActiveStatus(ctx); !errors.Is(err, ErrNoActiveBoss) {
		t.Fatalf("active err = %v, want ErrNoActiveBoss", err)
	}
	if len(h.sink.Updates) == 0 {
		t.Fatal("expected periodic notification refreshes")
	}

	h.engine.Stop()
	if n := h.clock.Pending(); n != 0 {
		t.Fatalf("pending timers after stop = %d, want 0", n)
	}
}

func TestAttackEnforcesCooldown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	actor := entity.Actor{DiscordID: "d1", Username: "alice"}

	if _, err := h.engine.Attack(ctx, actor); !errors.Is(err, ErrNoActiveBoss) {
		t.Fatalf("err = %v, want ErrNoActiveBoss", err)
	}

	h.createBoss(t, 1000)
	res, err := h.engine.Attack(ctx, actor)
	if err != nil {
		t.Fatalf("attack: %v", err)
	}
	if res.Damage != 10 || res.Crit || res.Status.Boss.Health != 990 {
		t.Fatalf("result = %+v", res)
	}

	if _, err := h.engine.Attack(ctx, actor); !errors.Is(err, ErrAttackCooldown) {
		t.Fatalf("err = %v, want ErrAttackCooldown", err)
	}
	h.clock.Advance(30 * time.Second)
	if _, err := h.engine.Attack(ctx, actor); err != nil {
		t.Fatalf("attack after cooldown: %v", err)
	}
}

func TestForceClearLeavesStaleWorkAsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.engine.ForceSpawn(ctx, "g1", "")
	if err != nil {
		t.Fatalf("force spawn: %v", err)
	}
	if _, err := h.engine.ForceClear(ctx); err != nil {
		t.Fatalf("force clear: %v", err)
	}
	if _, despawns := h.sink.Counts(); despawns != 1 {
		t.Fatalf("despawns = %d, want 1", despawns)
	}

	h.clock.Advance(2 * time.Hour)
	if err := h.engine.DespawnExpired(ctx, b); err != nil {
		t.Fatalf("stale despawn: %v", err)
	}
	if err := h.engine.RefreshNotification(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, despawns := h.sink.Counts(); despawns != 1 {
		t.Fatalf("despawns = %d, want still 1", despawns)
	}
	if _, err := h.engine.ForceClear(ctx); !errors.Is(err, ErrNoActiveBoss) {
		t.Fatalf("err = %v, want ErrNoActiveBoss", err)
	}
}

func TestForceSpawnValidates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.ForceSpawn(ctx, "nope", ""); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("err = %v, want ErrUnknownServer", err)
	}
	if _, err := h.engine.ForceSpawn(ctx, "g1", "nope"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("err = %v, want ErrUnknownTemplate", err)
	}
}

func TestHitOnFelledBossIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBoss(t, 100)
	alice, _ := h.store.EnsureUser(ctx, "d1", "alice", false)
	zed, _ := h.store.EnsureUser(ctx, "d2", "zed", false)

	// the killing blow lands but the defeat claim has not run yet
	if _, err := h.engine.ApplyDamage(ctx, b.ID, alice.ID, 100); err != nil {
		t.Fatalf("killing blow: %v", err)
	}
	if _, err := h.engine.ApplyDamage(ctx, b.ID, zed.ID, 500); !errors.Is(err, ErrNoActiveBoss) {
		t.Fatalf("late hit err = %v, want ErrNoActiveBoss", err)
	}

	parts, err := h.store.GetParticipantsRanked(ctx, b.ID)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}
	if len(parts) != 1 || parts[0].UserID != alice.ID || parts[0].Damage != 100 {
		t.Fatalf("participants = %+v, want only alice with 100", parts)
	}
}

func TestRestartPaysUnclaimedDefeat(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBoss(t, 100)
	alice, _ := h.store.EnsureUser(ctx, "d1", "alice", false)

	// the process died between the killing blow and the claim
	if _, err := h.store.ApplyBossDamage(ctx, b.ID, 100, h.clock.Now()); err != nil {
		t.Fatalf("damage: %v", err)
	}
	if err := h.store.UpsertParticipant(ctx, b.ID, alice.ID, 100); err != nil {
		t.Fatalf("participant: %v", err)
	}
	h.clock.Advance(2 * time.Hour)

	h.engine.Start(ctx)
	defer h.engine.Stop()

	defeats, despawns := h.sink.Counts()
	if defeats != 1 || despawns != 0 {
		t.Fatalf("defeats = %d, despawns = %d, want 1 and 0", defeats, despawns)
	}
	rewards := h.sink.Defeats[0].Rewards
	if len(rewards) != 1 || !rewards[0].Top || rewards[0].UserID != alice.ID {
		t.Fatalf("rewards = %+v", rewards)
	}
	got, _ := h.store.GetUserByID(ctx, alice.ID)
	if want := progression.BossReward(100, 5, 100, true, 1.5).Currency; got.Currency != want {
		t.Fatalf("currency = %d, want %d", got.Currency, want)
	}
}

func TestForceClearPaysFelledBoss(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBoss(t, 100)
	alice, _ := h.store.EnsureUser(ctx, "d1", "alice", false)

	if _, err := h.engine.ApplyDamage(ctx, b.ID, alice.ID, 100); err != nil {
		t.Fatalf("killing blow: %v", err)
	}
	if _, err := h.engine.ForceClear(ctx); err != nil {
		t.Fatalf("force clear: %v", err)
	}
	if defeats, despawns := h.sink.Counts(); defeats != 1 || despawns != 0 {
		t.Fatalf("defeats = %d, despawns = %d, want 1 and 0", defeats, despawns)
	}

	// a felled leftover does not block a manual spawn either
	second := h.createBoss(t, 100)
	bob, _ := h.store.EnsureUser(ctx, "d2", "bob", false)
	if _, err := h.engine.ApplyDamage(ctx, second.ID, bob.ID, 100); err != nil {
		t.Fatalf("second killing blow: %v", err)
	}
	if _, err := h.engine.ForceSpawn(ctx, "g1", "frost_giant"); err != nil {
		t.Fatalf("force spawn: %v", err)
	}
	if defeats, _ := h.sink.Counts(); defeats != 2 {
		t.Fatalf("defeats = %d, want 2", defeats)
	}
}

func TestRejectedAttackKeepsNoCooldown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	actor := entity.Actor{DiscordID: "d1", Username: "alice"}

	b := h.createBoss(t, 100)
	if _, err := h.store.ApplyBossDamage(ctx, b.ID, 100, h.clock.Now()); err != nil {
		t.Fatalf("damage: %v", err)
	}
	if _, err := h.engine.Attack(ctx, actor); !errors.Is(err, ErrNoActiveBoss) {
		t.Fatalf("err = %v, want ErrNoActiveBoss", err)
	}

	if err := h.engine.RefreshNotification(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	h.createBoss(t, 1000)
	if _, err := h.engine.Attack(ctx, actor); err != nil {
		t.Fatalf("attack right after a rejected one: %v", err)
	}
}
