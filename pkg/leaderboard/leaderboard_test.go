package leaderboard

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/repository"
)

var midMarch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type mirrorFixture struct {
	board *Board
	mr    *miniredis.Miniredis
	alice *entity.User
	carol *entity.User
}

func newMirrorFixture(t *testing.T) *mirrorFixture {
	t.Helper()
	store, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "lb.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	a, _ := store.EnsureUser(ctx, "d1", "alice", false)
	c, _ := store.EnsureUser(ctx, "d2", "carol", false)
	return &mirrorFixture{board: New(store, rdb), mr: mr, alice: a, carol: c}
}

func assertTop(t *testing.T, got []entity.LeaderboardEntry, want ...entity.LeaderboardEntry) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("top = %+v, want %d entries", got, len(want))
	}
	for i := range want {
		if got[i].Username != want[i].Username || got[i].Score != want[i].Score || got[i].Rank != i+1 {
			t.Fatalf("top[%d] = %+v, want %s with %d", i, got[i], want[i].Username, want[i].Score)
		}
	}
}

func TestKeyFormat(t *testing.T) {
	if got := Key(3, 2026); got != "leaderboard:2026-03" {
		t.Fatalf("key = %q", got)
	}
}

func TestAddScoreWithoutMirror(t *testing.T) {
	t.Parallel()
	store, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "lb.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	a, _ := store.EnsureUser(ctx, "d1", "alice", false)
	c, _ := store.EnsureUser(ctx, "d2", "carol", false)

	board := New(store, nil)
	march := time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC)
	april := time.Date(2026, 4, 1, 0, 1, 0, 0, time.UTC)
	_ = board.AddScore(ctx, a.ID, 40, march)
	_ = board.AddScore(ctx, c.ID, 55, march)
	_ = board.AddScore(ctx, a.ID, 30, march)
	_ = board.AddScore(ctx, c.ID, 5, april)
	_ = board.AddScore(ctx, c.ID, 0, march)

	top, err := board.Top(ctx, 3, 2026, 5)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].Username != "alice" || top[0].Score != 70 || top[1].Score != 55 {
		t.Fatalf("top = %+v", top)
	}

	april4, _ := board.Top(ctx, 4, 2026, 5)
	if len(april4) != 1 || april4[0].Score != 5 {
		t.Fatalf("april = %+v", april4)
	}
}

func TestMissedMirrorWriteTriggersRebuild(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)
	ctx := context.Background()

	if top, err := f.board.Top(ctx, 3, 2026, 5); err != nil || len(top) != 0 {
		t.Fatalf("empty top = %+v, %v", top, err)
	}

	f.mr.SetError("ERR mirror down")
	if err := f.board.AddScore(ctx, f.alice.ID, 40, midMarch); err != nil {
		t.Fatalf("add score with redis down: %v", err)
	}
	f.mr.SetError("")
	if err := f.board.AddScore(ctx, f.carol.ID, 10, midMarch); err != nil {
		t.Fatalf("add score: %v", err)
	}

	top, err := f.board.Top(ctx, 3, 2026, 5)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	assertTop(t, top,
		entity.LeaderboardEntry{Username: "alice", Score: 40},
		entity.LeaderboardEntry{Username: "carol", Score: 10})

	score, err := f.mr.ZScore(Key(3, 2026), strconv.FormatInt(f.alice.ID, 10))
	if err != nil || score != 40 {
		t.Fatalf("mirrored alice score = %v, %v", score, err)
	}
}

func TestLostMirrorIsRebuiltFromSQL(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)
	ctx := context.Background()

	_ = f.board.AddScore(ctx, f.alice.ID, 40, midMarch)
	_ = f.board.AddScore(ctx, f.carol.ID, 10, midMarch)
	if _, err := f.board.Top(ctx, 3, 2026, 5); err != nil {
		t.Fatalf("top: %v", err)
	}

	// redis restarted without persistence, then a new score arrived
	f.mr.FlushAll()
	_ = f.board.AddScore(ctx, f.carol.ID, 5, midMarch)

	top, err := f.board.Top(ctx, 3, 2026, 5)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	assertTop(t, top,
		entity.LeaderboardEntry{Username: "alice", Score: 40},
		entity.LeaderboardEntry{Username: "carol", Score: 15})
}

func TestUnreachableMirrorFallsBackToSQL(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)
	ctx := context.Background()

	_ = f.board.AddScore(ctx, f.alice.ID, 40, midMarch)
	f.mr.SetError("ERR mirror down")
	_ = f.board.AddScore(ctx, f.carol.ID, 55, midMarch)

	top, err := f.board.Top(ctx, 3, 2026, 5)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	assertTop(t, top,
		entity.LeaderboardEntry{Username: "carol", Score: 55},
		entity.LeaderboardEntry{Username: "alice", Score: 40})
}
