package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sonastea/questbot/pkg/boss"
	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/service"
)

// stubService implements only what each test touches; the embedded nil
// interface panics on anything else.
type stubService struct {
	service.GameService

	status      func(context.Context) (*entity.BossSnapshot, error)
	attack      func(context.Context, entity.Actor) (*boss.AttackResult, error)
	leaderboard func(ctx context.Context, month, year, n int) ([]entity.LeaderboardEntry, error)
	spawn       func(ctx context.Context, guildID, templateID string) (*entity.Boss, error)
}

func (s *stubService) BossStatus(ctx context.Context) (*entity.BossSnapshot, error) {
	return s.status(ctx)
}

func (s *stubService) AttackBoss(ctx context.Context, actor entity.Actor) (*boss.AttackResult, error) {
	return s.attack(ctx, actor)
}

func (s *stubService) Leaderboard(ctx context.Context, month, year, n int) ([]entity.LeaderboardEntry, error) {
	return s.leaderboard(ctx, month, year, n)
}

func (s *stubService) ForceSpawn(ctx context.Context, guildID, templateID string) (*entity.Boss, error) {
	return s.spawn(ctx, guildID, templateID)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestValidationErrorsKeepTheirMessage(t *testing.T) {
	h := NewApiHandler(&stubService{
		status: func(context.Context) (*entity.BossSnapshot, error) { return nil, boss.ErrNoActiveBoss },
	}, "")

	rec := httptest.NewRecorder()
	h.BossStatus(rec, httptest.NewRequest(http.MethodGet, "/boss", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp := decode(t, rec); resp.Success || resp.Error != boss.ErrNoActiveBoss.Message {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	h := NewApiHandler(&stubService{
		status: func(context.Context) (*entity.BossSnapshot, error) {
			return nil, errors.New("pq: connection refused")
		},
	}, "")

	rec := httptest.NewRecorder()
	h.BossStatus(rec, httptest.NewRequest(http.MethodGet, "/boss", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp := decode(t, rec); resp.Error != "something went wrong" {
		t.Fatalf("error = %q", resp.Error)
	}
}

func TestAttackBossRequiresActor(t *testing.T) {
	var got entity.Actor
	h := NewApiHandler(&stubService{
		attack: func(_ context.Context, a entity.Actor) (*boss.AttackResult, error) {
			got = a
			return &boss.AttackResult{Damage: 12}, nil
		},
	}, "")

	rec := httptest.NewRecorder()
	h.AttackBoss(rec, httptest.NewRequest(http.MethodGet, "/boss/attack", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.AttackBoss(rec, httptest.NewRequest(http.MethodPost, "/boss/attack", strings.NewReader(`{"username":"alice"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing id status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.AttackBoss(rec, httptest.NewRequest(http.MethodPost, "/boss/attack", strings.NewReader(`{not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.AttackBoss(rec, httptest.NewRequest(http.MethodPost, "/boss/attack",
		strings.NewReader(`{"discord_id":"d1","username":"alice"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got.DiscordID != "d1" || got.Username != "alice" {
		t.Fatalf("actor = %+v", got)
	}
	resp := decode(t, rec)
	data, _ := resp.Data.(map[string]any)
	if !resp.Success || data["damage"] != float64(12) {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestLeaderboardReadsQuery(t *testing.T) {
	var month, year, n int
	h := NewApiHandler(&stubService{
		leaderboard: func(_ context.Context, m, y, limit int) ([]entity.LeaderboardEntry, error) {
			month, year, n = m, y, limit
			return []entity.LeaderboardEntry{{Username: "alice", Score: 40, Rank: 1}}, nil
		},
	}, "")

	rec := httptest.NewRecorder()
	h.GetLeaderboard(rec, httptest.NewRequest(http.MethodGet, "/leaderboard?month=2&year=2026&limit=3", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if month != 2 || year != 2026 || n != 3 {
		t.Fatalf("query = %d/%d/%d", month, year, n)
	}
}

func TestAdminRequiresBearerToken(t *testing.T) {
	called := 0
	h := NewApiHandler(&stubService{
		spawn: func(_ context.Context, guildID, templateID string) (*entity.Boss, error) {
			called++
			return &entity.Boss{ID: 7, ServerID: guildID, Type: templateID}, nil
		},
	}, "s3cret")
	spawn := h.Admin(h.SpawnBoss)

	for _, header := range []string{"", "s3cret", "Bearer wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/admin/boss/spawn", strings.NewReader(`{"guild_id":"g1"}`))
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		spawn(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
	if called != 0 {
		t.Fatalf("spawn called %d times without auth", called)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/boss/spawn", strings.NewReader(`{"guild_id":"g1","template":"frost_giant"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	spawn(rec, req)
	if rec.Code != http.StatusCreated || called != 1 {
		t.Fatalf("status = %d, called = %d", rec.Code, called)
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	h := NewApiHandler(&stubService{}, "")
	req := httptest.NewRequest(http.MethodPost, "/admin/boss/clear", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.Admin(h.ClearBoss)(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
