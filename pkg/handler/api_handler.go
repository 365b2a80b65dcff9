package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/gameerr"
	"github.com/sonastea/questbot/pkg/logger"
	"github.com/sonastea/questbot/pkg/service"
)

var log = logger.Named("api")

// maxBodyBytes bounds request bodies; every request here is a small JSON object.
const maxBodyBytes = 1 << 16

type ApiHandler struct {
	gameService service.GameService
	adminToken  string
}

// NewApiHandler builds the handler. An empty adminToken disables admin routes.
func NewApiHandler(gameService service.GameService, adminToken string) *ApiHandler {
	return &ApiHandler{
		gameService: gameService,
		adminToken:  adminToken,
	}
}

type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ActorRequest identifies the player a bot command came from.
type ActorRequest struct {
	DiscordID string `json:"discord_id"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

func (a ActorRequest) actor() entity.Actor {
	return entity.Actor{DiscordID: a.DiscordID, Username: a.Username, IsBot: a.IsBot}
}

type ChallengeRequest struct {
	ActorRequest
	OpponentID string `json:"opponent_id"`
}

// BattleRequest acts on a challenge or battle by key.
type BattleRequest struct {
	Key       string `json:"key"`
	DiscordID string `json:"discord_id"`
}

type QuestRequest struct {
	ActorRequest
	Difficulty string `json:"difficulty"`
}

type EquipRequest struct {
	ActorRequest
	Slot   string `json:"slot"`
	ItemID string `json:"item_id"`
}

type TravelRequest struct {
	ActorRequest
	Destination string `json:"destination"`
	Minutes     int    `json:"minutes"`
}

type PvPToggleRequest struct {
	ActorRequest
	Enabled bool `json:"enabled"`
}

type SpawnRequest struct {
	GuildID  string `json:"guild_id"`
	Template string `json:"template,omitempty"`
}

func errorResponse(err string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
	}
}

func successResponse(data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

func writeJSON(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// writeError shows validation failures verbatim and hides everything else.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var v *gameerr.Error
	if errors.As(err, &v) {
		writeJSON(w, statusFor(v.Code), errorResponse(v.Message))
		return
	}
	log.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	writeJSON(w, http.StatusInternalServerError, errorResponse(gameerr.Message(err)))
}

func statusFor(code string) int {
	switch {
	case strings.HasSuffix(code, "_not_found"), code == "no_active_boss", code == "unknown_user":
		return http.StatusNotFound
	case code == "not_authorized", code == "not_combatant":
		return http.StatusForbidden
	case code == "attack_cooldown":
		return http.StatusTooManyRequests
	case code == "boss_active", code == "challenge_pending", code == "in_battle", code == "not_your_turn":
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// readJSON enforces the method and decodes the body into v. It writes the
// response itself when it returns false.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse("Method not allowed"))
		return false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("Error reading request body"))
		return false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("Invalid JSON format"))
		return false
	}
	return true
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse("Method not allowed"))
		return false
	}
	return true
}

func validActor(w http.ResponseWriter, a ActorRequest) bool {
	if strings.TrimSpace(a.DiscordID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("discord_id is required"))
		return false
	}
	return true
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// Admin guards next with the static bearer token.
func (h *ApiHandler) Admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.adminToken == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse("Not authorized"))
			return
		}
		next(w, r)
	}
}

// BossStatus returns the active boss and its fighters.
func (h *ApiHandler) BossStatus(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	snap, err := h.gameService.BossStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(snap))
}

func (h *ApiHandler) BossHistory(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	bosses, err := h.gameService.BossHistory(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(bosses))
}

// AttackBoss handles the attack command.
func (h *ApiHandler) AttackBoss(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !readJSON(w, r, &req) || !validActor(w, req) {
		return
	}
	res, err := h.gameService.AttackBoss(r.Context(), req.actor())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(res))
}

func (h *ApiHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if !readJSON(w, r, &req) || !validActor(w, req.ActorRequest) {
		return
	}
	c, err := h.gameService.Challenge(r.Context(), req.actor(), req.OpponentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, successResponse(c))
}

// battleAction adapts the key-and-player endpoints.
func (h *ApiHandler) battleAction(do func(*http.Request, BattleRequest) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BattleRequest
		if !readJSON(w, r, &req) {
			return
		}
		if req.Key == "" || req.DiscordID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse("key and discord_id are required"))
			return
		}
		data, err := do(r, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse(data))
	}
}

func (h *ApiHandler) AcceptChallenge(w http.ResponseWriter, r *http.Request) {
	h.battleAction(func(r *http.Request, req BattleRequest) (any, error) {
		return h.gameService.AcceptChallenge(r.Context(), req.Key, req.DiscordID)
	})(w, r)
}

func (h *ApiHandler) DeclineChallenge(w http.ResponseWriter, r *http.Request) {
	h.battleAction(func(r *http.Request, req BattleRequest) (any, error) {
		return nil, h.gameService.DeclineChallenge(r.Context(), req.Key, req.DiscordID)
	})(w, r)
}

func (h *ApiHandler) CancelChallenge(w http.ResponseWriter, r *http.Request) {
	h.battleAction(func(r *http.Request, req BattleRequest) (any, error) {
		return nil, h.gameService.CancelChallenge(r.Context(), req.Key, req.DiscordID)
	})(w, r)
}

func (h *ApiHandler) PvPAttack(w http.ResponseWriter, r *http.Request) {
	h.battleAction(func(r *http.Request, req BattleRequest) (any, error) {
		return h.gameService.PvPAttack(r.Context(), req.Key, req.DiscordID)
	})(w, r)
}

func (h *ApiHandler) Forfeit(w http.ResponseWriter, r *http.Request) {
	h.battleAction(func(r *http.Request, req BattleRequest) (any, error) {
		return h.gameService.Forfeit(r.Context(), req.Key, req.DiscordID)
	})(w, r)
}

// Profile returns the caller's sheet on POST, or looks up discord_id on GET.
func (h *ApiHandler) Profile(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		p, err := h.gameService.LookupProfile(r.Context(), r.URL.Query().Get("discord_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse(p))
		return
	}

	var req ActorRequest
	if !readJSON(w, r, &req) || !validActor(w, req) {
		return
	}
	p, err := h.gameService.Profile(r.Context(), req.actor())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(p))
}

func (h *ApiHandler) CompleteQuest(w http.ResponseWriter, r *http.Request) {
	var req QuestRequest
	if !readJSON(w, r, &req) || !validActor(w, req.ActorRequest) {
		return
	}
	out, err := h.gameService.CompleteQuest(r.Context(), req.actor(), req.Difficulty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(out))
}

func (h *ApiHandler) Equip(w http.ResponseWriter, r *http.Request) {
	var req EquipRequest
	if !readJSON(w, r, &req) || !validActor(w, req.ActorRequest) {
		return
	}
	l, err := h.gameService.Equip(r.Context(), req.actor(), req.Slot, req.ItemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(l))
}

func (h *ApiHandler) Travel(w http.ResponseWriter, r *http.Request) {
	var req TravelRequest
	if !readJSON(w, r, &req) || !validActor(w, req.ActorRequest) {
		return
	}
	u, err := h.gameService.Travel(r.Context(), req.actor(), req.Destination, time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(u))
}

func (h *ApiHandler) SetPvP(w http.ResponseWriter, r *http.Request) {
	var req PvPToggleRequest
	if !readJSON(w, r, &req) || !validActor(w, req.ActorRequest) {
		return
	}
	if err := h.gameService.SetPvP(r.Context(), req.actor(), req.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(map[string]bool{"pvp_enabled": req.Enabled}))
}

// GetLeaderboard handles retrieving the monthly leaderboard
func (h *ApiHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	entries, err := h.gameService.Leaderboard(r.Context(), queryInt(r, "month"), queryInt(r, "year"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(entries))
}

// SetServer registers a guild and its boss opt-in.
func (h *ApiHandler) SetServer(w http.ResponseWriter, r *http.Request) {
	var req entity.Server
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.gameService.SetServerBosses(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(req))
}

func (h *ApiHandler) SpawnBoss(w http.ResponseWriter, r *http.Request) {
	var req SpawnRequest
	if !readJSON(w, r, &req) {
		return
	}
	b, err := h.gameService.ForceSpawn(r.Context(), req.GuildID, req.Template)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info("Admin spawned boss #%d in %s", b.ID, b.ServerID)
	writeJSON(w, http.StatusCreated, successResponse(b))
}

func (h *ApiHandler) ClearBoss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse("Method not allowed"))
		return
	}
	b, err := h.gameService.ForceClear(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info("Admin cleared boss #%d", b.ID)
	writeJSON(w, http.StatusOK, successResponse(b))
}
