package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sonastea/questbot/pkg/arena"
	"github.com/sonastea/questbot/pkg/boss"
	"github.com/sonastea/questbot/pkg/catalog"
	"github.com/sonastea/questbot/pkg/clock"
	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/gameerr"
	"github.com/sonastea/questbot/pkg/logger"
	"github.com/sonastea/questbot/pkg/progression"
	"github.com/sonastea/questbot/pkg/repository"
)

var (
	ErrUnknownUser       = gameerr.New("unknown_user", "you haven't started playing yet")
	ErrUnknownDifficulty = gameerr.New("unknown_difficulty", "quest difficulty must be easy, medium or hard")
	ErrUnknownItem       = gameerr.New("unknown_item", "no such item")
	ErrInvalidSlot       = gameerr.New("invalid_slot", "slot must be weapon or armor")
	ErrInvalidTravel     = gameerr.New("invalid_travel", "pick a destination and a trip between 1 minute and 24 hours")
	ErrTraveling         = gameerr.New("traveling", "you're still traveling")
	ErrInBattle          = gameerr.New("in_battle", "finish your battle first")
	ErrInvalidPeriod     = gameerr.New("invalid_period", "invalid leaderboard month")
)

var log = logger.Named("service")

const (
	minTrip = time.Minute
	maxTrip = 24 * time.Hour

	recentMatches = 5
)

// Profile is a player's sheet with gear applied.
type Profile struct {
	User          *entity.User       `json:"user"`
	Loadout       catalog.Loadout    `json:"loadout"`
	NextThreshold int64              `json:"next_threshold"`
	Traveling     bool               `json:"traveling"`
	BattleKey     string             `json:"battle_key,omitempty"`
	Challenges    []entity.Challenge `json:"challenges,omitempty"`
	RecentMatches []entity.Match     `json:"recent_matches"`
}

// Scoreboard is the leaderboard surface the service needs.
type Scoreboard interface {
	AddScore(ctx context.Context, userID int64, points int64, at time.Time) error
	Top(ctx context.Context, month, year, n int) ([]entity.LeaderboardEntry, error)
}

// GameService is the entry point for the presentation layer. Validation
// failures come back as *gameerr.Error; anything else is unexpected.
type GameService interface {
	AttackBoss(ctx context.Context, actor entity.Actor) (*boss.AttackResult, error)
	BossStatus(ctx context.Context) (*entity.BossSnapshot, error)
	BossHistory(ctx context.Context, limit int) ([]entity.Boss, error)

	Challenge(ctx context.Context, actor entity.Actor, opponentID string) (*entity.Challenge, error)
	AcceptChallenge(ctx context.Context, key, actingID string) (*entity.Battle, error)
	DeclineChallenge(ctx context.Context, key, actingID string) error
	CancelChallenge(ctx context.Context, key, actingID string) error
	PvPAttack(ctx context.Context, key, actingID string) (*arena.AttackResult, error)
	Forfeit(ctx context.Context, key, actingID string) (*entity.BattleResult, error)

	Profile(ctx context.Context, actor entity.Actor) (*Profile, error)
	LookupProfile(ctx context.Context, discordID string) (*Profile, error)
	CompleteQuest(ctx context.Context, actor entity.Actor, difficulty string) (*progression.Outcome, error)
	Equip(ctx context.Context, actor entity.Actor, slot, itemID string) (*catalog.Loadout, error)
	Travel(ctx context.Context, actor entity.Actor, destination string, trip time.Duration) (*entity.User, error)
	SetPvP(ctx context.Context, actor entity.Actor, enabled bool) error
	Leaderboard(ctx context.Context, month, year, n int) ([]entity.LeaderboardEntry, error)

	SetServerBosses(ctx context.Context, server entity.Server) error
	ForceSpawn(ctx context.Context, guildID, templateID string) (*entity.Boss, error)
	ForceClear(ctx context.Context) (*entity.Boss, error)
}

type gameService struct {
	store   repository.Store
	bosses  *boss.Engine
	arena   *arena.Engine
	board   Scoreboard
	catalog *catalog.Catalog
	clock   clock.Clock
}

// NewGameService wires the engines behind one facade. A nil clock uses real time.
func NewGameService(store repository.Store, bosses *boss.Engine, pvp *arena.Engine, board Scoreboard, cat *catalog.Catalog, c clock.Clock) GameService {
	if c == nil {
		c = clock.Real{}
	}
	return &gameService{
		store:   store,
		bosses:  bosses,
		arena:   pvp,
		board:   board,
		catalog: cat,
		clock:   c,
	}
}

func (s *gameService) AttackBoss(ctx context.Context, actor entity.Actor) (*boss.AttackResult, error) {
	return s.bosses.Attack(ctx, actor)
}

func (s *gameService) BossStatus(ctx context.Context) (*entity.BossSnapshot, error) {
	return s.bosses.ActiveStatus(ctx)
}

func (s *gameService) BossHistory(ctx context.Context, limit int) ([]entity.Boss, error) {
	return s.bosses.History(ctx, limit)
}

func (s *gameService) Challenge(ctx context.Context, actor entity.Actor, opponentID string) (*entity.Challenge, error) {
	return s.arena.Challenge(ctx, actor, opponentID)
}

func (s *gameService) AcceptChallenge(ctx context.Context, key, actingID string) (*entity.Battle, error) {
	return s.arena.Accept(ctx, key, actingID)
}

func (s *gameService) DeclineChallenge(ctx context.Context, key, actingID string) error {
	return s.arena.Decline(ctx, key, actingID)
}

func (s *gameService) CancelChallenge(ctx context.Context, key, actingID string) error {
	return s.arena.Cancel(ctx, key, actingID)
}

func (s *gameService) PvPAttack(ctx context.Context, key, actingID string) (*arena.AttackResult, error) {
	return s.arena.Attack(ctx, key, actingID)
}

func (s *gameService) Forfeit(ctx context.Context, key, actingID string) (*entity.BattleResult, error) {
	return s.arena.Forfeit(ctx, key, actingID)
}

func (s *gameService) Profile(ctx context.Context, actor entity.Actor) (*Profile, error) {
	u, err := s.store.EnsureUser(ctx, actor.DiscordID, actor.Username, actor.IsBot)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, u)
}

// LookupProfile shows another player's sheet without creating them.
func (s *gameService) LookupProfile(ctx context.Context, discordID string) (*Profile, error) {
	u, err := s.userByDiscordID(ctx, discordID)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, u)
}

func (s *gameService) profile(ctx context.Context, u *entity.User) (*Profile, error) {
	matches, err := s.store.RecentMatches(ctx, u.ID, recentMatches)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		User:          u,
		Loadout:       s.catalog.Loadout(u),
		NextThreshold: progression.RequiredExperience(u.Level),
		Traveling:     u.IsTraveling(s.clock.Now()),
		Challenges:    s.arena.PendingFor(u.DiscordID),
		RecentMatches: matches,
	}
	if key, _, ok := s.arena.BattleFor(u.DiscordID); ok {
		p.BattleKey = key
	}
	return p, nil
}

// CompleteQuest credits a finished quest through the shared reward path and
// scores the experience on the monthly board.
func (s *gameService) CompleteQuest(ctx context.Context, actor entity.Actor, difficulty string) (*progression.Outcome, error) {
	r, err := progression.QuestReward(progression.Difficulty(strings.ToLower(difficulty)))
	if err != nil {
		return nil, ErrUnknownDifficulty
	}

	u, err := s.store.EnsureUser(ctx, actor.DiscordID, actor.Username, actor.IsBot)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if u.IsTraveling(now) {
		return nil, ErrTraveling
	}

	out, err := s.store.CompleteQuest(ctx, u.ID, r, now)
	if err != nil {
		return nil, err
	}
	if err := s.board.AddScore(ctx, u.ID, r.Experience, now); err != nil {
		log.Warn("Failed to score quest for %s: %v", u.Username, err)
	}
	if out.LeveledUp {
		log.Info("%s reached level %d", u.Username, out.State.Level)
	}
	return &out, nil
}

// Equip puts itemID in slot. An empty itemID unequips the slot.
func (s *gameService) Equip(ctx context.Context, actor entity.Actor, slot, itemID string) (*catalog.Loadout, error) {
	sl := repository.Slot(strings.ToLower(slot))
	switch sl {
	case repository.SlotWeapon:
		if _, ok := s.catalog.Weapon(itemID); itemID != "" && !ok {
			return nil, ErrUnknownItem
		}
	case repository.SlotArmor:
		if _, ok := s.catalog.Armor(itemID); itemID != "" && !ok {
			return nil, ErrUnknownItem
		}
	default:
		return nil, ErrInvalidSlot
	}

	u, err := s.store.EnsureUser(ctx, actor.DiscordID, actor.Username, actor.IsBot)
	if err != nil {
		return nil, err
	}
	if err := s.store.EquipItem(ctx, u.ID, sl, itemID); err != nil {
		return nil, err
	}
	if sl == repository.SlotWeapon {
		u.WeaponID = itemID
	} else {
		u.ArmorID = itemID
	}
	l := s.catalog.Loadout(u)
	return &l, nil
}

// Travel sends the player away for trip. Travelers can't fight or quest.
func (s *gameService) Travel(ctx context.Context, actor entity.Actor, destination string, trip time.Duration) (*entity.User, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" || trip < minTrip || trip > maxTrip {
		return nil, ErrInvalidTravel
	}

	u, err := s.store.EnsureUser(ctx, actor.DiscordID, actor.Username, actor.IsBot)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if u.IsTraveling(now) {
		return nil, ErrTraveling
	}
	if _, _, ok := s.arena.BattleFor(u.DiscordID); ok {
		return nil, ErrInBattle
	}

	arrives := now.Add(trip)
	if err := s.store.SetTravel(ctx, u.ID, destination, &arrives); err != nil {
		return nil, err
	}
	u.TravelDestination, u.TravelArrivesAt = destination, &arrives
	return u, nil
}

func (s *gameService) SetPvP(ctx context.Context, actor entity.Actor, enabled bool) error {
	u, err := s.store.EnsureUser(ctx, actor.DiscordID, actor.Username, actor.IsBot)
	if err != nil {
		return err
	}
	return s.store.SetPvPEnabled(ctx, u.ID, enabled)
}

// Leaderboard returns the top n of a month. A zero month means the current one.
func (s *gameService) Leaderboard(ctx context.Context, month, year, n int) ([]entity.LeaderboardEntry, error) {
	if month == 0 {
		now := s.clock.Now().UTC()
		month, year = int(now.Month()), now.Year()
	}
	if month < 1 || month > 12 || year < 2000 {
		return nil, ErrInvalidPeriod
	}
	if n <= 0 || n > 100 {
		n = 10
	}
	return s.board.Top(ctx, month, year, n)
}

func (s *gameService) SetServerBosses(ctx context.Context, server entity.Server) error {
	if strings.TrimSpace(server.GuildID) == "" {
		return boss.ErrUnknownServer
	}
	return s.store.UpsertServer(ctx, server)
}

func (s *gameService) ForceSpawn(ctx context.Context, guildID, templateID string) (*entity.Boss, error) {
	return s.bosses.ForceSpawn(ctx, guildID, templateID)
}

func (s *gameService) ForceClear(ctx context.Context) (*entity.Boss, error) {
	return s.bosses.ForceClear(ctx)
}

// userByDiscordID maps a missing profile to a validation error.
func (s *gameService) userByDiscordID(ctx context.Context, discordID string) (*entity.User, error) {
	u, err := s.store.FindUser(ctx, discordID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	return u, err
}
