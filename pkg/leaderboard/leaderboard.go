// Package leaderboard keeps the monthly score table. SQL is the source of
// truth; a redis sorted set mirrors it for cheap top-N reads. A mirror is only
// read while its synced marker is alive and no write has missed it, otherwise
// it is rebuilt from SQL first.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/logger"
	"github.com/sonastea/questbot/pkg/repository"
)

const (
	// mirrors outlive their month so late reads still hit redis
	mirrorTTL = 62 * 24 * time.Hour

	// resyncInterval bounds how long a mirror is trusted without a rebuild.
	resyncInterval = 10 * time.Minute

	// rebuildLimit is how many SQL rows a rebuild copies into the mirror.
	rebuildLimit = 1000
)

var log = logger.Named("leaderboard")

// Store is the persistence the board needs.
type Store interface {
	repository.LeaderboardRepository
	GetUserByID(ctx context.Context, userID int64) (*entity.User, error)
}

type Board struct {
	store Store
	redis *redis.Client

	// writers hold mu shared across their SQL write and mirror update, a
	// rebuild holds it exclusively so no increment lands in both.
	mu sync.RWMutex

	staleMu sync.Mutex
	stale   map[string]bool
}

// New returns a board. rdb may be nil, in which case only SQL is used.
func New(store Store, rdb *redis.Client) *Board {
	return &Board{store: store, redis: rdb, stale: make(map[string]bool)}
}

// Key is the sorted set holding the scores of a month.
func Key(month, year int) string {
	return fmt.Sprintf("leaderboard:%04d-%02d", year, month)
}

func syncedKey(key string) string {
	return key + ":synced"
}

// AddScore adds points to the user's score for the month containing at.
func (b *Board) AddScore(ctx context.Context, userID int64, points int64, at time.Time) error {
	if points <= 0 {
		return nil
	}
	at = at.UTC()
	month, year := int(at.Month()), at.Year()

	if b.redis != nil {
		b.mu.RLock()
		defer b.mu.RUnlock()
	}
	if err := b.store.UpdateLeaderboardScore(ctx, userID, month, year, points, at); err != nil {
		return err
	}

	if b.redis == nil {
		return nil
	}
	key := Key(month, year)
	pipe := b.redis.Pipeline()
	pipe.ZIncrBy(ctx, key, float64(points), strconv.FormatInt(userID, 10))
	pipe.Expire(ctx, key, mirrorTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn("Failed to mirror score for user %d: %v", userID, err)
		b.markStale(ctx, key)
	}
	return nil
}

// markStale forces the next read of key to rebuild the mirror.
func (b *Board) markStale(ctx context.Context, key string) {
	b.staleMu.Lock()
	b.stale[key] = true
	b.staleMu.Unlock()

	// lets other processes sharing the mirror notice too, when redis is back
	_ = b.redis.Del(ctx, syncedKey(key)).Err()
}

func (b *Board) isStale(key string) bool {
	b.staleMu.Lock()
	defer b.staleMu.Unlock()
	return b.stale[key]
}

// ensureSynced rebuilds the mirror of a month when a write missed it or its
// synced marker has lapsed.
func (b *Board) ensureSynced(ctx context.Context, month, year int) error {
	key := Key(month, year)
	if !b.isStale(key) {
		n, err := b.redis.Exists(ctx, syncedKey(key)).Result()
		if err != nil {
			return fmt.Errorf("failed to check leaderboard mirror: %w", err)
		}
		if n == 1 {
			return nil
		}
	}
	return b.rebuild(ctx, month, year)
}

// rebuild replaces the mirror of a month with the SQL scores.
func (b *Board) rebuild(ctx context.Context, month, year int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := Key(month, year)
	entries, err := b.store.GetLeaderboard(ctx, month, year, rebuildLimit)
	if err != nil {
		return err
	}

	members := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		members = append(members, redis.Z{Score: float64(e.Score), Member: strconv.FormatInt(e.UserID, 10)})
	}
	_, err = b.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
			pipe.Expire(ctx, key, mirrorTTL)
		}
		pipe.Set(ctx, syncedKey(key), "1", resyncInterval)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild leaderboard mirror: %w", err)
	}

	b.staleMu.Lock()
	delete(b.stale, key)
	b.staleMu.Unlock()
	log.Debug("Rebuilt leaderboard mirror %s with %d entries", key, len(members))
	return nil
}

// Top returns the best n entries of a month, from redis when it is reachable
// and in sync, from SQL otherwise.
func (b *Board) Top(ctx context.Context, month, year, n int) ([]entity.LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}
	if b.redis != nil {
		entries, err := b.topFromMirror(ctx, month, year, n)
		if err == nil && len(entries) > 0 {
			return entries, nil
		}
		if err != nil {
			log.Warn("Falling back to SQL leaderboard: %v", err)
		}
	}
	return b.store.GetLeaderboard(ctx, month, year, n)
}

func (b *Board) topFromMirror(ctx context.Context, month, year, n int) ([]entity.LeaderboardEntry, error) {
	if err := b.ensureSynced(ctx, month, year); err != nil {
		return nil, err
	}
	players, err := b.redis.ZRevRangeWithScores(ctx, Key(month, year), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard mirror: %w", err)
	}

	entries := make([]entity.LeaderboardEntry, 0, len(players))
	for i, z := range players {
		member, _ := z.Member.(string)
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad leaderboard member %q: %w", member, err)
		}
		u, err := b.store.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, entity.LeaderboardEntry{
			UserID:    userID,
			DiscordID: u.DiscordID,
			Username:  u.Username,
			Month:     month,
			Year:      year,
			Score:     int64(z.Score),
			Rank:      i + 1,
		})
	}
	return entries, nil
}
