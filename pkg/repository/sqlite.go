package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sonastea/questbot/pkg/database"
	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/progression"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLiteStore implements Store on a local SQLite file. Timestamps are stored
// as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens the database at path and applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := database.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isSQLiteUniqueViolation(err error, table string) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") && strings.Contains(message, table+".")
}

const sqliteUserColumns = `
	id, discord_id, username, is_bot, currency, gems, level, experience,
	total_experience, attack, defense, health, max_health, weapon_id, armor_id,
	pvp_wins, pvp_losses, pvp_enabled, travel_destination, travel_arrives_at,
	last_quest_at, created_at, updated_at`

func scanSQLiteUser(row rowScanner) (*entity.User, error) {
	var (
		u                   entity.User
		arrives, lastQuest  sql.NullInt64
		createdAt, updateAt int64
	)
	err := row.Scan(
		&u.ID,
		&u.DiscordID,
		&u.Username,
		&u.IsBot,
		&u.Currency,
		&u.Gems,
		&u.Level,
		&u.Experience,
		&u.TotalExperience,
		&u.Attack,
		&u.Defense,
		&u.Health,
		&u.MaxHealth,
		&u.WeaponID,
		&u.ArmorID,
		&u.PvPWins,
		&u.PvPLosses,
		&u.PvPEnabled,
		&u.TravelDestination,
		&arrives,
		&lastQuest,
		&createdAt,
		&updateAt,
	)
	if err != nil {
		return nil, err
	}
	u.TravelArrivesAt = timePtr(arrives)
	u.LastQuestAt = timePtr(lastQuest)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updateAt)
	return &u, nil
}

func (s *SQLiteStore) EnsureUser(ctx context.Context, discordID, username string, isBot bool) (*entity.User, error) {
	now := toMillis(time.Now())
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (discord_id, username, is_bot, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(discord_id) DO UPDATE
		SET username = CASE WHEN excluded.username = '' THEN users.username ELSE excluded.username END,
			updated_at = excluded.updated_at
		RETURNING `+sqliteUserColumns,
		discordID, username, boolInt(isBot), now, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) getUser(ctx context.Context, op, query string, args ...any) (*entity.User, error) {
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return u, nil
}

func (s *SQLiteStore) FindUser(ctx context.Context, discordID string) (*entity.User, error) {
	return s.getUser(ctx, "find user", `SELECT `+sqliteUserColumns+` FROM users WHERE discord_id = ?`, discordID)
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, userID int64) (*entity.User, error) {
	return s.getUser(ctx, "get user by id", `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, userID)
}

func sqliteApplyReward(ctx context.Context, q sqlQuerier, userID int64, r progression.Reward) (progression.Outcome, error) {
	var st progression.State
	err := q.QueryRowContext(ctx, `
		SELECT level, experience, total_experience, currency, gems FROM users WHERE id = ?`, userID,
	).Scan(&st.Level, &st.Experience, &st.TotalExperience, &st.Currency, &st.Gems)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return progression.Outcome{}, ErrNotFound
		}
		return progression.Outcome{}, fmt.Errorf("failed to read progress: %w", err)
	}

	out := progression.Apply(st, r)
	_, err = q.ExecContext(ctx, `
		UPDATE users
		SET level = ?, experience = ?, total_experience = ?, currency = ?, gems = ?, updated_at = ?
		WHERE id = ?`,
		out.State.Level, out.State.Experience, out.State.TotalExperience, out.State.Currency, out.State.Gems,
		toMillis(time.Now()), userID,
	)
	if err != nil {
		return progression.Outcome{}, fmt.Errorf("failed to write progress: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ApplyReward(ctx context.Context, userID int64, r progression.Reward) (progression.Outcome, error) {
	var out progression.Outcome
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = sqliteApplyReward(ctx, tx, userID, r)
		return err
	})
	return out, err
}

func (s *SQLiteStore) CompleteQuest(ctx context.Context, userID int64, r progression.Reward, at time.Time) (progression.Outcome, error) {
	var out progression.Outcome
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if out, err = sqliteApplyReward(ctx, tx, userID, r); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `UPDATE users SET last_quest_at = ? WHERE id = ?`, toMillis(at), userID); err != nil {
			return fmt.Errorf("failed to mark quest completed: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *SQLiteStore) execAffecting(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SetPvPEnabled(ctx context.Context, userID int64, enabled bool) error {
	return s.execAffecting(ctx, "set pvp flag",
		`UPDATE users SET pvp_enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), toMillis(time.Now()), userID)
}

func (s *SQLiteStore) SetTravel(ctx context.Context, userID int64, destination string, arrivesAt *time.Time) error {
	return s.execAffecting(ctx, "set travel",
		`UPDATE users SET travel_destination = ?, travel_arrives_at = ?, updated_at = ? WHERE id = ?`,
		destination, nullMillis(arrivesAt), toMillis(time.Now()), userID)
}

func (s *SQLiteStore) EquipItem(ctx context.Context, userID int64, slot Slot, itemID string) error {
	if !validSlot(slot) {
		return fmt.Errorf("unknown equipment slot %q", slot)
	}
	column := "weapon_id"
	if slot == SlotArmor {
		column = "armor_id"
	}
	return s.execAffecting(ctx, "equip "+string(slot),
		`UPDATE users SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		itemID, toMillis(time.Now()), userID)
}

func (s *SQLiteStore) UpsertServer(ctx context.Context, srv entity.Server) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (guild_id, name, channel_id, bosses_enabled, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE
		SET name = excluded.name, channel_id = excluded.channel_id, bosses_enabled = excluded.bosses_enabled`,
		srv.GuildID, srv.Name, srv.ChannelID, boolInt(srv.BossesEnabled), toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert server: %w", err)
	}
	return nil
}

func scanSQLiteServer(row rowScanner) (*entity.Server, error) {
	var (
		srv       entity.Server
		createdAt int64
	)
	if err := row.Scan(&srv.GuildID, &srv.Name, &srv.ChannelID, &srv.BossesEnabled, &createdAt); err != nil {
		return nil, err
	}
	srv.CreatedAt = fromMillis(createdAt)
	return &srv, nil
}

func (s *SQLiteStore) GetServer(ctx context.Context, guildID string) (*entity.Server, error) {
	srv, err := scanSQLiteServer(s.db.QueryRowContext(ctx, `
		SELECT guild_id, name, channel_id, bosses_enabled, created_at FROM servers WHERE guild_id = ?`, guildID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return srv, nil
}

func (s *SQLiteStore) SetBossesEnabled(ctx context.Context, guildID string, enabled bool) error {
	return s.execAffecting(ctx, "toggle bosses",
		`UPDATE servers SET bosses_enabled = ? WHERE guild_id = ?`, boolInt(enabled), guildID)
}

func (s *SQLiteStore) ListOptedInServers(ctx context.Context) ([]entity.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, name, channel_id, bosses_enabled, created_at
		FROM servers WHERE bosses_enabled = 1 ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []entity.Server
	for rows.Next() {
		srv, err := scanSQLiteServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, *srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate servers: %w", err)
	}
	return servers, nil
}
