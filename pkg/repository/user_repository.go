package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/progression"
)

const pgUserColumns = `
	id, discord_id, username, is_bot, currency, gems, level, experience,
	total_experience, attack, defense, health, max_health, weapon_id, armor_id,
	pvp_wins, pvp_losses, pvp_enabled, travel_destination, travel_arrives_at,
	last_quest_at, created_at, updated_at`

func scanPgUser(row pgx.Row) (*entity.User, error) {
	var u entity.User
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
		&u.TravelArrivesAt,
		&u.LastQuestAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser returns the user for discordID, creating the row on first sight.
func (s *PostgresStore) EnsureUser(ctx context.Context, discordID, username string, isBot bool) (*entity.User, error) {
	query := `
		INSERT INTO users (discord_id, username, is_bot) VALUES ($1, $2, $3)
		ON CONFLICT (discord_id) DO UPDATE
		SET username = CASE WHEN EXCLUDED.username = '' THEN users.username ELSE EXCLUDED.username END,
			updated_at = NOW()
		RETURNING ` + pgUserColumns

	u, err := scanPgUser(s.pool.QueryRow(ctx, query, discordID, username, isBot))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return u, nil
}

// FindUser retrieves a user by their discord id
func (s *PostgresStore) FindUser(ctx context.Context, discordID string) (*entity.User, error) {
	u, err := scanPgUser(s.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE discord_id = $1`, discordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// GetUserByID retrieves a user by their persistent id
func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (*entity.User, error) {
	u, err := scanPgUser(s.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return u, nil
}

func pgApplyReward(ctx context.Context, q querier, userID int64, r progression.Reward) (progression.Outcome, error) {
	var st progression.State
	err := q.QueryRow(ctx, `
		SELECT level, experience, total_experience, currency, gems
		FROM users WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&st.Level, &st.Experience, &st.TotalExperience, &st.Currency, &st.Gems)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return progression.Outcome{}, ErrNotFound
		}
		return progression.Outcome{}, fmt.Errorf("failed to read progress: %w", err)
	}

	out := progression.Apply(st, r)
	_, err = q.Exec(ctx, `
		UPDATE users
		SET level = $2, experience = $3, total_experience = $4, currency = $5, gems = $6, updated_at = NOW()
		WHERE id = $1`,
		userID, out.State.Level, out.State.Experience, out.State.TotalExperience, out.State.Currency, out.State.Gems,
	)
	if err != nil {
		return progression.Outcome{}, fmt.Errorf("failed to write progress: %w", err)
	}
	return out, nil
}

// ApplyReward credits r to the user and cascades level-ups.
func (s *PostgresStore) ApplyReward(ctx context.Context, userID int64, r progression.Reward) (progression.Outcome, error) {
	var out progression.Outcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = pgApplyReward(ctx, tx, userID, r)
		return err
	})
	return out, err
}

// CompleteQuest credits a quest reward and stamps the completion time.
func (s *PostgresStore) CompleteQuest(ctx context.Context, userID int64, r progression.Reward, at time.Time) (progression.Outcome, error) {
	var out progression.Outcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if out, err = pgApplyReward(ctx, tx, userID, r); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `UPDATE users SET last_quest_at = $2 WHERE id = $1`, userID, at); err != nil {
			return fmt.Errorf("failed to mark quest completed: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *PostgresStore) execUser(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetPvPEnabled(ctx context.Context, userID int64, enabled bool) error {
	return s.execUser(ctx, "set pvp flag",
		`UPDATE users SET pvp_enabled = $2, updated_at = NOW() WHERE id = $1`, userID, enabled)
}

func (s *PostgresStore) SetTravel(ctx context.Context, userID int64, destination string, arrivesAt *time.Time) error {
	return s.execUser(ctx, "set travel",
		`UPDATE users SET travel_destination = $2, travel_arrives_at = $3, updated_at = NOW() WHERE id = $1`,
		userID, destination, arrivesAt)
}

func (s *PostgresStore) EquipItem(ctx context.Context, userID int64, slot Slot, itemID string) error {
	switch slot {
	case SlotWeapon:
		return s.execUser(ctx, "equip weapon",
			`UPDATE users SET weapon_id = $2, updated_at = NOW() WHERE id = $1`, userID, itemID)
	case SlotArmor:
		return s.execUser(ctx, "equip armor",
			`UPDATE users SET armor_id = $2, updated_at = NOW() WHERE id = $1`, userID, itemID)
	default:
		return fmt.Errorf("unknown equipment slot %q", slot)
	}
}

// UpsertServer records a guild, keeping its creation time on update.
func (s *PostgresStore) UpsertServer(ctx context.Context, srv entity.Server) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO servers (guild_id, name, channel_id, bosses_enabled) VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id) DO UPDATE
		SET name = EXCLUDED.name, channel_id = EXCLUDED.channel_id, bosses_enabled = EXCLUDED.bosses_enabled`,
		srv.GuildID, srv.Name, srv.ChannelID, srv.BossesEnabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert server: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetServer(ctx context.Context, guildID string) (*entity.Server, error) {
	var srv entity.Server
	err := s.pool.QueryRow(ctx, `
		SELECT guild_id, name, channel_id, bosses_enabled, created_at
		FROM servers WHERE guild_id = $1`, guildID,
	).Scan(&srv.GuildID, &srv.Name, &srv.ChannelID, &srv.BossesEnabled, &srv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return &srv, nil
}

func (s *PostgresStore) SetBossesEnabled(ctx context.Context, guildID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE servers SET bosses_enabled = $2 WHERE guild_id = $1`, guildID, enabled)
	if err != nil {
		return fmt.Errorf("failed to toggle bosses: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOptedInServers returns every guild that accepts boss spawns.
func (s *PostgresStore) ListOptedInServers(ctx context.Context) ([]entity.Server, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT guild_id, name, channel_id, bosses_enabled, created_at
		FROM servers WHERE bosses_enabled = TRUE ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []entity.Server
	for rows.Next() {
		var srv entity.Server
		if err := rows.Scan(&srv.GuildID, &srv.Name, &srv.ChannelID, &srv.BossesEnabled, &srv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate servers: %w", err)
	}
	return servers, nil
}
