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

const pgBossColumns = `
	id, boss_type, name, server_id, health, max_health, reward_currency,
	reward_gems, spawned_at, expires_at, defeated, defeated_at, message_ref`

func scanPgBoss(row pgx.Row) (*entity.Boss, error) {
	var b entity.Boss
	err := row.Scan(
		&b.ID,
		&b.Type,
		&b.Name,
		&b.ServerID,
		&b.Health,
		&b.MaxHealth,
		&b.RewardCurrency,
		&b.RewardGems,
		&b.SpawnedAt,
		&b.ExpiresAt,
		&b.Defeated,
		&b.DefeatedAt,
		&b.MessageRef,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) getBoss(ctx context.Context, op, query string, args ...any) (*entity.Boss, error) {
	b, err := scanPgBoss(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return b, nil
}

func (s *PostgresStore) FindActiveBoss(ctx context.Context, now time.Time) (*entity.Boss, error) {
	return s.getBoss(ctx, "find active boss",
		`SELECT `+pgBossColumns+` FROM bosses WHERE defeated = FALSE AND expires_at > $1 LIMIT 1`, now)
}

func (s *PostgresStore) FindOpenBoss(ctx context.Context) (*entity.Boss, error) {
	return s.getBoss(ctx, "find open boss",
		`SELECT `+pgBossColumns+` FROM bosses WHERE defeated = FALSE LIMIT 1`)
}

func (s *PostgresStore) GetBoss(ctx context.Context, bossID int64) (*entity.Boss, error) {
	return s.getBoss(ctx, "get boss", `SELECT `+pgBossColumns+` FROM bosses WHERE id = $1`, bossID)
}

// CreateBoss inserts b. The bosses_one_open index rejects a second open boss.
func (s *PostgresStore) CreateBoss(ctx context.Context, b *entity.Boss) error {
	query := `
		INSERT INTO bosses (
			boss_type, name, server_id, health, max_health, reward_currency,
			reward_gems, spawned_at, expires_at, message_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		b.Type, b.Name, b.ServerID, b.Health, b.MaxHealth, b.RewardCurrency,
		b.RewardGems, b.SpawnedAt, b.ExpiresAt, b.MessageRef,
	).Scan(&b.ID)
	if err != nil {
		if isPgUniqueViolation(err, "bosses_one_open") {
			return ErrBossActive
		}
		return fmt.Errorf("failed to create boss: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetBossMessageRef(ctx context.Context, bossID int64, ref string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE bosses SET message_ref = $2 WHERE id = $1`, bossID, ref)
	if err != nil {
		return fmt.Errorf("failed to set boss message ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func pgDamageBoss(ctx context.Context, q querier, bossID int64, amount int, now time.Time) (*entity.Boss, error) {
	b, err := scanPgBoss(q.QueryRow(ctx, `
		UPDATE bosses SET health = GREATEST(0, health - $2)
		WHERE id = $1 AND defeated = FALSE AND health > 0 AND expires_at > $3
		RETURNING `+pgBossColumns, bossID, amount, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to damage boss: %w", err)
	}
	return b, nil
}

func pgUpsertParticipant(ctx context.Context, q querier, bossID, userID, damage int64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO boss_participants (boss_id, user_id, damage, attacks) VALUES ($1, $2, $3, 1)
		ON CONFLICT (boss_id, user_id) DO UPDATE
		SET damage = boss_participants.damage + EXCLUDED.damage,
			attacks = boss_participants.attacks + 1`,
		bossID, userID, damage)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) ApplyBossDamage(ctx context.Context, bossID int64, amount int, now time.Time) (*entity.Boss, error) {
	return pgDamageBoss(ctx, s.pool, bossID, amount, now)
}

func (s *PostgresStore) UpsertParticipant(ctx context.Context, bossID, userID int64, damage int64) error {
	return pgUpsertParticipant(ctx, s.pool, bossID, userID, damage)
}

func (s *PostgresStore) RecordAttack(ctx context.Context, bossID, userID int64, amount int, now time.Time) (*entity.Boss, error) {
	var b *entity.Boss
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if b, err = pgDamageBoss(ctx, tx, bossID, amount, now); err != nil {
			return err
		}
		return pgUpsertParticipant(ctx, tx, bossID, userID, int64(amount))
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// MarkBossDefeated is the single conditional claim that gates reward fan-out.
func (s *PostgresStore) MarkBossDefeated(ctx context.Context, bossID int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bosses SET defeated = TRUE, defeated_at = $2 WHERE id = $1 AND defeated = FALSE`, bossID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark boss defeated: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetParticipantsRanked orders by damage, breaking ties by earliest user id.
func (s *PostgresStore) GetParticipantsRanked(ctx context.Context, bossID int64) ([]entity.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.boss_id, p.user_id, u.discord_id, u.username, p.damage, p.attacks
		FROM boss_participants p
		INNER JOIN users u ON u.id = p.user_id
		WHERE p.boss_id = $1
		ORDER BY p.damage DESC, p.user_id ASC`, bossID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var out []entity.Participant
	for rows.Next() {
		var p entity.Participant
		if err := rows.Scan(&p.BossID, &p.UserID, &p.DiscordID, &p.Username, &p.Damage, &p.Attacks); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LastSpawnAt(ctx context.Context) (time.Time, bool, error) {
	var last *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(spawned_at) FROM bosses`).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last spawn: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

func (s *PostgresStore) RecentBosses(ctx context.Context, limit int) ([]entity.Boss, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgBossColumns+` FROM bosses ORDER BY spawned_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bosses: %w", err)
	}
	defer rows.Close()

	var out []entity.Boss
	for rows.Next() {
		b, err := scanPgBoss(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan boss: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bosses: %w", err)
	}
	return out, nil
}

// SettlePvP stores the whole outcome of a battle in one transaction.
func (s *PostgresStore) SettlePvP(ctx context.Context, m *entity.Match, r progression.Reward) (progression.Outcome, error) {
	var out progression.Outcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if out, err = pgApplyReward(ctx, tx, m.WinnerID, r); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `
			UPDATE users SET pvp_wins = pvp_wins + 1, health = max_health, updated_at = $2
			WHERE id = $1`, m.WinnerID, m.CreatedAt); err != nil {
			return fmt.Errorf("failed to update winner: %w", err)
		}
		if _, err = tx.Exec(ctx, `
			UPDATE users SET pvp_losses = pvp_losses + 1, health = max_health, updated_at = $2
			WHERE id = $1`, m.LoserID, m.CreatedAt); err != nil {
			return fmt.Errorf("failed to update loser: %w", err)
		}

		m.Currency, m.Gems, m.Experience = r.Currency, r.Gems, r.Experience
		err = tx.QueryRow(ctx, `
			INSERT INTO pvp_matches (winner_id, loser_id, rounds, currency, gems, experience, forfeit, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			m.WinnerID, m.LoserID, m.Rounds, m.Currency, m.Gems, m.Experience, m.Forfeit, m.CreatedAt,
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("failed to record match: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *PostgresStore) RecentMatches(ctx context.Context, userID int64, limit int) ([]entity.Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, winner_id, loser_id, rounds, currency, gems, experience, forfeit, created_at
		FROM pvp_matches
		WHERE winner_id = $1 OR loser_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var out []entity.Match
	for rows.Next() {
		var m entity.Match
		if err := rows.Scan(&m.ID, &m.WinnerID, &m.LoserID, &m.Rounds, &m.Currency, &m.Gems,
			&m.Experience, &m.Forfeit, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateLeaderboardScore(ctx context.Context, userID int64, month, year int, delta int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leaderboard_scores (user_id, month, year, score, updated_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, month, year) DO UPDATE
		SET score = leaderboard_scores.score + EXCLUDED.score, updated_at = EXCLUDED.updated_at`,
		userID, month, year, delta, at)
	if err != nil {
		return fmt.Errorf("failed to update leaderboard score: %w", err)
	}
	return nil
}

// GetLeaderboard retrieves the top scores of a month
func (s *PostgresStore) GetLeaderboard(ctx context.Context, month, year, limit int) ([]entity.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.user_id, u.discord_id, u.username, l.month, l.year, l.score
		FROM leaderboard_scores l
		INNER JOIN users u ON u.id = l.user_id
		WHERE l.month = $1 AND l.year = $2
		ORDER BY l.score DESC, l.user_id ASC
		LIMIT $3`, month, year, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	defer rows.Close()

	var out []entity.LeaderboardEntry
	for rows.Next() {
		var e entity.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.DiscordID, &e.Username, &e.Month, &e.Year, &e.Score); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard: %w", err)
	}
	return out, nil
}
