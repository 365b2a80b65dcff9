package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/progression"
)

const sqliteBossColumns = `
	id, boss_type, name, server_id, health, max_health, reward_currency,
	reward_gems, spawned_at, expires_at, defeated, defeated_at, message_ref`

func scanSQLiteBoss(row rowScanner) (*entity.Boss, error) {
	var (
		b                    entity.Boss
		spawnedAt, expiresAt int64
		defeatedAt           sql.NullInt64
	)
	err := row.Scan(
		&b.ID,
		&b.Type,
		&b.Name,
		&b.ServerID,
		&b.Health,
		&b.MaxHealth,
		&b.RewardCurrency,
		&b.RewardGems,
		&spawnedAt,
		&expiresAt,
		&b.Defeated,
		&defeatedAt,
		&b.MessageRef,
	)
	if err != nil {
		return nil, err
	}
	b.SpawnedAt = fromMillis(spawnedAt)
	b.ExpiresAt = fromMillis(expiresAt)
	b.DefeatedAt = timePtr(defeatedAt)
	return &b, nil
}

func (s *SQLiteStore) getBoss(ctx context.Context, op, query string, args ...any) (*entity.Boss, error) {
	b, err := scanSQLiteBoss(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return b, nil
}

func (s *SQLiteStore) FindActiveBoss(ctx context.Context, now time.Time) (*entity.Boss, error) {
	return s.getBoss(ctx, "find active boss",
		`SELECT `+sqliteBossColumns+` FROM bosses WHERE defeated = 0 AND expires_at > ? LIMIT 1`, toMillis(now))
}

func (s *SQLiteStore) FindOpenBoss(ctx context.Context) (*entity.Boss, error) {
	return s.getBoss(ctx, "find open boss",
		`SELECT `+sqliteBossColumns+` FROM bosses WHERE defeated = 0 LIMIT 1`)
}

func (s *SQLiteStore) GetBoss(ctx context.Context, bossID int64) (*entity.Boss, error) {
	return s.getBoss(ctx, "get boss", `SELECT `+sqliteBossColumns+` FROM bosses WHERE id = ?`, bossID)
}

func (s *SQLiteStore) CreateBoss(ctx context.Context, b *entity.Boss) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bosses (
			boss_type, name, server_id, health, max_health, reward_currency,
			reward_gems, spawned_at, expires_at, message_ref
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Type, b.Name, b.ServerID, b.Health, b.MaxHealth, b.RewardCurrency,
		b.RewardGems, toMillis(b.SpawnedAt), toMillis(b.ExpiresAt), b.MessageRef,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err, "bosses") {
			return ErrBossActive
		}
		return fmt.Errorf("failed to create boss: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read boss id: %w", err)
	}
	b.ID = id
	return nil
}

func (s *SQLiteStore) SetBossMessageRef(ctx context.Context, bossID int64, ref string) error {
	return s.execAffecting(ctx, "set boss message ref",
		`UPDATE bosses SET message_ref = ? WHERE id = ?`, ref, bossID)
}

func sqliteDamageBoss(ctx context.Context, q sqlQuerier, bossID int64, amount int, now time.Time) (*entity.Boss, error) {
	b, err := scanSQLiteBoss(q.QueryRowContext(ctx, `
		UPDATE bosses SET health = MAX(0, health - ?)
		WHERE id = ? AND defeated = 0 AND health > 0 AND expires_at > ?
		RETURNING `+sqliteBossColumns, amount, bossID, toMillis(now)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to damage boss: %w", err)
	}
	return b, nil
}

func sqliteUpsertParticipant(ctx context.Context, q sqlQuerier, bossID, userID, damage int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO boss_participants (boss_id, user_id, damage, attacks) VALUES (?, ?, ?, 1)
		ON CONFLICT(boss_id, user_id) DO UPDATE
		SET damage = boss_participants.damage + excluded.damage,
			attacks = boss_participants.attacks + 1`,
		bossID, userID, damage)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ApplyBossDamage(ctx context.Context, bossID int64, amount int, now time.Time) (*entity.Boss, error) {
	return sqliteDamageBoss(ctx, s.db, bossID, amount, now)
}

func (s *SQLiteStore) UpsertParticipant(ctx context.Context, bossID, userID int64, damage int64) error {
	return sqliteUpsertParticipant(ctx, s.db, bossID, userID, damage)
}

func (s *SQLiteStore) RecordAttack(ctx context.Context, bossID, userID int64, amount int, now time.Time) (*entity.Boss, error) {
	var b *entity.Boss
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if b, err = sqliteDamageBoss(ctx, tx, bossID, amount, now); err != nil {
			return err
		}
		return sqliteUpsertParticipant(ctx, tx, bossID, userID, int64(amount))
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SQLiteStore) MarkBossDefeated(ctx context.Context, bossID int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bosses SET defeated = 1, defeated_at = ? WHERE id = ? AND defeated = 0`, toMillis(at), bossID)
	if err != nil {
		return false, fmt.Errorf("failed to mark boss defeated: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark boss defeated: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) GetParticipantsRanked(ctx context.Context, bossID int64) ([]entity.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.boss_id, p.user_id, u.discord_id, u.username, p.damage, p.attacks
		FROM boss_participants p
		INNER JOIN users u ON u.id = p.user_id
		WHERE p.boss_id = ?
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

func (s *SQLiteStore) LastSpawnAt(ctx context.Context) (time.Time, bool, error) {
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(spawned_at) FROM bosses`).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last spawn: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(last.Int64), true, nil
}

func (s *SQLiteStore) RecentBosses(ctx context.Context, limit int) ([]entity.Boss, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteBossColumns+` FROM bosses ORDER BY spawned_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bosses: %w", err)
	}
	defer rows.Close()

	var out []entity.Boss
	for rows.Next() {
		b, err := scanSQLiteBoss(rows)
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

func (s *SQLiteStore) SettlePvP(ctx context.Context, m *entity.Match, r progression.Reward) (progression.Outcome, error) {
	var out progression.Outcome
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if out, err = sqliteApplyReward(ctx, tx, m.WinnerID, r); err != nil {
			return err
		}
		at := toMillis(m.CreatedAt)
		if _, err = tx.ExecContext(ctx, `
			UPDATE users SET pvp_wins = pvp_wins + 1, health = max_health, updated_at = ? WHERE id = ?`,
			at, m.WinnerID); err != nil {
			return fmt.Errorf("failed to update winner: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `
			UPDATE users SET pvp_losses = pvp_losses + 1, health = max_health, updated_at = ? WHERE id = ?`,
			at, m.LoserID); err != nil {
			return fmt.Errorf("failed to update loser: %w", err)
		}

		m.Currency, m.Gems, m.Experience = r.Currency, r.Gems, r.Experience
		res, err := tx.ExecContext(ctx, `
			INSERT INTO pvp_matches (winner_id, loser_id, rounds, currency, gems, experience, forfeit, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.WinnerID, m.LoserID, m.Rounds, m.Currency, m.Gems, m.Experience, boolInt(m.Forfeit), toMillis(m.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to record match: %w", err)
		}
		if m.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read match id: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *SQLiteStore) RecentMatches(ctx context.Context, userID int64, limit int) ([]entity.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, winner_id, loser_id, rounds, currency, gems, experience, forfeit, created_at
		FROM pvp_matches
		WHERE winner_id = ? OR loser_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var out []entity.Match
	for rows.Next() {
		var (
			m         entity.Match
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.WinnerID, &m.LoserID, &m.Rounds, &m.Currency, &m.Gems,
			&m.Experience, &m.Forfeit, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateLeaderboardScore(ctx context.Context, userID int64, month, year int, delta int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard_scores (user_id, month, year, score, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, month, year) DO UPDATE
		SET score = leaderboard_scores.score + excluded.score, updated_at = excluded.updated_at`,
		userID, month, year, delta, toMillis(at))
	if err != nil {
		return fmt.Errorf("failed to update leaderboard score: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLeaderboard(ctx context.Context, month, year, limit int) ([]entity.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.user_id, u.discord_id, u.username, l.month, l.year, l.score
		FROM leaderboard_scores l
		INNER JOIN users u ON u.id = l.user_id
		WHERE l.month = ? AND l.year = ?
		ORDER BY l.score DESC, l.user_id ASC
		LIMIT ?`, month, year, limit)
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
