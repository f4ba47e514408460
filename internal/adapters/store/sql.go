package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/RetroHub/internal/core"
	"github.com/dkeye/RetroHub/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id       BIGINT PRIMARY KEY,
		username TEXT NOT NULL,
		nickname TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS friends (
		user_id   BIGINT NOT NULL,
		target_id BIGINT NOT NULL,
		status    TEXT NOT NULL,
		PRIMARY KEY (user_id, target_id)
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		user_id            BIGINT NOT NULL,
		game_id            BIGINT NOT NULL,
		play_total_ms      BIGINT NOT NULL DEFAULT 0,
		last_play_start_at BIGINT NOT NULL DEFAULT 0,
		last_play_end_at   BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, game_id)
	)`,
}

// SQL is the relational store. Timestamps are unix milliseconds so the
// same statements run on SQLite and Postgres.
type SQL struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ core.UserStore       = (*SQL)(nil)
	_ core.GameRecordStore = (*SQL)(nil)
)

// OpenSQL connects with driver (sqlite or pgx) and creates missing tables.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer; avoids SQLITE_BUSY under concurrent accounting
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info().Str("module", "adapters.store").Str("driver", driver).Msg("database ready")
	return &SQL{db: db, now: time.Now}, nil
}

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) UpsertUser(ctx context.Context, u domain.UserBasic) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET username = $1, nickname = $2 WHERE id = $3`,
		u.Username, u.Nickname, int64(u.ID))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, nickname) VALUES ($1, $2, $3)`,
		int64(u.ID), u.Username, u.Nickname)
	return err
}

// SetFriendship writes both directions of a friendship with the same status.
func (s *SQL) SetFriendship(ctx context.Context, a, b domain.UserID, status domain.FriendStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, pair := range [][2]domain.UserID{{a, b}, {b, a}} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM friends WHERE user_id = $1 AND target_id = $2`,
			int64(pair[0]), int64(pair[1])); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO friends (user_id, target_id, status) VALUES ($1, $2, $3)`,
			int64(pair[0]), int64(pair[1]), string(status)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQL) GetUserBasic(ctx context.Context, id domain.UserID) (domain.UserBasic, error) {
	u := domain.UserBasic{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT username, nickname FROM users WHERE id = $1`, int64(id)).
		Scan(&u.Username, &u.Nickname)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserBasic{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserBasic{}, err
	}
	return u, nil
}

func (s *SQL) GetFriendIDs(ctx context.Context, id domain.UserID) ([]domain.UserID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id FROM friends WHERE user_id = $1 AND status = $2 ORDER BY target_id`,
		int64(id), string(domain.FriendAccept))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.UserID
	for rows.Next() {
		var f int64
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, domain.UserID(f))
	}
	return out, rows.Err()
}

func (s *SQL) StartGame(ctx context.Context, user domain.UserID, game domain.GameID) error {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET last_play_start_at = $1 WHERE user_id = $2 AND game_id = $3`,
		now, int64(user), int64(game))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (user_id, game_id, last_play_start_at) VALUES ($1, $2, $3)`,
		int64(user), int64(game), now)
	return err
}

func (s *SQL) EndGame(ctx context.Context, user domain.UserID, game domain.GameID, ref time.Time) error {
	if ref.IsZero() {
		return nil
	}
	var start int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_play_start_at FROM records WHERE user_id = $1 AND game_id = $2`,
		int64(user), int64(game)).Scan(&start)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	from := max(start, ref.UnixMilli())
	_, err = s.db.ExecContext(ctx,
		`UPDATE records SET play_total_ms = play_total_ms + $1, last_play_end_at = $2 WHERE user_id = $3 AND game_id = $4`,
		max(now-from, 0), now, int64(user), int64(game))
	return err
}

func (s *SQL) PauseGame(ctx context.Context, user domain.UserID, game domain.GameID, ref time.Time) error {
	return s.EndGame(ctx, user, game, ref)
}

// PlayTotal returns the accumulated play time for (user, game).
func (s *SQL) PlayTotal(ctx context.Context, user domain.UserID, game domain.GameID) (time.Duration, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT play_total_ms FROM records WHERE user_id = $1 AND game_id = $2`,
		int64(user), int64(game)).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return time.Duration(ms) * time.Millisecond, err
}
