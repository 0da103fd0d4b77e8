package penalty

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const schema = `
	CREATE TABLE IF NOT EXISTS safeguard_penalties (
		seq          BIGSERIAL PRIMARY KEY,
		id           UUID NOT NULL UNIQUE,
		player_key   TEXT NOT NULL,
		player       TEXT NOT NULL,
		type         TEXT NOT NULL,
		reason       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		duration_ms  BIGINT NOT NULL DEFAULT 0,
		expires_at   TIMESTAMPTZ NULL
	);
	CREATE INDEX IF NOT EXISTS safeguard_penalties_player_idx
		ON safeguard_penalties (player_key, created_at DESC)`

// PostgresStore keeps the full penalty audit trail; Sweep never deletes rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a pooled connection and verifies it with a ping.
func OpenPostgres(databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create safeguard_penalties: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, p *Penalty) error {
	if p == nil {
		return fmt.Errorf("nil penalty")
	}
	const query = `
		INSERT INTO safeguard_penalties (
			id, player_key, player, type, reason, created_at, duration_ms, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	var expires sql.NullTime
	if !p.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: p.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		p.ID.String(),
		playerKey(p.Player),
		p.Player,
		string(p.Type),
		p.Reason,
		p.CreatedAt,
		p.Duration.Milliseconds(),
		expires,
	)
	if err != nil {
		return fmt.Errorf("insert penalty: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, player string) ([]*Penalty, error) {
	const query = `
		SELECT
			id,
			player,
			type,
			reason,
			created_at,
			duration_ms,
			expires_at
		FROM safeguard_penalties
		WHERE player_key = $1
		ORDER BY created_at DESC, seq DESC`

	rows, err := s.db.QueryContext(ctx, query, playerKey(player))
	if err != nil {
		return nil, fmt.Errorf("select penalties: %w", err)
	}
	defer rows.Close()

	var out []*Penalty
	for rows.Next() {
		var (
			p          Penalty
			id         string
			typ        string
			durationMS int64
			expires    sql.NullTime
		)
		if err := rows.Scan(&id, &p.Player, &typ, &p.Reason, &p.CreatedAt, &durationMS, &expires); err != nil {
			return nil, fmt.Errorf("scan penalty: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse penalty id: %w", err)
		}
		p.Type = Type(typ)
		p.Duration = time.Duration(durationMS) * time.Millisecond
		if expires.Valid {
			p.ExpiresAt = expires.Time
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate penalties: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }
