package penalty

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS safeguard_penalties (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		player_key   TEXT NOT NULL,
		player       TEXT NOT NULL,
		type         TEXT NOT NULL,
		reason       TEXT NOT NULL,
		created_ms   INTEGER NOT NULL,
		duration_ms  INTEGER NOT NULL DEFAULT 0,
		expires_ms   INTEGER NULL
	);
	CREATE INDEX IF NOT EXISTS safeguard_penalties_player_idx
		ON safeguard_penalties (player_key, created_ms DESC)`

// SQLiteStore is a single-node durable store. Like PostgresStore it keeps
// the full audit trail. Timestamps are Unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database file at path and its schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, p *Penalty) error {
	if p == nil {
		return fmt.Errorf("nil penalty")
	}
	const query = `
		INSERT OR IGNORE INTO safeguard_penalties (
			id, player_key, player, type, reason, created_ms, duration_ms, expires_ms
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var expires sql.NullInt64
	if !p.ExpiresAt.IsZero() {
		expires = sql.NullInt64{Int64: p.ExpiresAt.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		p.ID.String(),
		playerKey(p.Player),
		p.Player,
		string(p.Type),
		p.Reason,
		p.CreatedAt.UnixMilli(),
		p.Duration.Milliseconds(),
		expires,
	)
	if err != nil {
		return fmt.Errorf("insert penalty: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, player string) ([]*Penalty, error) {
	const query = `
		SELECT id, player, type, reason, created_ms, duration_ms, expires_ms
		FROM safeguard_penalties
		WHERE player_key = ?
		ORDER BY created_ms DESC, seq DESC`

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
			createdMS  int64
			durationMS int64
			expiresMS  sql.NullInt64
		)
		if err := rows.Scan(&id, &p.Player, &typ, &p.Reason, &createdMS, &durationMS, &expiresMS); err != nil {
			return nil, fmt.Errorf("scan penalty: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse penalty id: %w", err)
		}
		p.Type = Type(typ)
		p.CreatedAt = time.UnixMilli(createdMS).UTC()
		p.Duration = time.Duration(durationMS) * time.Millisecond
		if expiresMS.Valid {
			p.ExpiresAt = time.UnixMilli(expiresMS.Int64).UTC()
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate penalties: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }
