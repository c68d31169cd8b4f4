// Package sqlite implements core.PersistenceStore backed by SQLite in
// WAL mode, storing each record as a checksummed JSON blob the way the
// teacher's simple engine persists state.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gridbot/internal/apperrors"
	"gridbot/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS bots (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	data TEXT NOT NULL,
	checksum BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bots_owner ON bots(owner_id);

CREATE TABLE IF NOT EXISTS orders (
	local_id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL,
	data TEXT NOT NULL,
	checksum BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_bot ON orders(bot_id);

CREATE TABLE IF NOT EXISTS performance_snapshots (
	bot_id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	checksum BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS key_audit_events (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_user ON key_audit_events(user_id);
`

// Store is a SQLite-backed core.PersistenceStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, enables WAL mode, and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func marshalChecked(v interface{}) (data string, checksum []byte, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("marshal: %w", err)
	}
	// Round-trip the JSON to catch a bad encoder before it reaches disk.
	var probe json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", nil, fmt.Errorf("validate marshal: %w", err)
	}
	sum := sha256.Sum256(raw)
	return string(raw), sum[:], nil
}

func unmarshalChecked(data string, storedChecksum []byte, v interface{}) error {
	computed := sha256.Sum256([]byte(data))
	if len(storedChecksum) != len(computed) {
		return fmt.Errorf("checksum length mismatch")
	}
	for i := range computed {
		if storedChecksum[i] != computed[i] {
			return fmt.Errorf("checksum verification failed: data corruption detected")
		}
	}
	return json.Unmarshal([]byte(data), v)
}

func (s *Store) SaveBot(ctx context.Context, b core.Bot) error {
	data, checksum, err := marshalChecked(b)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bots (id, owner_id, data, checksum, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET owner_id=excluded.owner_id, data=excluded.data, checksum=excluded.checksum, updated_at=excluded.updated_at`,
		b.ID, b.OwnerID, data, checksum, time.Now().UnixNano())
	return err
}

func (s *Store) GetBot(ctx context.Context, botID string) (core.Bot, error) {
	var data string
	var checksum []byte
	err := s.db.QueryRowContext(ctx, `SELECT data, checksum FROM bots WHERE id = ?`, botID).Scan(&data, &checksum)
	if err == sql.ErrNoRows {
		return core.Bot{}, apperrors.ErrNotFound
	}
	if err != nil {
		return core.Bot{}, fmt.Errorf("read bot: %w", err)
	}
	var b core.Bot
	if err := unmarshalChecked(data, checksum, &b); err != nil {
		return core.Bot{}, err
	}
	return b, nil
}

func (s *Store) ListBots(ctx context.Context, ownerID string) ([]core.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data, checksum FROM bots WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()
	return scanBots(rows)
}

// ListActiveBots returns every bot still under management: active and
// paused. Stopped and errored bots are excluded, but paused ones stay
// so the Recovery Service can still reconcile them on startup/manual
// triggers and only skip them on the periodic tick (SPEC_FULL.md §4.2c).
func (s *Store) ListActiveBots(ctx context.Context) ([]core.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data, checksum FROM bots`)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()
	all, err := scanBots(rows)
	if err != nil {
		return nil, err
	}
	out := make([]core.Bot, 0, len(all))
	for _, b := range all {
		if b.State != core.BotStopped && b.State != core.BotError {
			out = append(out, b)
		}
	}
	return out, nil
}

func scanBots(rows *sql.Rows) ([]core.Bot, error) {
	var out []core.Bot
	for rows.Next() {
		var data string
		var checksum []byte
		if err := rows.Scan(&data, &checksum); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		var b core.Bot
		if err := unmarshalChecked(data, checksum, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBot(ctx context.Context, botID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, botID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE bot_id = ?`, botID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM performance_snapshots WHERE bot_id = ?`, botID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SaveOrder(ctx context.Context, o core.Order) error {
	return s.saveOrderTx(ctx, s.db, o)
}

func (s *Store) saveOrderTx(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}, o core.Order) error {
	data, checksum, err := marshalChecked(o)
	if err != nil {
		return err
	}
	_, err = execer.ExecContext(ctx,
		`INSERT INTO orders (local_id, bot_id, data, checksum, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(local_id) DO UPDATE SET bot_id=excluded.bot_id, data=excluded.data, checksum=excluded.checksum, updated_at=excluded.updated_at`,
		o.LocalID, o.BotID, data, checksum, time.Now().UnixNano())
	return err
}

func (s *Store) GetOrder(ctx context.Context, localID string) (core.Order, error) {
	var data string
	var checksum []byte
	err := s.db.QueryRowContext(ctx, `SELECT data, checksum FROM orders WHERE local_id = ?`, localID).Scan(&data, &checksum)
	if err == sql.ErrNoRows {
		return core.Order{}, apperrors.ErrNotFound
	}
	if err != nil {
		return core.Order{}, fmt.Errorf("read order: %w", err)
	}
	var o core.Order
	if err := unmarshalChecked(data, checksum, &o); err != nil {
		return core.Order{}, err
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, botID string) ([]core.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data, checksum FROM orders WHERE bot_id = ?`, botID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []core.Order
	for rows.Next() {
		var data string
		var checksum []byte
		if err := rows.Scan(&data, &checksum); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		var o core.Order
		if err := unmarshalChecked(data, checksum, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveFillTransaction persists the bot and every touched order inside one
// SQLite transaction with serializable isolation, matching §5's
// "single write transaction" shared-resource policy.
func (s *Store) SaveFillTransaction(ctx context.Context, bot core.Bot, orders []core.Order) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	botData, botChecksum, err := marshalChecked(bot)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bots (id, owner_id, data, checksum, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET owner_id=excluded.owner_id, data=excluded.data, checksum=excluded.checksum, updated_at=excluded.updated_at`,
		bot.ID, bot.OwnerID, botData, botChecksum, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("save bot: %w", err)
	}

	for _, o := range orders {
		if err := s.saveOrderTx(ctx, tx, o); err != nil {
			return fmt.Errorf("save order %s: %w", o.LocalID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) SavePerformanceSnapshot(ctx context.Context, p core.PerformanceSnapshot) error {
	data, checksum, err := marshalChecked(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO performance_snapshots (bot_id, data, checksum, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(bot_id) DO UPDATE SET data=excluded.data, checksum=excluded.checksum, updated_at=excluded.updated_at`,
		p.BotID, data, checksum, time.Now().UnixNano())
	return err
}

func (s *Store) GetPerformanceSnapshot(ctx context.Context, botID string) (core.PerformanceSnapshot, error) {
	var data string
	var checksum []byte
	err := s.db.QueryRowContext(ctx, `SELECT data, checksum FROM performance_snapshots WHERE bot_id = ?`, botID).Scan(&data, &checksum)
	if err == sql.ErrNoRows {
		return core.PerformanceSnapshot{}, apperrors.ErrNotFound
	}
	if err != nil {
		return core.PerformanceSnapshot{}, fmt.Errorf("read performance snapshot: %w", err)
	}
	var p core.PerformanceSnapshot
	if err := unmarshalChecked(data, checksum, &p); err != nil {
		return core.PerformanceSnapshot{}, err
	}
	return p, nil
}

func (s *Store) AppendKeyAuditEvent(ctx context.Context, e core.KeyAuditEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO key_audit_events (id, user_id, data, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.UserID, string(data), e.Timestamp.UnixNano())
	return err
}

func (s *Store) ListKeyAuditEvents(ctx context.Context, userID string) ([]core.KeyAuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM key_audit_events WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []core.KeyAuditEvent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		var e core.KeyAuditEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("unmarshal audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
