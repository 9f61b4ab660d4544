/*
Package sqlite provides a SQLite-backed implementation of the engine
storage interface.

PURPOSE:
  Implements engine.Store with whole-record read and whole-record
  write semantics. Each app record is one JSON document keyed by its
  logical ID; there are no partial-field updates visible to the
  store, which is what makes the engine's read-modify-write
  discipline enforceable.

KEY TABLES:
  app_records:   One JSON document per monitored app
  unlocked_apps: One JSON document per active reward reservation
  engine_meta:   Small key/value pairs (the consumed counter)

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the single writer
  - Better crash recovery for the write-through path

CONCURRENCY:
  database/sql's pool plus SQLite's single-writer model is enough;
  the engine already serializes mutations above this layer.

USAGE:
  st, err := sqlite.New("./data/screentime.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  eng, err := engine.New(ctx, engine.DefaultConfig(), st, engine.Options{})

SEE ALSO:
  - engine/store.go: Interface definition and write-through contract
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/screentime-engine/engine"
)

const metaConsumedKey = "total_consumed"

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return st, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- One whole-record JSON document per monitored app
	CREATE TABLE IF NOT EXISTS app_records (
		logical_id  TEXT PRIMARY KEY,
		record_json TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	-- One document per active reward reservation
	CREATE TABLE IF NOT EXISTS unlocked_apps (
		logical_id       TEXT PRIMARY KEY,
		reservation_json TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	);

	-- Small engine-wide values (the monotonic consumed counter)
	CREATE TABLE IF NOT EXISTS engine_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// JSON DOCUMENTS - Storage encoding, kept out of engine types
// =============================================================================

type recordDoc struct {
	LogicalID       string          `json:"logical_id"`
	DisplayName     string          `json:"display_name"`
	Category        string          `json:"category"`
	PointsPerMinute int64           `json:"points_per_minute"`
	LifetimeSeconds int64           `json:"lifetime_seconds"`
	LifetimePoints  int64           `json:"lifetime_points"`
	TodaySeconds    int64           `json:"today_seconds"`
	TodayPoints     int64           `json:"today_points"`
	DailyHistory    []dailyTotalDoc `json:"daily_history,omitempty"`
	LastResetDate   string          `json:"last_reset_date"`
}

type dailyTotalDoc struct {
	Date    string `json:"date"`
	Seconds int64  `json:"seconds"`
	Points  int64  `json:"points"`
}

type reservationDoc struct {
	LogicalID       string    `json:"logical_id"`
	ReservedPoints  int64     `json:"reserved_points"`
	PointsPerMinute int64     `json:"points_per_minute"`
	UnlockedAt      time.Time `json:"unlocked_at"`
}

func encodeRecord(rec *engine.AppRecord) ([]byte, error) {
	doc := recordDoc{
		LogicalID:       string(rec.LogicalID),
		DisplayName:     rec.DisplayName,
		Category:        rec.Category.String(),
		PointsPerMinute: rec.PointsPerMinute,
		LifetimeSeconds: rec.LifetimeSeconds,
		LifetimePoints:  rec.LifetimePoints,
		TodaySeconds:    rec.TodaySeconds,
		TodayPoints:     rec.TodayPoints,
		LastResetDate:   rec.LastResetDate,
	}
	for _, d := range rec.DailyHistory {
		doc.DailyHistory = append(doc.DailyHistory, dailyTotalDoc(d))
	}
	return json.Marshal(doc)
}

func decodeRecord(data []byte) (*engine.AppRecord, error) {
	var doc recordDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	cat, ok := engine.ParseCategory(doc.Category)
	if !ok {
		return nil, fmt.Errorf("unknown category %q for %s", doc.Category, doc.LogicalID)
	}
	rec := &engine.AppRecord{
		LogicalID:       engine.LogicalAppID(doc.LogicalID),
		DisplayName:     doc.DisplayName,
		Category:        cat,
		PointsPerMinute: doc.PointsPerMinute,
		LifetimeSeconds: doc.LifetimeSeconds,
		LifetimePoints:  doc.LifetimePoints,
		TodaySeconds:    doc.TodaySeconds,
		TodayPoints:     doc.TodayPoints,
		LastResetDate:   doc.LastResetDate,
	}
	for _, d := range doc.DailyHistory {
		rec.DailyHistory = append(rec.DailyHistory, engine.DailyTotal(d))
	}
	return rec, nil
}

// =============================================================================
// APP RECORDS
// =============================================================================

func (s *Store) LoadRecord(ctx context.Context, id engine.LogicalAppID) (*engine.AppRecord, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM app_records WHERE logical_id = ?`, string(id),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", id, err)
	}
	return decodeRecord(data)
}

func (s *Store) SaveRecord(ctx context.Context, rec *engine.AppRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.LogicalID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_records (logical_id, record_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(logical_id) DO UPDATE SET
			record_json = excluded.record_json,
			updated_at  = excluded.updated_at`,
		string(rec.LogicalID), string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.LogicalID, err)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id engine.LogicalAppID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM app_records WHERE logical_id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context) ([]*engine.AppRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record_json FROM app_records`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*engine.AppRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (s *Store) SaveUnlocked(ctx context.Context, u *engine.UnlockedRewardApp) error {
	data, err := json.Marshal(reservationDoc{
		LogicalID:       string(u.LogicalID),
		ReservedPoints:  u.ReservedPoints,
		PointsPerMinute: u.PointsPerMinute,
		UnlockedAt:      u.UnlockedAt,
	})
	if err != nil {
		return fmt.Errorf("encode reservation %s: %w", u.LogicalID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unlocked_apps (logical_id, reservation_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(logical_id) DO UPDATE SET
			reservation_json = excluded.reservation_json,
			updated_at       = excluded.updated_at`,
		string(u.LogicalID), string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save reservation %s: %w", u.LogicalID, err)
	}
	return nil
}

func (s *Store) DeleteUnlocked(ctx context.Context, id engine.LogicalAppID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM unlocked_apps WHERE logical_id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete reservation %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListUnlocked(ctx context.Context) ([]*engine.UnlockedRewardApp, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT reservation_json FROM unlocked_apps`)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []*engine.UnlockedRewardApp
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var doc reservationDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		out = append(out, &engine.UnlockedRewardApp{
			LogicalID:       engine.LogicalAppID(doc.LogicalID),
			ReservedPoints:  doc.ReservedPoints,
			PointsPerMinute: doc.PointsPerMinute,
			UnlockedAt:      doc.UnlockedAt,
		})
	}
	return out, rows.Err()
}

// =============================================================================
// META
// =============================================================================

func (s *Store) LoadConsumed(ctx context.Context) (int64, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM engine_meta WHERE key = ?`, metaConsumedKey,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load consumed counter: %w", err)
	}
	var total int64
	if _, err := fmt.Sscanf(value, "%d", &total); err != nil {
		return 0, fmt.Errorf("parse consumed counter %q: %w", value, err)
	}
	return total, nil
}

func (s *Store) SaveConsumed(ctx context.Context, total int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaConsumedKey, fmt.Sprintf("%d", total))
	if err != nil {
		return fmt.Errorf("save consumed counter: %w", err)
	}
	return nil
}

// Compile-time check.
var _ engine.Store = (*Store)(nil)
