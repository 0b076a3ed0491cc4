package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"uplinkdash/telemetry-server/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups that match no stored row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// InitSchema ensures baseline tables exist and adds columns missing from older database files.
func (s *Store) InitSchema(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS uplinks (
			event_id TEXT PRIMARY KEY,
			time TEXT NOT NULL,
			dev_eui TEXT NOT NULL,
			device_name TEXT,
			device_profile_name TEXT,
			application_id TEXT,
			application_name TEXT,
			gateway_ids TEXT,
			rssi INTEGER,
			snr REAL,
			location_lat REAL,
			location_lon REAL,
			location_alt REAL,
			battery_normalized REAL,
			object_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_uplinks_dev_eui ON uplinks(dev_eui);`,
		`CREATE INDEX IF NOT EXISTS idx_uplinks_time ON uplinks(time);`,
		`CREATE INDEX IF NOT EXISTS idx_uplinks_device_profile ON uplinks(device_profile_name);`,
		`CREATE INDEX IF NOT EXISTS idx_uplinks_application_id ON uplinks(application_id);`,
		`CREATE TABLE IF NOT EXISTS ingestion_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT,
			payload TEXT,
			error TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return s.addMissingColumns(ctx)
}

// Columns added after the first uplinks layout. Files created by older ingesters lack them.
var lateColumns = []struct{ name, kind string }{
	{"f_port", "INTEGER"},
	{"dev_addr", "TEXT"},
	{"f_cnt", "INTEGER"},
	{"margin", "REAL"},
	{"external_power_source", "INTEGER"},
	{"battery_level_unavailable", "INTEGER"},
	{"battery_level_join", "REAL"},
	{"frequency", "INTEGER"},
	{"spreading_factor", "INTEGER"},
	{"region_config_id", "TEXT"},
	{"synthetic", "INTEGER"},
}

func (s *Store) addMissingColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('uplinks');`)
	if err != nil {
		return fmt.Errorf("inspect uplinks columns: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan uplinks column: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate uplinks columns: %w", err)
	}
	rows.Close()

	for _, col := range lateColumns {
		if existing[col.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE uplinks ADD COLUMN %s %s;`, col.name, col.kind)); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

// DB exposes the underlying sql.DB for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// eventColumns is the select and insert order shared by every uplinks query.
var eventColumns = []string{
	"event_id", "time", "dev_eui", "device_name", "device_profile_name",
	"application_id", "application_name", "gateway_ids", "rssi", "snr",
	"location_lat", "location_lon", "location_alt", "battery_normalized", "object_json",
	"f_port", "dev_addr", "f_cnt", "margin", "external_power_source",
	"battery_level_unavailable", "battery_level_join", "frequency", "spreading_factor", "region_config_id",
	"synthetic",
}

var upsertEventSQL = func() string {
	updates := make([]string, 0, len(eventColumns)-1)
	for _, col := range eventColumns[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	return fmt.Sprintf(
		`INSERT INTO uplinks (%s) VALUES (%s)
		 ON CONFLICT(event_id) DO UPDATE SET %s;`,
		strings.Join(eventColumns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(eventColumns)), ", "),
		strings.Join(updates, ", "),
	)
}()

// UpsertEvent stores ev, replacing any row with the same event id in one statement.
func (s *Store) UpsertEvent(ctx context.Context, ev model.NormalizedEvent) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if ev.EventID == "" {
		return fmt.Errorf("upsert event: empty event id")
	}

	gatewayIDs, err := encodeGatewayIDs(ev.GatewayIDs)
	if err != nil {
		return fmt.Errorf("encode gateway ids: %w", err)
	}
	object, err := encodePayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		upsertEventSQL,
		ev.EventID,
		ev.Time,
		ev.DevEUI,
		nullString(ev.DeviceName),
		nullString(ev.DeviceProfileName),
		nullString(ev.ApplicationID),
		nullString(ev.ApplicationName),
		gatewayIDs,
		nullInt(ev.RSSI),
		nullFloat(ev.SNR),
		nullFloat(ev.LocationLat),
		nullFloat(ev.LocationLon),
		nullFloat(ev.LocationAlt),
		nullFloat(ev.BatteryNormalized),
		object,
		nullInt(ev.FPort),
		nullString(ev.DevAddr),
		nullInt(ev.FCnt),
		nullFloat(ev.Margin),
		nullBool(ev.ExternalPowerSource),
		nullBool(ev.BatteryLevelUnavailable),
		nullFloat(ev.BatteryLevelJoin),
		nullInt(ev.Frequency),
		nullInt(ev.SpreadingFactor),
		nullString(ev.RegionConfigID),
		ev.Synthetic,
	)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// InsertIngestionError records a payload that was rejected or could not be stored.
func (s *Store) InsertIngestionError(ctx context.Context, e model.IngestionError) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO ingestion_errors (source, payload, error) VALUES (?, ?, ?);`,
		e.Source,
		e.Payload,
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("insert ingestion error: %w", err)
	}
	return nil
}

// RecentIngestionErrors returns recorded failures, newest first.
func (s *Store) RecentIngestionErrors(ctx context.Context, limit int) ([]model.IngestionError, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT source, payload, error, created_at
		 FROM ingestion_errors
		 ORDER BY id DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ingestion errors: %w", err)
	}
	defer rows.Close()

	out := make([]model.IngestionError, 0, limit)
	for rows.Next() {
		var source, payload sql.NullString
		var e model.IngestionError
		if err := rows.Scan(&source, &payload, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ingestion error: %w", err)
		}
		e.Source = source.String
		e.Payload = payload.String
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingestion errors: %w", err)
	}

	return out, nil
}
