package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// timeFormat is how recorded_at is stored; always UTC so string order is time order
const timeFormat = "2006-01-02 15:04:05.000"

// SQLiteStore archives accepted telemetry in a SQLite database
type SQLiteStore struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// TelemetryRecord is one archived telemetry point
type TelemetryRecord struct {
	ID         int64           `json:"id"`
	DeviceID   string          `json:"deviceId"`
	Data       json.RawMessage `json:"data"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// telemetryRow mirrors the telemetry table
type telemetryRow struct {
	ID         int64  `db:"id"`
	DeviceID   string `db:"device_id"`
	Data       string `db:"data"`
	RecordedAt string `db:"recorded_at"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalRecords   int64     `json:"totalRecords"`
	OldestRecord   time.Time `json:"oldestRecord,omitempty"`
	NewestRecord   time.Time `json:"newestRecord,omitempty"`
	UniqueDevices  int       `json:"uniqueDevices"`
	DatabaseSizeMB float64   `json:"databaseSizeMb"`
}

// NewSQLiteStore opens (and migrates) the archive at dbPath
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("Telemetry archive initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS telemetry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		data TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_telemetry_device_time ON telemetry(device_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_telemetry_time ON telemetry(recorded_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

const insertTelemetry = `INSERT INTO telemetry (device_id, data, recorded_at) VALUES (?, ?, ?)`

// InsertBatch inserts multiple records in a single transaction
func (s *SQLiteStore) InsertBatch(records []*TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(insertTelemetry)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.Exec(
			record.DeviceID,
			string(record.Data),
			record.RecordedAt.UTC().Format(timeFormat),
		); err != nil {
			return fmt.Errorf("failed to insert telemetry in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(records)).Msg("Batch insert completed")
	return nil
}

// GetTelemetrySince returns up to limit records for deviceID recorded at or
// after since, oldest first.
func (s *SQLiteStore) GetTelemetrySince(deviceID string, since time.Time, limit int) ([]*TelemetryRecord, error) {
	var rows []telemetryRow
	err := s.db.Select(&rows, `
		SELECT id, device_id, data, recorded_at
		FROM telemetry
		WHERE device_id = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC, id ASC
		LIMIT ?
	`, deviceID, since.UTC().Format(timeFormat), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}

	records := make([]*TelemetryRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// GetDeviceIDs returns every device id present in the archive
func (s *SQLiteStore) GetDeviceIDs() ([]string, error) {
	ids := []string{}
	if err := s.db.Select(&ids, "SELECT DISTINCT device_id FROM telemetry ORDER BY device_id"); err != nil {
		return nil, fmt.Errorf("failed to query device IDs: %w", err)
	}
	return ids, nil
}

// DeleteOlderThan removes records whose recorded_at is older than days
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec(
		"DELETE FROM telemetry WHERE recorded_at < ?",
		cutoff.Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old telemetry: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old telemetry")

	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.Get(&stats.TotalRecords, "SELECT COUNT(*) FROM telemetry"); err != nil {
		return nil, fmt.Errorf("failed to count telemetry: %w", err)
	}

	if stats.TotalRecords == 0 {
		return stats, nil
	}

	var bounds struct {
		Oldest string `db:"oldest"`
		Newest string `db:"newest"`
	}
	if err := s.db.Get(&bounds, "SELECT MIN(recorded_at) AS oldest, MAX(recorded_at) AS newest FROM telemetry"); err != nil {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}
	stats.OldestRecord, _ = parseTimestamp(bounds.Oldest)
	stats.NewestRecord, _ = parseTimestamp(bounds.Newest)

	if err := s.db.Get(&stats.UniqueDevices, "SELECT COUNT(DISTINCT device_id) FROM telemetry"); err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}

	var pageCount, pageSize int64
	s.db.Get(&pageCount, "PRAGMA page_count")
	s.db.Get(&pageSize, "PRAGMA page_size")
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

func (r telemetryRow) record() (*TelemetryRecord, error) {
	recordedAt, err := parseTimestamp(r.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
	}
	return &TelemetryRecord{
		ID:         r.ID,
		DeviceID:   r.DeviceID,
		Data:       json.RawMessage(r.Data),
		RecordedAt: recordedAt,
	}, nil
}

// parseTimestamp tries the formats SQLite may hand back
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeFormat,
		"2006-01-02 15:04:05",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
