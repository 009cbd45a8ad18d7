// Package repository provides data access implementations
package repository

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/lmoreira/aquaflow/internal/entities"
	_ "github.com/mattn/go-sqlite3"
)

// ReadingRepository defines the interface for flow data persistence operations
type ReadingRepository interface {
	SaveReadings(readings []entities.FlowReading) error
	GetReadings(channel string, from, to time.Time) ([]entities.FlowReading, error)
	GetAllReadings(from, to time.Time) ([]entities.FlowReading, error)
	LatestReading(channel string) (*entities.FlowReading, error)
	Channels() ([]string, error)
	DailyVolumes(channel string, since time.Time) ([]entities.DailyVolume, error)
	HourlyVolumes(channel string, since time.Time) ([]entities.HourlyVolume, error)
	LastUpdateTime() (time.Time, error)
	PruneReadings(before time.Time) (int64, error)

	SaveLeakEvent(event *entities.LeakEvent) error
	GetLeakEvents(since time.Time) ([]entities.LeakEvent, error)
	UnnotifiedLeakEvents() ([]entities.LeakEvent, error)
	MarkLeakNotified(id int64) error

	SaveForecasts(forecasts []entities.Forecast) error
	GetForecasts(model string) ([]entities.Forecast, error)

	Close() error
}

// SQLiteReadingRepository implements ReadingRepository using SQLite
type SQLiteReadingRepository struct {
	db     *sql.DB
	DBPath string
}

// NewSQLiteReadingRepository creates and initializes a new SQLite repository
func NewSQLiteReadingRepository(dbPath string) (*SQLiteReadingRepository, error) {
	if dbPath == "" {
		// Set default path if not specified
		dbDir := "data"
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
		dbPath = filepath.Join(dbDir, "flowdata.db")
	}

	log.Printf("Opening database at %s", dbPath)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Create tables if they don't exist
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS flow_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		pulses INTEGER NOT NULL DEFAULT 0,
		flow_lps REAL NOT NULL,
		volume_l REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		UNIQUE(channel, timestamp)
	);
	CREATE INDEX IF NOT EXISTS idx_channel ON flow_readings(channel);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON flow_readings(timestamp);

	CREATE TABLE IF NOT EXISTS leak_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		start DATETIME NOT NULL,
		end DATETIME NOT NULL,
		duration_s REAL NOT NULL,
		max_diff_lps REAL NOT NULL,
		volume_l REAL NOT NULL,
		notified INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_leak_start ON leak_events(start);

	CREATE TABLE IF NOT EXISTS forecasts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		day DATETIME NOT NULL,
		volume_l REAL NOT NULL,
		model TEXT NOT NULL,
		generated_at DATETIME NOT NULL,
		UNIQUE(day, model)
	);`

	_, err = db.Exec(createTableSQL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	return &SQLiteReadingRepository{
		db:     db,
		DBPath: dbPath,
	}, nil
}

// Close closes the database connection
func (r *SQLiteReadingRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveReadings stores flow readings in the database
func (r *SQLiteReadingRepository) SaveReadings(readings []entities.FlowReading) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}

	// Prepare SQL statement for inserting data
	stmt, err := tx.Prepare(`
		INSERT INTO flow_readings(channel, pulses, flow_lps, volume_l, timestamp)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(channel, timestamp) DO UPDATE SET
		pulses=excluded.pulses,
		flow_lps=excluded.flow_lps,
		volume_l=excluded.volume_l
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %v", err)
	}
	defer stmt.Close()

	// Insert each reading
	for _, rd := range readings {
		_, err := stmt.Exec(
			rd.Channel,
			rd.Pulses,
			rd.FlowLPS,
			rd.VolumeL,
			rd.Timestamp,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert reading for channel %s at %s: %v", rd.Channel, rd.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

// scanReadings reads FlowReading rows from a query result
func scanReadings(rows *sql.Rows) ([]entities.FlowReading, error) {
	var result []entities.FlowReading
	for rows.Next() {
		var rd entities.FlowReading
		if err := rows.Scan(
			&rd.ID,
			&rd.Channel,
			&rd.Pulses,
			&rd.FlowLPS,
			&rd.VolumeL,
			&rd.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		result = append(result, rd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	return result, nil
}

// GetReadings retrieves readings for a specific channel in a time range
func (r *SQLiteReadingRepository) GetReadings(channel string, from, to time.Time) ([]entities.FlowReading, error) {
	query := `
		SELECT id, channel, pulses, flow_lps, volume_l, timestamp
		FROM flow_readings
		WHERE channel = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp`

	rows, err := r.db.Query(query, channel, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings for channel %s: %v", channel, err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// GetAllReadings retrieves readings for all channels in a time range
func (r *SQLiteReadingRepository) GetAllReadings(from, to time.Time) ([]entities.FlowReading, error) {
	query := `
		SELECT id, channel, pulses, flow_lps, volume_l, timestamp
		FROM flow_readings
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp, channel`

	rows, err := r.db.Query(query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %v", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// LatestReading returns the most recent reading for a channel, or nil if none exist
func (r *SQLiteReadingRepository) LatestReading(channel string) (*entities.FlowReading, error) {
	query := `
		SELECT id, channel, pulses, flow_lps, volume_l, timestamp
		FROM flow_readings
		WHERE channel = ?
		ORDER BY timestamp DESC
		LIMIT 1`

	var rd entities.FlowReading
	err := r.db.QueryRow(query, channel).Scan(
		&rd.ID,
		&rd.Channel,
		&rd.Pulses,
		&rd.FlowLPS,
		&rd.VolumeL,
		&rd.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest reading for channel %s: %v", channel, err)
	}

	return &rd, nil
}

// Channels returns a sorted list of all channel identifiers in the database
func (r *SQLiteReadingRepository) Channels() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT channel FROM flow_readings ORDER BY channel")
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %v", err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var channel string
		if err := rows.Scan(&channel); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		channels = append(channels, channel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	return channels, nil
}

// DailyVolumes returns the total volume per day for a channel since the cutoff
func (r *SQLiteReadingRepository) DailyVolumes(channel string, since time.Time) ([]entities.DailyVolume, error) {
	query := `
		SELECT date(timestamp), SUM(volume_l)
		FROM flow_readings
		WHERE channel = ? AND timestamp >= ?
		GROUP BY date(timestamp)
		ORDER BY date(timestamp)`

	rows, err := r.db.Query(query, channel, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily volumes for channel %s: %v", channel, err)
	}
	defer rows.Close()

	var result []entities.DailyVolume
	for rows.Next() {
		var dayStr string
		var volume float64
		if err := rows.Scan(&dayStr, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}

		day, err := time.ParseInLocation("2006-01-02", dayStr, time.Local)
		if err != nil {
			return nil, fmt.Errorf("failed to parse day '%s': %v", dayStr, err)
		}

		result = append(result, entities.DailyVolume{Day: day, VolumeL: volume})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	return result, nil
}

// HourlyVolumes returns per-hour volume and mean flow for a channel since
// the cutoff
func (r *SQLiteReadingRepository) HourlyVolumes(channel string, since time.Time) ([]entities.HourlyVolume, error) {
	query := `
		SELECT strftime('%Y-%m-%d %H:00:00', timestamp), SUM(volume_l), AVG(flow_lps)
		FROM flow_readings
		WHERE channel = ? AND timestamp >= ?
		GROUP BY strftime('%Y-%m-%d %H:00:00', timestamp)
		ORDER BY strftime('%Y-%m-%d %H:00:00', timestamp)`

	rows, err := r.db.Query(query, channel, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly volumes for channel %s: %v", channel, err)
	}
	defer rows.Close()

	var result []entities.HourlyVolume
	for rows.Next() {
		var hourStr string
		var volume, avgFlow float64
		if err := rows.Scan(&hourStr, &volume, &avgFlow); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}

		hour, err := time.ParseInLocation("2006-01-02 15:04:05", hourStr, time.Local)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hour '%s': %v", hourStr, err)
		}

		result = append(result, entities.HourlyVolume{Hour: hour, VolumeL: volume, AvgFlowLPS: avgFlow})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	return result, nil
}

// LastUpdateTime returns the most recent reading timestamp in the database
func (r *SQLiteReadingRepository) LastUpdateTime() (time.Time, error) {
	var timestampStr sql.NullString
	err := r.db.QueryRow("SELECT MAX(timestamp) FROM flow_readings").Scan(&timestampStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil // Return zero time if no data
		}
		return time.Time{}, fmt.Errorf("failed to get last update time: %v", err)
	}

	// If the timestamp is null/empty, return zero time
	if !timestampStr.Valid || timestampStr.String == "" {
		return time.Time{}, nil
	}

	return parseStoredTimestamp(timestampStr.String)
}

// parseStoredTimestamp parses a timestamp string as SQLite may store it
// in several formats depending on how the value was written
func parseStoredTimestamp(s string) (time.Time, error) {
	var timestamp time.Time
	var parseErr error

	// First try with timezone (RFC3339 format)
	timestamp, parseErr = time.Parse(time.RFC3339, s)
	if parseErr == nil {
		return timestamp, nil
	}

	// Try SQLite DATETIME format without timezone
	timestamp, parseErr = time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
	if parseErr == nil {
		return timestamp, nil
	}

	// Try custom format with timezone suffix
	timestamp, parseErr = time.Parse("2006-01-02 15:04:05-07:00", s)
	if parseErr == nil {
		return timestamp, nil
	}

	// Try one more format with timezone suffix
	timestamp, parseErr = time.Parse("2006-01-02 15:04:05Z07:00", s)
	if parseErr == nil {
		return timestamp, nil
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %v", s, parseErr)
}

// PruneReadings deletes readings older than the cutoff and returns the number removed
func (r *SQLiteReadingRepository) PruneReadings(before time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM flow_readings WHERE timestamp < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune readings: %v", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned readings: %v", err)
	}

	if removed > 0 {
		log.Printf("Pruned %d readings older than %s", removed, before.Format("2006-01-02"))
	}
	return removed, nil
}

// SaveLeakEvent stores a leak event and fills in its generated ID
func (r *SQLiteReadingRepository) SaveLeakEvent(event *entities.LeakEvent) error {
	res, err := r.db.Exec(`
		INSERT INTO leak_events(type, start, end, duration_s, max_diff_lps, volume_l, notified)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		event.Type,
		event.Start,
		event.End,
		event.DurationS,
		event.MaxDiffLPS,
		event.VolumeL,
		event.Notified,
	)
	if err != nil {
		return fmt.Errorf("failed to insert leak event: %v", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get leak event id: %v", err)
	}
	event.ID = id

	log.Printf("Saved %s leak event from %s to %s (%.1f L lost)",
		event.Type, event.Start.Format("2006-01-02 15:04:05"),
		event.End.Format("2006-01-02 15:04:05"), event.VolumeL)
	return nil
}

// scanLeakEvents reads LeakEvent rows from a query result
func scanLeakEvents(rows *sql.Rows) ([]entities.LeakEvent, error) {
	var result []entities.LeakEvent
	for rows.Next() {
		var ev entities.LeakEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.Type,
			&ev.Start,
			&ev.End,
			&ev.DurationS,
			&ev.MaxDiffLPS,
			&ev.VolumeL,
			&ev.Notified,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	return result, nil
}

// GetLeakEvents retrieves leak events starting after the cutoff, newest first
func (r *SQLiteReadingRepository) GetLeakEvents(since time.Time) ([]entities.LeakEvent, error) {
	query := `
		SELECT id, type, start, end, duration_s, max_diff_lps, volume_l, notified
		FROM leak_events
		WHERE start >= ?
		ORDER BY start DESC`

	rows, err := r.db.Query(query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query leak events: %v", err)
	}
	defer rows.Close()

	return scanLeakEvents(rows)
}

// UnnotifiedLeakEvents retrieves leak events that have not been alerted yet, oldest first
func (r *SQLiteReadingRepository) UnnotifiedLeakEvents() ([]entities.LeakEvent, error) {
	query := `
		SELECT id, type, start, end, duration_s, max_diff_lps, volume_l, notified
		FROM leak_events
		WHERE notified = 0
		ORDER BY start`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unnotified leak events: %v", err)
	}
	defer rows.Close()

	return scanLeakEvents(rows)
}

// MarkLeakNotified flags a leak event as alerted
func (r *SQLiteReadingRepository) MarkLeakNotified(id int64) error {
	_, err := r.db.Exec("UPDATE leak_events SET notified = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark leak event %d notified: %v", id, err)
	}
	return nil
}

// SaveForecasts stores forecasts, replacing any previous prediction for the
// same day and model
func (r *SQLiteReadingRepository) SaveForecasts(forecasts []entities.Forecast) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO forecasts(day, volume_l, model, generated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(day, model) DO UPDATE SET
		volume_l=excluded.volume_l,
		generated_at=excluded.generated_at
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %v", err)
	}
	defer stmt.Close()

	for _, f := range forecasts {
		_, err := stmt.Exec(f.Day, f.VolumeL, f.Model, f.GeneratedAt)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert forecast for %s: %v", f.Day.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	log.Printf("Saved %d forecasts", len(forecasts))
	return nil
}

// GetForecasts retrieves forecasts for a model ordered by day
func (r *SQLiteReadingRepository) GetForecasts(model string) ([]entities.Forecast, error) {
	query := `
		SELECT id, day, volume_l, model, generated_at
		FROM forecasts
		WHERE model = ?
		ORDER BY day`

	rows, err := r.db.Query(query, model)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecasts for model %s: %v", model, err)
	}
	defer rows.Close()

	var result []entities.Forecast
	for rows.Next() {
		var f entities.Forecast
		if err := rows.Scan(&f.ID, &f.Day, &f.VolumeL, &f.Model, &f.GeneratedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		result = append(result, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	return result, nil
}
