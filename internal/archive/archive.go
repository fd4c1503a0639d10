// Package archive persists fire events and window outcomes to sqlite so a
// restart resumes tracking where the last refresh left off.
package archive

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/firewatch-data/hotspot.report/internal/firms"
	"github.com/firewatch-data/hotspot.report/internal/geo"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the archive database connection.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the archive at path, applies the session
// pragmas, and migrates the schema to the latest version.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps the hourly refresh writer from blocking API readers.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	db := &DB{sqlDB}
	if err := db.migrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// migrateUp applies all pending embedded migrations.
func (db *DB) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closing m: that would close the shared DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// FlushWindow persists the post-window state of every event plus the window
// summary row. It implements the pipeline's Sink. The whole flush is one
// transaction; re-flushing the same window is a no-op thanks to upserts.
func (db *DB) FlushWindow(events []*firms.FireEvent, summary firms.WindowSummary) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}
	defer tx.Rollback()

	for _, event := range events {
		if err := upsertEvent(tx, event); err != nil {
			return fmt.Errorf("event %s: %w", event.EventID, err)
		}
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO window_log (
			window_time_ns, detections, malformed, duplicates, out_of_region,
			clusters, noise, created, continued, reactivated, merged, closed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.WindowTime.UnixNano(), summary.Detections, summary.Malformed,
		summary.Duplicates, summary.OutOfRegion, summary.Clusters, summary.Noise,
		summary.Created, summary.Continued, summary.Reactivated, summary.Merged,
		summary.Closed,
	)
	if err != nil {
		return fmt.Errorf("window log: %w", err)
	}

	return tx.Commit()
}

func upsertEvent(tx *sql.Tx, event *firms.FireEvent) error {
	history, err := json.Marshal(event.CentroidHistory)
	if err != nil {
		return fmt.Errorf("marshal centroid history: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO fire_events (event_id, status, created_seq, first_seen_ns, last_seen_ns, centroid_history)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			status = excluded.status,
			first_seen_ns = excluded.first_seen_ns,
			last_seen_ns = excluded.last_seen_ns,
			centroid_history = excluded.centroid_history`,
		event.EventID, string(event.Status), event.CreatedSeq,
		event.FirstSeen.UnixNano(), event.LastSeen.UnixNano(), string(history),
	)
	if err != nil {
		return err
	}

	for _, d := range event.Detections {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO fire_detections (
				id, event_id, lat, lon, time_ns, frp, brightness_k,
				confidence, category, satellite, daynight
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, event.EventID, d.Position.Lat, d.Position.Lon, d.Time.UnixNano(),
			d.FRP, d.BrightnessK, string(d.Confidence), string(d.Category),
			d.Satellite, d.DayNight,
		)
		if err != nil {
			return fmt.Errorf("detection %s: %w", d.ID, err)
		}
		// A merge moves detections to the surviving identity.
		_, err = tx.Exec(`UPDATE fire_detections SET event_id = ? WHERE id = ?`, event.EventID, d.ID)
		if err != nil {
			return fmt.Errorf("detection %s reassign: %w", d.ID, err)
		}
	}
	return nil
}

// DeleteEvent removes an event and its detections, e.g. after a merge
// absorbed its identity.
func (db *DB) DeleteEvent(eventID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM fire_detections WHERE event_id = ?`, eventID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM fire_events WHERE event_id = ?`, eventID); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadOpenEvents restores every non-closed event into the store. Returns the
// number of events restored.
func (db *DB) LoadOpenEvents(store *firms.EventStore) (int, error) {
	rows, err := db.Query(`
		SELECT event_id, status, created_seq, first_seen_ns, last_seen_ns, centroid_history
		FROM fire_events
		WHERE status != 'closed'
		ORDER BY created_seq`)
	if err != nil {
		return 0, fmt.Errorf("query open events: %w", err)
	}
	defer rows.Close()

	var events []*firms.FireEvent
	for rows.Next() {
		var (
			event              firms.FireEvent
			status             string
			firstNS, lastNS    int64
			historyJSON        string
		)
		if err := rows.Scan(&event.EventID, &status, &event.CreatedSeq, &firstNS, &lastNS, &historyJSON); err != nil {
			return 0, fmt.Errorf("scan event: %w", err)
		}
		event.Status = firms.EventStatus(status)
		event.FirstSeen = time.Unix(0, firstNS).UTC()
		event.LastSeen = time.Unix(0, lastNS).UTC()
		if err := json.Unmarshal([]byte(historyJSON), &event.CentroidHistory); err != nil {
			return 0, fmt.Errorf("event %s centroid history: %w", event.EventID, err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, event := range events {
		detections, err := db.loadDetections(event.EventID)
		if err != nil {
			return 0, err
		}
		event.Detections = detections
		if err := store.LoadEvent(event); err != nil {
			return 0, err
		}
	}
	return len(events), nil
}

func (db *DB) loadDetections(eventID string) ([]firms.Detection, error) {
	rows, err := db.Query(`
		SELECT id, lat, lon, time_ns, frp, brightness_k, confidence, category, satellite, daynight
		FROM fire_detections
		WHERE event_id = ?
		ORDER BY time_ns`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query detections for %s: %w", eventID, err)
	}
	defer rows.Close()

	var detections []firms.Detection
	for rows.Next() {
		var (
			d                    firms.Detection
			timeNS               int64
			confidence, category string
		)
		if err := rows.Scan(&d.ID, &d.Position.Lat, &d.Position.Lon, &timeNS,
			&d.FRP, &d.BrightnessK, &confidence, &category, &d.Satellite, &d.DayNight); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		d.Time = time.Unix(0, timeNS).UTC()
		d.Confidence = firms.Confidence(confidence)
		d.Category = firms.Category(category)
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// LastWindowTime returns the most recently flushed window, or the zero time
// when the archive is empty.
func (db *DB) LastWindowTime() (time.Time, error) {
	var ns sql.NullInt64
	err := db.QueryRow(`SELECT MAX(window_time_ns) FROM window_log`).Scan(&ns)
	if err != nil {
		return time.Time{}, err
	}
	if !ns.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, ns.Int64).UTC(), nil
}

// EventBounds reports the stored detection envelope of one event, a cheap
// sanity query for operators.
func (db *DB) EventBounds(eventID string) (geo.BBox, error) {
	var box geo.BBox
	err := db.QueryRow(`
		SELECT MIN(lat), MIN(lon), MAX(lat), MAX(lon)
		FROM fire_detections WHERE event_id = ?`, eventID).
		Scan(&box.MinLat, &box.MinLon, &box.MaxLat, &box.MaxLon)
	if err != nil {
		return geo.BBox{}, err
	}
	return box, nil
}
