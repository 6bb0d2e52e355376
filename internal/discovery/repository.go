package discovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for the durable peripheral catalogue.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// The catalogue survives restarts and registry resets: the in-memory
// registry is authoritative for the live view, the repository remembers
// every peripheral the gateway has ever seen.
type Repository interface {
	// Upsert inserts or refreshes the catalogue row for a record.
	Upsert(ctx context.Context, rec *DeviceRecord) error

	// GetByAddress retrieves a catalogue entry.
	// Returns ErrDeviceNotFound if the address has no row.
	GetByAddress(ctx context.Context, address string) (*DeviceRecord, error)

	// List retrieves every catalogue entry, most recently seen first.
	List(ctx context.Context) ([]DeviceRecord, error)

	// Clear removes every catalogue entry.
	Clear(ctx context.Context) error

	// RecordButtonEvent appends a button press/release to the audit trail.
	RecordButtonEvent(ctx context.Context, address string, pressed bool, at time.Time) error

	// RecentButtonEvents returns the newest button events for an address,
	// newest first, up to limit.
	RecentButtonEvents(ctx context.Context, address string, limit int) ([]ButtonEvent, error)
}

// ButtonEvent is one row of the button-press audit trail.
type ButtonEvent struct {
	Address    string    `json:"address"`
	Pressed    bool      `json:"pressed"`
	ObservedAt time.Time `json:"observed_at"`
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert inserts or refreshes the catalogue row for a record.
//
// On conflict the row keeps its first_seen_at and accumulates the
// observation count; name only changes when the record carries one.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *DeviceRecord) error {
	if rec == nil || rec.Address == "" {
		return ErrInvalidAddress
	}

	uuids, err := json.Marshal(rec.ServiceUUIDs)
	if err != nil {
		return fmt.Errorf("marshalling service uuids: %w", err)
	}
	if rec.ServiceUUIDs == nil {
		uuids = []byte("[]")
	}

	query := `
		INSERT INTO peripherals (
			address, name, service_uuids, first_seen_at, last_seen_at,
			last_rssi, max_rssi, scanner_id, observation_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(address) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE peripherals.name END,
			service_uuids = excluded.service_uuids,
			last_seen_at = excluded.last_seen_at,
			last_rssi = excluded.last_rssi,
			max_rssi = MAX(peripherals.max_rssi, excluded.max_rssi),
			scanner_id = excluded.scanner_id,
			observation_count = peripherals.observation_count + 1`

	firstSeen := rec.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now().UTC()
	}
	lastSeen := rec.LastSeen
	if lastSeen.IsZero() {
		lastSeen = firstSeen
	}

	_, err = r.db.ExecContext(ctx, query,
		rec.Address,
		rec.Name,
		string(uuids),
		firstSeen.UTC().Format(time.RFC3339),
		lastSeen.UTC().Format(time.RFC3339),
		rec.RSSI,
		rec.MaxRSSI,
		rec.ScannerID,
	)
	if err != nil {
		return fmt.Errorf("upserting peripheral: %w", err)
	}
	return nil
}

// GetByAddress retrieves a catalogue entry.
func (r *SQLiteRepository) GetByAddress(ctx context.Context, address string) (*DeviceRecord, error) {
	if address == "" {
		return nil, ErrInvalidAddress
	}

	query := `
		SELECT address, name, service_uuids, first_seen_at, last_seen_at,
			last_rssi, max_rssi, scanner_id, observation_count
		FROM peripherals
		WHERE address = ?`

	rec, err := scanPeripheral(r.db.QueryRowContext(ctx, query, address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying peripheral by address: %w", err)
	}
	return rec, nil
}

// List retrieves every catalogue entry, most recently seen first.
func (r *SQLiteRepository) List(ctx context.Context) ([]DeviceRecord, error) {
	query := `
		SELECT address, name, service_uuids, first_seen_at, last_seen_at,
			last_rssi, max_rssi, scanner_id, observation_count
		FROM peripherals
		ORDER BY last_seen_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing peripherals: %w", err)
	}
	defer rows.Close()

	var records []DeviceRecord
	for rows.Next() {
		rec, err := scanPeripheral(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning peripheral row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating peripherals: %w", err)
	}
	return records, nil
}

// Clear removes every catalogue entry.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM peripherals"); err != nil {
		return fmt.Errorf("clearing peripherals: %w", err)
	}
	return nil
}

// RecordButtonEvent appends a button press/release to the audit trail.
func (r *SQLiteRepository) RecordButtonEvent(ctx context.Context, address string, pressed bool, at time.Time) error {
	if address == "" {
		return ErrInvalidAddress
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}

	pressedInt := 0
	if pressed {
		pressedInt = 1
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO button_events (address, pressed, observed_at) VALUES (?, ?, ?)",
		address, pressedInt, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording button event: %w", err)
	}
	return nil
}

// RecentButtonEvents returns the newest button events for an address.
func (r *SQLiteRepository) RecentButtonEvents(ctx context.Context, address string, limit int) ([]ButtonEvent, error) {
	if address == "" {
		return nil, ErrInvalidAddress
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT address, pressed, observed_at
		 FROM button_events
		 WHERE address = ?
		 ORDER BY observed_at DESC, id DESC
		 LIMIT ?`,
		address, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying button events: %w", err)
	}
	defer rows.Close()

	var events []ButtonEvent
	for rows.Next() {
		var ev ButtonEvent
		var pressed int
		var observedAt string
		if err := rows.Scan(&ev.Address, &pressed, &observedAt); err != nil {
			return nil, fmt.Errorf("scanning button event: %w", err)
		}
		ev.Pressed = pressed != 0
		ev.ObservedAt, _ = time.Parse(time.RFC3339, observedAt) //nolint:errcheck // Format is controlled
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating button events: %w", err)
	}
	return events, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPeripheral scans a catalogue row into a DeviceRecord.
func scanPeripheral(row rowScanner) (*DeviceRecord, error) {
	var rec DeviceRecord
	var uuids string
	var firstSeen, lastSeen string

	err := row.Scan(
		&rec.Address,
		&rec.Name,
		&uuids,
		&firstSeen,
		&lastSeen,
		&rec.RSSI,
		&rec.MaxRSSI,
		&rec.ScannerID,
		&rec.Observations,
	)
	if err != nil {
		return nil, err
	}

	if uuids != "" && uuids != "[]" {
		if err := json.Unmarshal([]byte(uuids), &rec.ServiceUUIDs); err != nil {
			return nil, fmt.Errorf("unmarshalling service uuids: %w", err)
		}
	}

	rec.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen) //nolint:errcheck // Format is controlled
	rec.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)   //nolint:errcheck // Format is controlled

	return &rec, nil
}
