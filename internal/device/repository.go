package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/gridpulse/gridpulse-core/internal/infrastructure/database"
)

// Repository defines the interface for device persistence operations.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices, ordered by ID.
	List(ctx context.Context) ([]*Device, error)

	// Create persists a new device.
	// Returns ErrExists if a device with the same ID already exists.
	Create(ctx context.Context, d *Device) error

	// Update persists changes to an existing device.
	// Returns ErrNotFound if the device does not exist.
	Update(ctx context.Context, d *Device) error

	// TouchLastSeen advances a device's last-seen timestamp. The update
	// is monotonic: an observedAt older than the stored value is a no-op.
	TouchLastSeen(ctx context.Context, id string, observedAt time.Time) error

	// SetRetired flips a device's retired flag.
	// Returns ErrNotFound if the device does not exist.
	SetRetired(ctx context.Context, id string, retired bool) error
}

// SQLiteRepository implements Repository backed by SQLite.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a repository using the given database.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, protocol, manufacturer, model, retired, last_seen, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("device: get %s: %w", id, err)
	}
	return d, nil
}

// List retrieves all devices ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("device: list: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("device: scan: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("device: iterate: %w", err)
	}
	return devices, nil
}

// Create persists a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	query := `
		INSERT INTO devices (id, name, protocol, manufacturer, model, retired, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.Name, string(d.Protocol),
		d.Manufacturer, d.Model, boolToInt(d.Retired),
		timePtrToString(d.LastSeen),
		timeToString(d.CreatedAt), timeToString(d.UpdatedAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrExists
		}
		return fmt.Errorf("device: create %s: %w", d.ID, err)
	}
	return nil
}

// Update persists changes to an existing device. last_seen is managed
// through TouchLastSeen and deliberately not written here.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	query := `
		UPDATE devices
		SET name = ?, protocol = ?, manufacturer = ?, model = ?, retired = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		d.Name, string(d.Protocol), d.Manufacturer, d.Model,
		boolToInt(d.Retired), timeToString(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("device: update %s: %w", d.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("device: update %s: rows affected: %w", d.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastSeen advances last_seen only when observedAt is newer than
// the stored value. Zero rows affected is not an error: it means either
// the device is unknown (caller resolves first) or the stored timestamp
// is already ahead.
func (r *SQLiteRepository) TouchLastSeen(ctx context.Context, id string, observedAt time.Time) error {
	ts := timeToString(observedAt)
	query := `
		UPDATE devices
		SET last_seen = ?, updated_at = ?
		WHERE id = ? AND (last_seen IS NULL OR last_seen < ?)`

	_, err := r.db.ExecContext(ctx, query, ts, timeToString(time.Now().UTC()), id, ts)
	if err != nil {
		return fmt.Errorf("device: touch %s: %w", id, err)
	}
	return nil
}

// SetRetired flips the retired flag.
func (r *SQLiteRepository) SetRetired(ctx context.Context, id string, retired bool) error {
	query := `UPDATE devices SET retired = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(retired), timeToString(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("device: set retired %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("device: set retired %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var (
		d         Device
		protocol  string
		retired   int
		lastSeen  sql.NullString
		createdAt string
		updatedAt string
	)

	err := s.Scan(&d.ID, &d.Name, &protocol, &d.Manufacturer, &d.Model,
		&retired, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	d.Protocol = Protocol(protocol)
	d.Retired = retired != 0

	if lastSeen.Valid && strings.TrimSpace(lastSeen.String) != "" {
		t, err := parseTime(lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_seen: %w", err)
		}
		d.LastSeen = &t
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &d, nil
}

// timeLayout is RFC3339 with a fixed-width fraction so lexical and
// chronological ordering agree, which the monotonic touch guard relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timeToString(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func timePtrToString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeToString(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s) // accepts fixed-width fractions too
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
