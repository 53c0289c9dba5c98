// internal/store/store.go

// Package store persists location records to PostgreSQL. The upsert policy
// is most-recent-wins per plate: a record older than what is already stored
// leaves the row untouched.
package store

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/api/schemas"
)

//go:embed schema.sql
var schemaSQL string

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides the PostgreSQL persistence for location records.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the vehicle_locations table when it does not exist.
// The DDL is idempotent, so running it on every startup is safe. Statements
// run one at a time; pgx's extended protocol rejects multi-statement SQL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

const upsertLocationSQL = `
INSERT INTO vehicle_locations (
	id, plate, provider, latitude, longitude, speed_kmh, heading_deg,
	event_time, captured_at, reason, driver, driver_state, address, zone,
	detention, odometer_km, temp_c
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (plate) DO UPDATE SET
	id = EXCLUDED.id,
	provider = EXCLUDED.provider,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	speed_kmh = EXCLUDED.speed_kmh,
	heading_deg = EXCLUDED.heading_deg,
	event_time = EXCLUDED.event_time,
	captured_at = EXCLUDED.captured_at,
	reason = EXCLUDED.reason,
	driver = EXCLUDED.driver,
	driver_state = EXCLUDED.driver_state,
	address = EXCLUDED.address,
	zone = EXCLUDED.zone,
	detention = EXCLUDED.detention,
	odometer_km = EXCLUDED.odometer_km,
	temp_c = EXCLUDED.temp_c
WHERE EXCLUDED.event_time >= vehicle_locations.event_time`

// SaveLocation upserts one record. A stale record (older event time than the
// stored row) is a no-op, logged at debug.
func (s *Store) SaveLocation(ctx context.Context, rec *schemas.LocationRecord) error {
	if rec == nil {
		return fmt.Errorf("nil location record")
	}

	tag, err := s.pool.Exec(ctx, upsertLocationSQL,
		rec.ID, rec.Plate, string(rec.Provider), rec.Latitude, rec.Longitude,
		rec.SpeedKmh, rec.HeadingDeg, rec.EventTime, rec.CapturedAt,
		rec.Reason, rec.Driver, rec.DriverState, rec.Address, rec.Zone,
		rec.Detention, rec.OdometerKm, rec.TempC,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert location for %s: %w", rec.Plate, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("skipped stale location",
			zap.String("plate", rec.Plate),
			zap.Time("event_time", rec.EventTime))
	}
	return nil
}

const latestLocationSQL = `
SELECT id, plate, provider, latitude, longitude, speed_kmh, heading_deg,
	event_time, captured_at, reason, driver, driver_state, address, zone,
	detention, odometer_km, temp_c
FROM vehicle_locations
WHERE plate = $1`

// LatestLocation returns the stored record for a plate; the wrapped error
// carries pgx.ErrNoRows when the plate was never persisted.
func (s *Store) LatestLocation(ctx context.Context, plate string) (*schemas.LocationRecord, error) {
	plate = schemas.NormalizePlate(plate)

	var rec schemas.LocationRecord
	var provider string
	err := s.pool.QueryRow(ctx, latestLocationSQL, plate).Scan(
		&rec.ID, &rec.Plate, &provider, &rec.Latitude, &rec.Longitude,
		&rec.SpeedKmh, &rec.HeadingDeg, &rec.EventTime, &rec.CapturedAt,
		&rec.Reason, &rec.Driver, &rec.DriverState, &rec.Address, &rec.Zone,
		&rec.Detention, &rec.OdometerKm, &rec.TempC,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load location for %s: %w", plate, err)
	}
	rec.Provider = schemas.ProviderID(provider)
	return &rec, nil
}

const staleLocationsSQL = `
SELECT plate, event_time FROM vehicle_locations WHERE event_time < $1 ORDER BY event_time`

// StalePlate names a vehicle whose last fix predates a cutoff.
type StalePlate struct {
	Plate     string
	EventTime time.Time
}

// StaleLocations lists plates that have not reported since the cutoff, for
// operator review after a run.
func (s *Store) StaleLocations(ctx context.Context, cutoff time.Time) ([]StalePlate, error) {
	rows, err := s.pool.Query(ctx, staleLocationsSQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale locations: %w", err)
	}
	defer rows.Close()

	var stale []StalePlate
	for rows.Next() {
		var sp StalePlate
		if err := rows.Scan(&sp.Plate, &sp.EventTime); err != nil {
			return nil, fmt.Errorf("failed to scan stale location: %w", err)
		}
		stale = append(stale, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale locations: %w", err)
	}
	return stale, nil
}
