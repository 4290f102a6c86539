package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSampleSQL = `INSERT INTO nav_samples (
        captured_at,
        nav,
        price,
        difference,
        source
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (captured_at) DO UPDATE
    SET
        nav        = EXCLUDED.nav,
        price      = EXCLUDED.price,
        difference = EXCLUDED.difference,
        source     = EXCLUDED.source;`

	listSamplesBetweenSQL = `SELECT
        captured_at,
        nav::text,
        price::text,
        difference::text,
        source,
        created_at
    FROM nav_samples
    WHERE captured_at >= $1
      AND captured_at < $2
    ORDER BY captured_at;`

	listRecentSamplesSQL = `SELECT
        captured_at,
        nav::text,
        price::text,
        difference::text,
        source,
        created_at
    FROM nav_samples
    ORDER BY captured_at DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM nav_samples;`

	insertFailureSQL = `INSERT INTO collection_failures (
        occurred_at,
        legs,
        message,
        suppressed
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, created_at;`

	listRecentFailuresSQL = `SELECT
        id,
        occurred_at,
        legs,
        message,
        suppressed,
        created_at
    FROM collection_failures
    ORDER BY occurred_at DESC
    LIMIT $1;`

	insertAlertSQL = `INSERT INTO difference_alerts (
        sample_ts,
        difference,
        threshold,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (sample_ts) DO UPDATE
    SET difference = EXCLUDED.difference,
        threshold  = EXCLUDED.threshold,
        direction  = EXCLUDED.direction,
        channels   = EXCLUDED.channels
    RETURNING id, sample_ts, difference::text, threshold::text, direction, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        sample_ts,
        difference::text,
        threshold::text,
        direction,
        channels,
        created_at
    FROM difference_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM difference_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines operations for sample persistence.
type SampleStore interface {
	UpsertSample(ctx context.Context, sample SampleRecord) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]SampleRecord, error)
	ListRecentSamples(ctx context.Context, limit int) ([]SampleRecord, error)
	CountSamples(ctx context.Context) (int64, error)
}

// FailureStore records failed collection cycles.
type FailureStore interface {
	InsertFailure(ctx context.Context, failure FailureRecord) (FailureRecord, error)
	ListRecentFailures(ctx context.Context, limit int) ([]FailureRecord, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to samples, failures and alerts.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ SampleStore    = (*Store)(nil)
	_ FailureStore   = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock also dies with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSample persists or updates a sample keyed by capture time.
func (s *Store) UpsertSample(ctx context.Context, sample SampleRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	source := sample.Source
	if source == "" {
		source = "live"
	}

	_, execErr := pool.Exec(ctx, upsertSampleSQL,
		sample.CapturedAt,
		sample.NAV.String(),
		sample.Price.String(),
		sample.Difference.String(),
		source,
	)
	if execErr != nil {
		return fmt.Errorf("upsert sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within [from, to) in ascending order.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]SampleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples ordered by descending capture time.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]SampleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertFailure records a failed collection cycle.
func (s *Store) InsertFailure(ctx context.Context, failure FailureRecord) (FailureRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return FailureRecord{}, err
	}

	legs := failure.Legs
	if legs == nil {
		legs = []string{}
	}

	rec := failure
	rec.Legs = legs
	if scanErr := pool.QueryRow(ctx, insertFailureSQL,
		failure.OccurredAt,
		legs,
		failure.Message,
		failure.Suppressed,
	).Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return FailureRecord{}, fmt.Errorf("insert failure: %w", scanErr)
	}
	return rec, nil
}

// ListRecentFailures lists the most recent failed cycles.
func (s *Store) ListRecentFailures(ctx context.Context, limit int) ([]FailureRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentFailuresSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent failures: %w", queryErr)
	}
	defer rows.Close()

	failures := make([]FailureRecord, 0, limit)
	for rows.Next() {
		var rec FailureRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.OccurredAt,
			&rec.Legs,
			&rec.Message,
			&rec.Suppressed,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		failures = append(failures, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return failures, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.SampleTS,
		alert.Difference.String(),
		alert.Threshold.String(),
		alert.Direction,
		alert.Channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectSamples(rows pgx.Rows, capacity int) ([]SampleRecord, error) {
	samples := make([]SampleRecord, 0, capacity)
	for rows.Next() {
		var (
			rec                          SampleRecord
			navStr, priceStr, diffString string
		)
		if err := rows.Scan(
			&rec.CapturedAt,
			&navStr,
			&priceStr,
			&diffString,
			&rec.Source,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var err error
		if rec.NAV, err = decimal.NewFromString(navStr); err != nil {
			return nil, fmt.Errorf("parse nav: %w", err)
		}
		if rec.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if rec.Difference, err = decimal.NewFromString(diffString); err != nil {
			return nil, fmt.Errorf("parse difference: %w", err)
		}
		samples = append(samples, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var rec AlertRecord
	var diffStr, thresholdStr string
	if err := row.Scan(
		&rec.ID,
		&rec.SampleTS,
		&diffStr,
		&thresholdStr,
		&rec.Direction,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var err error
	if rec.Difference, err = decimal.NewFromString(diffStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse difference: %w", err)
	}
	if rec.Threshold, err = decimal.NewFromString(thresholdStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold: %w", err)
	}
	return rec, nil
}
