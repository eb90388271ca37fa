package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStorage implements JobStorage and DeviceStorage on PostgreSQL
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage opens a connection, waits for the database and runs migrations
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStorage{db: db}
	if err := ps.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

// Close releases the connection pool
func (ps *PostgresStorage) Close() error {
	return ps.db.Close()
}

func (ps *PostgresStorage) migrate() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS estimate_jobs (
			id          TEXT PRIMARY KEY,
			device_id   TEXT         NOT NULL,
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			price       DOUBLE PRECISION NOT NULL DEFAULT 0,
			description TEXT         NOT NULL DEFAULT '',
			scope_type  TEXT         NOT NULL DEFAULT 'snapshot',
			ai_low      INTEGER      NOT NULL DEFAULT 0,
			ai_high     INTEGER      NOT NULL DEFAULT 0,
			notes       TEXT         NOT NULL DEFAULT '',
			lane        TEXT         NOT NULL DEFAULT '',
			media       JSONB,
			quote       JSONB
		);

		ALTER TABLE estimate_jobs ALTER COLUMN price TYPE DOUBLE PRECISION;

		CREATE INDEX IF NOT EXISTS idx_estimate_jobs_device ON estimate_jobs(device_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS estimate_devices (
			id           TEXT PRIMARY KEY,
			pro          BOOLEAN NOT NULL DEFAULT FALSE,
			uploads      INTEGER NOT NULL DEFAULT 0,
			subscription JSONB
		);
	`)
	return err
}

func (ps *PostgresStorage) CreateJob(ctx context.Context, job *Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	media, err := nullableJSON(job.Media)
	if err != nil {
		return fmt.Errorf("postgres: marshal media: %w", err)
	}
	quote, err := nullableJSON(job.Quote)
	if err != nil {
		return fmt.Errorf("postgres: marshal quote: %w", err)
	}

	_, err = ps.db.ExecContext(ctx, `
		INSERT INTO estimate_jobs
			(id, device_id, created_at, price, description, scope_type, ai_low, ai_high, notes, lane, media, quote)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.DeviceID, job.CreatedAt, job.Price, job.Description, job.ScopeType,
		job.AILow, job.AIHigh, job.Notes, job.Lane, media, quote,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("job %s: %w", job.ID, ErrJobExists)
		}
		return fmt.Errorf("postgres: insert job: %w", err)
	}

	return nil
}

const jobColumns = `id, device_id, created_at, price, description, scope_type, ai_low, ai_high, notes, lane, media, quote`

func (ps *PostgresStorage) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := ps.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM estimate_jobs WHERE id = $1`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}

	return job, nil
}

func (ps *PostgresStorage) GetJobsByDevice(ctx context.Context, deviceID string) ([]*Job, error) {
	rows, err := ps.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM estimate_jobs WHERE device_id = $1 ORDER BY created_at DESC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (ps *PostgresStorage) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	device := &Device{ID: deviceID}
	var subscription []byte

	err := ps.db.QueryRowContext(ctx,
		`SELECT pro, uploads, subscription FROM estimate_devices WHERE id = $1`, deviceID,
	).Scan(&device.Pro, &device.Uploads, &subscription)
	if errors.Is(err, sql.ErrNoRows) {
		return device, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get device: %w", err)
	}

	if len(subscription) > 0 {
		var sub Subscription
		if err := json.Unmarshal(subscription, &sub); err != nil {
			return nil, fmt.Errorf("postgres: parse subscription: %w", err)
		}
		device.Subscription = &sub
	}

	return device, nil
}

func (ps *PostgresStorage) IncrementUploads(ctx context.Context, deviceID string) (int, error) {
	var uploads int
	err := ps.db.QueryRowContext(ctx, `
		INSERT INTO estimate_devices (id, uploads) VALUES ($1, 1)
		ON CONFLICT (id) DO UPDATE SET uploads = estimate_devices.uploads + 1
		RETURNING uploads`, deviceID,
	).Scan(&uploads)
	if err != nil {
		return 0, fmt.Errorf("postgres: increment uploads: %w", err)
	}
	return uploads, nil
}

func (ps *PostgresStorage) SetSubscription(ctx context.Context, deviceID string, sub Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("postgres: marshal subscription: %w", err)
	}

	_, err = ps.db.ExecContext(ctx, `
		INSERT INTO estimate_devices (id, pro, subscription) VALUES ($1, TRUE, $2)
		ON CONFLICT (id) DO UPDATE SET pro = TRUE, subscription = EXCLUDED.subscription`,
		deviceID, string(data),
	)
	if err != nil {
		return fmt.Errorf("postgres: set subscription: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var media, quote []byte

	err := row.Scan(&job.ID, &job.DeviceID, &job.CreatedAt, &job.Price, &job.Description, &job.ScopeType,
		&job.AILow, &job.AIHigh, &job.Notes, &job.Lane, &media, &quote)
	if err != nil {
		return nil, err
	}

	if len(media) > 0 {
		if err := json.Unmarshal(media, &job.Media); err != nil {
			return nil, err
		}
	}
	if len(quote) > 0 {
		if err := json.Unmarshal(quote, &job.Quote); err != nil {
			return nil, err
		}
	}

	return &job, nil
}

// nullableJSON encodes v for a JSONB column, mapping nil pointers to SQL NULL
func nullableJSON(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}
