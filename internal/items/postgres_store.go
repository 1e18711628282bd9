package items

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps WorkItems in a shared Postgres database so stage services can run on separate hosts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		stage TEXT NOT NULL,
		stage_rank INTEGER NOT NULL,
		status TEXT NOT NULL,
		artifact_pointer TEXT NOT NULL DEFAULT '',
		has_alt_transcript BOOLEAN NOT NULL DEFAULT FALSE,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_work_items_job ON work_items(job_id);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, item *WorkItem) error {
	if item == nil {
		return errors.New("item is nil")
	}
	if item.ID == "" {
		return errors.New("item.ID is required")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = StatusProcessing
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO work_items (id, job_id, source, title, timestamp, duration_ms, stage, stage_rank, status,
			artifact_pointer, has_alt_transcript, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO NOTHING`,
		item.ID, item.JobID, item.Source, item.Title, item.Timestamp, item.Duration.Milliseconds(),
		item.Stage.String(), int(item.Stage), string(item.Status),
		item.ArtifactPointer, item.HasAltTranscript, item.Error, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert work item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, u Update) (bool, error) {
	found := true
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, err := scanPgItem(tx.QueryRow(ctx, pgSelectItem+` WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, ErrNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		next, err := cur.Apply(u)
		if err != nil {
			return err
		}
		next.UpdatedAt = time.Now().UTC()
		tag, err := tx.Exec(ctx, `UPDATE work_items
			SET stage = $1, stage_rank = $2, status = $3, artifact_pointer = $4, error_message = $5, updated_at = $6
			WHERE id = $7 AND stage_rank <= $2 AND status = $8`,
			next.Stage.String(), int(next.Stage), string(next.Status), next.ArtifactPointer, next.Error,
			next.UpdatedAt, id, string(cur.Status),
		)
		if err != nil {
			return fmt.Errorf("update work item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrConflict, id)
		}
		return nil
	})
	if err != nil {
		return true, err
	}
	return found, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*WorkItem, error) {
	it, err := scanPgItem(s.pool.QueryRow(ctx, pgSelectItem+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *PostgresStore) ListByJob(ctx context.Context, jobID string) ([]WorkItem, error) {
	rows, err := s.pool.Query(ctx, pgSelectItem+` WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var out []WorkItem
	for rows.Next() {
		it, err := scanPgItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgSelectItem = `SELECT id, job_id, source, title, timestamp, duration_ms, stage_rank, status,
	artifact_pointer, has_alt_transcript, error_message, created_at, updated_at FROM work_items`

func scanPgItem(row pgx.Row) (WorkItem, error) {
	var it WorkItem
	var durationMS int64
	var rank int
	var status string
	if err := row.Scan(
		&it.ID,
		&it.JobID,
		&it.Source,
		&it.Title,
		&it.Timestamp,
		&durationMS,
		&rank,
		&status,
		&it.ArtifactPointer,
		&it.HasAltTranscript,
		&it.Error,
		&it.CreatedAt,
		&it.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return it, ErrNotFound
		}
		return it, fmt.Errorf("scan work item: %w", err)
	}
	it.Duration = time.Duration(durationMS) * time.Millisecond
	it.Stage = Stage(rank)
	it.Status = Status(status)
	return it, nil
}
