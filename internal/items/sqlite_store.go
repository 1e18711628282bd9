package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jo-hoe/condenser/internal/common"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY when several stage processes share the file.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		stage TEXT NOT NULL,
		stage_rank INTEGER NOT NULL,
		status TEXT NOT NULL,
		artifact_pointer TEXT,
		has_alt_transcript INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_work_items_job ON work_items(job_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, item *WorkItem) error {
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

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO work_items (id, job_id, source, title, timestamp, duration_ms, stage, stage_rank, status,
			artifact_pointer, has_alt_transcript, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		item.ID, item.JobID, item.Source, item.Title, item.Timestamp, item.Duration.Milliseconds(),
		item.Stage.String(), int(item.Stage), string(item.Status),
		nullable(item.ArtifactPointer), item.HasAltTranscript, nullable(item.Error),
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert work item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert work item: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, u Update) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanItem(tx.QueryRowContext(ctx, selectItem+` WHERE id = ?`, id))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	next, err := cur.Apply(u)
	if err != nil {
		return true, err
	}
	next.UpdatedAt = time.Now().UTC()

	// The row must still hold the status that was checked, so a terminal write in between is never undone.
	res, err := tx.ExecContext(ctx, `UPDATE work_items
		SET stage = ?, stage_rank = ?, status = ?, artifact_pointer = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND stage_rank <= ? AND status = ?`,
		next.Stage.String(), int(next.Stage), string(next.Status), nullable(next.ArtifactPointer),
		nullable(next.Error), formatTime(next.UpdatedAt), id, int(next.Stage), string(cur.Status),
	)
	if err != nil {
		return true, fmt.Errorf("update work item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return true, fmt.Errorf("%w: %s", ErrConflict, id)
	}
	if err := tx.Commit(); err != nil {
		return true, fmt.Errorf("commit update: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*WorkItem, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, selectItem+` WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *SQLiteStore) ListByJob(ctx context.Context, jobID string) ([]WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, selectItem+` WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var out []WorkItem
	for rows.Next() {
		it, err := scanItem(rows)
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectItem = `SELECT id, job_id, source, title, timestamp, duration_ms, stage_rank, status,
	artifact_pointer, has_alt_transcript, error_message, created_at, updated_at FROM work_items`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (WorkItem, error) {
	var it WorkItem
	var durationMS int64
	var rank int
	var status string
	var artifact, errMsg, created, updated sql.NullString

	if err := row.Scan(
		&it.ID,
		&it.JobID,
		&it.Source,
		&it.Title,
		&it.Timestamp,
		&durationMS,
		&rank,
		&status,
		&artifact,
		&it.HasAltTranscript,
		&errMsg,
		&created,
		&updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return it, ErrNotFound
		}
		return it, fmt.Errorf("scan work item: %w", err)
	}

	it.Duration = time.Duration(durationMS) * time.Millisecond
	it.Stage = Stage(rank)
	it.Status = Status(status)
	it.ArtifactPointer = artifact.String
	it.Error = errMsg.String
	if created.Valid {
		if t, err := time.Parse(time.RFC3339Nano, created.String); err == nil {
			it.CreatedAt = t
		}
	}
	if updated.Valid {
		if t, err := time.Parse(time.RFC3339Nano, updated.String); err == nil {
			it.UpdatedAt = t
		}
	}
	return it, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
