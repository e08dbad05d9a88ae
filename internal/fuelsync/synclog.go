package fuelsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fuel-index/internal/db"
)

// Sync run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// SyncEntry represents a row in fuel.sync_log.
type SyncEntry struct {
	ID          int64          `json:"id"`
	RunID       uuid.UUID      `json:"run_id"`
	Source      string         `json:"source"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RowsRead    int64          `json:"rows_read"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SyncLog records ingestion runs in fuel.sync_log.
type SyncLog struct {
	pool db.Pool
}

// NewSyncLog creates a new SyncLog backed by the given connection pool.
func NewSyncLog(pool db.Pool) *SyncLog {
	return &SyncLog{pool: pool}
}

// Start records the beginning of a run and returns its row ID.
func (s *SyncLog) Start(ctx context.Context, runID uuid.UUID, source string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO fuel.sync_log (run_id, source, status, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		runID, source,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "synclog: start run %s", runID)
	}
	return id, nil
}

// Complete marks a run as finished. report is stored as metadata.
func (s *SyncLog) Complete(ctx context.Context, id int64, rowsRead int64, report any) error {
	var meta []byte
	if report != nil {
		var err error
		if meta, err = json.Marshal(report); err != nil {
			return eris.Wrap(err, "synclog: marshal report")
		}
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE fuel.sync_log
		 SET status = 'complete', completed_at = now(), rows_read = $1, metadata = $2
		 WHERE id = $3`,
		rowsRead, meta, id,
	); err != nil {
		return eris.Wrapf(err, "synclog: complete run %d", id)
	}
	return nil
}

// Fail marks a run as failed with an error message.
func (s *SyncLog) Fail(ctx context.Context, id int64, errMsg string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE fuel.sync_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, id,
	); err != nil {
		return eris.Wrapf(err, "synclog: fail run %d", id)
	}
	return nil
}

// LastSuccess returns the start time of the latest complete run, or nil.
func (s *SyncLog) LastSuccess(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM fuel.sync_log
		 WHERE status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "synclog: last success")
	}
	return &t, nil
}

// List returns the most recent entries, newest first.
func (s *SyncLog) List(ctx context.Context, limit int) ([]SyncEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, source, status, started_at, completed_at, rows_read, error, metadata
		 FROM fuel.sync_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "synclog: list")
	}
	defer rows.Close()

	var entries []SyncEntry
	for rows.Next() {
		var e SyncEntry
		var errStr *string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Source, &e.Status, &e.StartedAt, &e.CompletedAt, &e.RowsRead, &errStr, &meta); err != nil {
			return nil, eris.Wrap(err, "synclog: scan entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if meta != nil {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
