package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"ecocert/internal/domain"
)

func (db *DB) EnqueueJob(ctx context.Context, job domain.OracleJob) error {
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO oracle_jobs (request_id, handles, callback) VALUES ($1, $2, $3)
    `, string(job.RequestID), fromHandles(job.Handles), job.Callback)
	return err
}

// ClaimNext selects the next queued job using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (job domain.OracleJob, found bool, err error) {
	// Use explicit transaction to safely lock and transition state
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	var (
		requestID string
		handles   []string
	)
	err = tx.QueryRow(ctx, `
        SELECT id::text, request_id, handles, callback FROM oracle_jobs
        WHERE status = 'queued'
        ORDER BY queued_at
        FOR UPDATE SKIP LOCKED
        LIMIT 1
    `).Scan(&job.ID, &requestID, &handles, &job.Callback)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}
	job.RequestID = domain.RequestID(requestID)
	job.Handles = toHandles(handles)

	if _, err = tx.Exec(ctx, `
        UPDATE oracle_jobs SET status='running', started_at=now(), attempts=attempts+1 WHERE id=$1::bigint
    `, job.ID); err != nil {
		return job, false, err
	}
	return job, true, nil
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string) error {
	return db.finishJob(ctx, jobID, "completed", "")
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return db.finishJob(ctx, jobID, "failed", reason)
}

func (db *DB) finishJob(ctx context.Context, jobID, status, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := db.Pool.Exec(ctx, `
        UPDATE oracle_jobs SET status=$2, reason=$3, finished_at=now() WHERE id=$1::bigint
    `, jobID, status, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
