package ports

import (
	"context"

	"ecocert/internal/domain"
)

// JobRepository supports queueing and claiming local oracle decryption jobs.
type JobRepository interface {
	EnqueueJob(ctx context.Context, job domain.OracleJob) error
	ClaimNext(ctx context.Context) (job domain.OracleJob, found bool, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
}
