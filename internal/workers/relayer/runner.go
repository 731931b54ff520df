package relayer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ecocert/internal/domain"
	"ecocert/internal/ports"
)

// Processor performs the oracle work for a claimed job.
type Processor interface {
	Process(ctx context.Context, job domain.OracleJob) error
}

// Run starts worker goroutines that claim oracle jobs and process them.
// Failed jobs are marked failed and not retried.
func Run(ctx context.Context, repo ports.JobRepository, processor Processor, concurrency int, pollInterval time.Duration, log *zap.Logger) {
	if concurrency < 1 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	jobsCh := make(chan domain.OracleJob, concurrency)

	// dispatcher loop
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(jobsCh)
				return
			case <-ticker.C:
				for {
					job, found, err := repo.ClaimNext(ctx)
					if err != nil {
						log.Error("job claim error", zap.Error(err))
						break
					}
					if !found {
						break
					}
					select {
					case jobsCh <- job:
					case <-ctx.Done():
						close(jobsCh)
						return
					}
				}
			}
		}
	}()

	for i := 0; i < concurrency; i++ {
		go func(idx int) {
			for job := range jobsCh {
				process(ctx, repo, processor, job, log.With(zap.Int("worker", idx)))
			}
		}(i)
	}
}

// Drain claims and processes queued jobs inline until none remain, using the
// same processor logic as the background workers. It returns the number of
// jobs processed.
func Drain(ctx context.Context, repo ports.JobRepository, processor Processor, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	n := 0
	for {
		job, found, err := repo.ClaimNext(ctx)
		if err != nil {
			return n, err
		}
		if !found {
			return n, nil
		}
		process(ctx, repo, processor, job, log)
		n++
	}
}

func process(ctx context.Context, repo ports.JobRepository, processor Processor, job domain.OracleJob, log *zap.Logger) {
	if err := processor.Process(ctx, job); err != nil {
		if mErr := repo.MarkFailed(ctx, job.ID, err.Error()); mErr != nil {
			log.Error("mark failed error", zap.String("job_id", job.ID), zap.Error(mErr))
		}
		log.Warn("oracle job failed", zap.String("job_id", job.ID), zap.String("request_id", string(job.RequestID)), zap.Error(err))
		return
	}
	if err := repo.MarkCompleted(ctx, job.ID); err != nil {
		log.Error("complete err", zap.String("job_id", job.ID), zap.Error(err))
	}
}
