// Package oracle is an in-process stand-in for the off-ledger decryption
// service: requests are queued as jobs, and the relayer workers decrypt,
// have the committee sign, and deliver the callback.
package oracle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ecocert/internal/domain"
	"ecocert/internal/ports"
)

// Local implements ports.DisclosureOracle on top of a job queue. It never
// calls back synchronously.
type Local struct {
	jobs ports.JobRepository
	log  *zap.Logger
}

func NewLocal(jobs ports.JobRepository, log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{jobs: jobs, log: log}
}

func (l *Local) SubmitDisclosureRequest(ctx context.Context, handles []domain.Handle, callback string) (domain.RequestID, error) {
	if len(handles) == 0 {
		return "", fmt.Errorf("disclosure request without handles")
	}
	id := domain.RequestID("dr_" + uuid.NewString())
	if err := l.jobs.EnqueueJob(ctx, domain.OracleJob{RequestID: id, Handles: handles, Callback: callback}); err != nil {
		return "", fmt.Errorf("enqueue oracle job: %w", err)
	}
	l.log.Debug("oracle job queued", zap.String("request_id", string(id)), zap.Int("handles", len(handles)))
	return id, nil
}

// Signer produces the quorum signatures over a disclosed value.
type Signer interface {
	Sign(id domain.RequestID, plaintext uint64) ([][]byte, error)
}

// Decrypter is the job processor run by the relayer workers.
type Decrypter struct {
	Decryptor ports.Decryptor
	Signer    Signer
	Callback  ports.DisclosureCallback
}

func (d Decrypter) Process(ctx context.Context, job domain.OracleJob) error {
	if len(job.Handles) != 1 {
		return fmt.Errorf("job %s: expected one handle, got %d", job.RequestID, len(job.Handles))
	}
	v, err := d.Decryptor.Decrypt(ctx, job.Handles[0])
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	sigs, err := d.Signer.Sign(job.RequestID, v)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if err := d.Callback.OnDisclosureResolved(ctx, job.RequestID, v, sigs); err != nil {
		return fmt.Errorf("deliver callback: %w", err)
	}
	return nil
}
