// Package disclosure implements the request/callback protocol that is the
// only route from an encrypted handle back to plaintext.
//
// A request moves pending -> resolved, or pending -> rejected when it
// outlives its deadline. Each request is correlated to the record it was
// issued for by request id, so callbacks may arrive in any order.
package disclosure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ecocert/internal/domain"
	"ecocert/internal/ports"
	"ecocert/internal/services/policy"
)

const (
	DefaultScoreFactor = 10
	DefaultTTL         = 15 * time.Minute

	reasonExpired = "expired"
)

type Config struct {
	// ScoreFactor scales the encrypted efficiency rating. Division is not
	// available over ciphertexts, so the score is a pure multiplication.
	ScoreFactor uint64
	// TTL bounds how long a request may stay pending. Zero disables expiry.
	TTL time.Duration
	// ReusePending returns the open request for a record instead of issuing
	// another one.
	ReusePending bool
}

// Handles is the part of the handle registry the protocol needs.
type Handles interface {
	Combine(ctx context.Context, op domain.Op, beneficiary domain.Principal, handles ...domain.Handle) (domain.Handle, error)
}

type Deps struct {
	Records  ports.RecordRepository
	Requests ports.RequestRepository
	Roles    ports.RoleRepository
	Handles  Handles
	Oracle   ports.DisclosureOracle
	Verifier ports.SignatureVerifier
	Policy   *policy.Policy
	Events   ports.EventPublisher
	Log      *zap.Logger
}

type Service struct {
	Deps
	cfg Config
	now func() time.Time

	// mu serializes issuance and resolution. An oracle that calls back
	// before SubmitDisclosureRequest returns would block here until the
	// request is recorded.
	mu sync.Mutex
}

func New(deps Deps, cfg Config) *Service {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Policy == nil {
		deps.Policy = policy.New(nil)
	}
	if cfg.ScoreFactor == 0 {
		cfg.ScoreFactor = DefaultScoreFactor
	}
	return &Service{Deps: deps, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RequestDisclosure derives the encrypted score for record id and submits it
// to the oracle. The score is not returned; callers poll the record.
func (s *Service) RequestDisclosure(ctx context.Context, id domain.RecordID, caller domain.Principal) (domain.DisclosureRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found, err := s.Records.GetRecord(ctx, id)
	if err != nil {
		return domain.DisclosureRequest{}, err
	}
	if id == 0 || !found || !rec.HasData {
		return domain.DisclosureRequest{}, fmt.Errorf("record %d: %w", id, domain.ErrNotFound)
	}
	roles, err := s.Roles.Roles(ctx)
	if err != nil {
		return domain.DisclosureRequest{}, err
	}
	if err := s.Policy.Authorize(policy.ActionRequestScore, caller, roles, policy.Subject{RecordOwner: rec.Owner}); err != nil {
		return domain.DisclosureRequest{}, err
	}
	if !rec.Verified {
		return domain.DisclosureRequest{}, fmt.Errorf("record %d not verified: %w", id, domain.ErrInvalidState)
	}

	now := s.now().UTC()
	if s.cfg.ReusePending {
		open, found, err := s.Requests.FindPendingForRecord(ctx, id)
		if err != nil {
			return domain.DisclosureRequest{}, err
		}
		if found && !open.Expired(now) {
			s.Log.Debug("reusing pending disclosure", zap.String("request_id", string(open.ID)), zap.Uint64("record_id", uint64(id)))
			return open, nil
		}
	}

	derived, err := s.Handles.Combine(ctx, domain.Op{Kind: domain.OpMulScalar, Scalar: s.cfg.ScoreFactor}, rec.Owner, rec.Efficiency)
	if err != nil {
		return domain.DisclosureRequest{}, fmt.Errorf("derive score: %w", err)
	}
	handles := []domain.Handle{derived}
	reqID, err := s.Oracle.SubmitDisclosureRequest(ctx, handles, domain.CallbackRevealScore)
	if err != nil {
		return domain.DisclosureRequest{}, fmt.Errorf("submit disclosure request: %w", err)
	}

	req := domain.DisclosureRequest{
		ID:          reqID,
		RecordID:    id,
		Handles:     handles,
		Callback:    domain.CallbackRevealScore,
		Status:      domain.StatusPending,
		RequestedBy: caller,
		IssuedAt:    now,
	}
	if s.cfg.TTL > 0 {
		req.Deadline = now.Add(s.cfg.TTL)
	}
	if err := s.Requests.CreateRequest(ctx, req); err != nil {
		// The oracle already has the request; its callback will be
		// rejected as unknown.
		s.Log.Error("disclosure request not recorded",
			zap.String("request_id", string(reqID)),
			zap.Uint64("record_id", uint64(id)),
			zap.Error(err),
		)
		return domain.DisclosureRequest{}, fmt.Errorf("record disclosure request: %w", err)
	}

	s.Log.Info("disclosure requested",
		zap.String("request_id", string(reqID)),
		zap.Uint64("record_id", uint64(id)),
		zap.String("caller", string(caller)),
	)
	s.publish(ctx, domain.Event{Type: domain.EventDisclosureRequested, RecordID: id, RequestID: reqID, Principal: caller})
	return req, nil
}

// OnDisclosureResolved is invoked by the oracle infrastructure. The value is
// trusted only after the signature quorum checks out, and is written only to
// the record the request was issued for. Rejections never touch a score.
func (s *Service) OnDisclosureResolved(ctx context.Context, id domain.RequestID, plaintext uint64, signatures [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Verifier.VerifyThreshold(id, plaintext, signatures) {
		return s.rejectCallback(ctx, id, 0, "invalid_signatures", domain.ErrInvalidSignatures)
	}
	req, found, err := s.Requests.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return s.rejectCallback(ctx, id, 0, "unknown_request", domain.ErrUnknownRequest)
	}
	if req.Status != domain.StatusPending {
		return s.rejectCallback(ctx, id, req.RecordID, "not_pending", fmt.Errorf("request is %s: %w", req.Status, domain.ErrInvalidState))
	}

	now := s.now().UTC()
	if req.Expired(now) {
		if err := s.expire(ctx, req, now); err != nil {
			return err
		}
		return s.rejectCallback(ctx, id, req.RecordID, "late_callback", domain.ErrRequestExpired)
	}

	switch req.Callback {
	case domain.CallbackRevealScore:
		if err := s.Requests.CommitScore(ctx, id, plaintext, now); err != nil {
			return fmt.Errorf("commit score: %w", err)
		}
	default:
		return s.rejectCallback(ctx, id, req.RecordID, "unknown_callback", fmt.Errorf("callback %q: %w", req.Callback, domain.ErrInvalidState))
	}

	s.Log.Info("disclosure resolved",
		zap.String("request_id", string(id)),
		zap.Uint64("record_id", uint64(req.RecordID)),
		zap.Duration("latency", now.Sub(req.IssuedAt)),
	)
	s.publish(ctx, domain.Event{Type: domain.EventDisclosureResolved, RecordID: req.RecordID, RequestID: id, Score: plaintext})
	return nil
}

// Status returns the request as currently recorded.
func (s *Service) Status(ctx context.Context, id domain.RequestID) (domain.DisclosureRequest, error) {
	req, found, err := s.Requests.GetRequest(ctx, id)
	if err != nil {
		return domain.DisclosureRequest{}, err
	}
	if !found {
		return domain.DisclosureRequest{}, fmt.Errorf("request %s: %w", id, domain.ErrUnknownRequest)
	}
	return req, nil
}

// ExpireStale rejects up to limit pending requests whose deadline has passed.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	stale, err := s.Requests.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, req := range stale {
		if err := s.expire(ctx, req, now); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Service) expire(ctx context.Context, req domain.DisclosureRequest, now time.Time) error {
	if err := s.Requests.RejectRequest(ctx, req.ID, reasonExpired, now); err != nil {
		return fmt.Errorf("expire request %s: %w", req.ID, err)
	}
	s.Log.Warn("disclosure expired",
		zap.String("request_id", string(req.ID)),
		zap.Uint64("record_id", uint64(req.RecordID)),
		zap.Time("deadline", req.Deadline),
	)
	s.publish(ctx, domain.Event{Type: domain.EventDisclosureExpired, RecordID: req.RecordID, RequestID: req.ID, Reason: reasonExpired})
	return nil
}

func (s *Service) rejectCallback(ctx context.Context, id domain.RequestID, recordID domain.RecordID, reason string, err error) error {
	s.Log.Warn("disclosure callback rejected",
		zap.String("request_id", string(id)),
		zap.String("reason", reason),
		zap.Error(err),
	)
	s.publish(ctx, domain.Event{Type: domain.EventCallbackRejected, RecordID: recordID, RequestID: id, Reason: reason})
	return fmt.Errorf("callback %s: %w", id, err)
}

func (s *Service) publish(ctx context.Context, e domain.Event) {
	if s.Events == nil {
		return
	}
	e.At = s.now().UTC()
	s.Events.Publish(ctx, e)
}
