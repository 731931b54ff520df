package certification

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

// Handles is the part of the handle registry the record store needs.
type Handles interface {
	System() domain.Principal
	Require(ctx context.Context, principal domain.Principal, handles ...domain.Handle) error
}

// Service is the record store: submission, attestation and score reads.
type Service struct {
	records ports.RecordRepository
	roles   ports.RoleRepository
	handles Handles
	policy  *policy.Policy
	events  ports.EventPublisher
	log     *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

func New(records ports.RecordRepository, roles ports.RoleRepository, handles Handles, pol *policy.Policy, events ports.EventPublisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if pol == nil {
		pol = policy.New(nil)
	}
	return &Service{records: records, roles: roles, handles: handles, policy: pol, events: events, log: log, now: time.Now}
}

// Submit stores a new record for owner. owner must already hold grants on
// both handles, which is how the registry proves the ciphertexts are theirs.
// The system grants are written with the record, never without it.
func (s *Service) Submit(ctx context.Context, owner domain.Principal, energy, efficiency domain.Handle) (domain.RecordID, error) {
	roles, err := s.roles.Roles(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.policy.Authorize(policy.ActionSubmit, owner, roles, policy.Subject{}); err != nil {
		return 0, err
	}
	if err := s.handles.Require(ctx, owner, energy, efficiency); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.records.CreateRecord(ctx, owner, energy, efficiency, s.now().UTC(), s.handles.System(), owner)
	if err != nil {
		return 0, fmt.Errorf("create record: %w", err)
	}
	s.log.Info("record submitted", zap.Uint64("record_id", uint64(rec.ID)), zap.String("owner", string(owner)))
	s.publish(ctx, domain.Event{Type: domain.EventRecordSubmitted, RecordID: rec.ID, Principal: owner})
	return rec.ID, nil
}

// AttestVerified marks a record verified. Verification is one-directional.
func (s *Service) AttestVerified(ctx context.Context, id domain.RecordID, caller domain.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	roles, err := s.roles.Roles(ctx)
	if err != nil {
		return err
	}
	if err := s.policy.Authorize(policy.ActionVerify, caller, roles, policy.Subject{RecordOwner: rec.Owner}); err != nil {
		return err
	}
	if rec.Verified {
		return nil
	}
	if err := s.records.MarkVerified(ctx, id); err != nil {
		return err
	}
	s.log.Info("record verified", zap.Uint64("record_id", uint64(id)), zap.String("authority", string(caller)))
	s.publish(ctx, domain.Event{Type: domain.EventRecordVerified, RecordID: id, Principal: caller})
	return nil
}

// GetRevealedScore returns 0 until a disclosure for the record completes.
func (s *Service) GetRevealedScore(ctx context.Context, id domain.RecordID) (uint64, error) {
	rec, err := s.mustGet(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.RevealedScore, nil
}

// GetRecord returns the record's public metadata. Handles are included; they
// reveal nothing without a grant.
func (s *Service) GetRecord(ctx context.Context, id domain.RecordID) (domain.Record, error) {
	return s.mustGet(ctx, id)
}

func (s *Service) Exists(ctx context.Context, id domain.RecordID) bool {
	if id == 0 {
		return false
	}
	count, err := s.records.RecordCount(ctx)
	if err != nil {
		s.log.Warn("record count failed", zap.Error(err))
		return false
	}
	if uint64(id) > count {
		return false
	}
	rec, found, err := s.records.GetRecord(ctx, id)
	if err != nil {
		s.log.Warn("record lookup failed", zap.Uint64("record_id", uint64(id)), zap.Error(err))
		return false
	}
	return found && rec.HasData
}

// RotateAuthority replaces the authority. Only the system owner may do this.
func (s *Service) RotateAuthority(ctx context.Context, caller, next domain.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roles, err := s.roles.Roles(ctx)
	if err != nil {
		return err
	}
	if err := s.policy.Authorize(policy.ActionRotateAuthority, caller, roles, policy.Subject{}); err != nil {
		return err
	}
	if next == "" {
		return fmt.Errorf("empty authority: %w", domain.ErrInvalidState)
	}
	if err := s.roles.SetAuthority(ctx, next); err != nil {
		return err
	}
	s.log.Info("authority rotated", zap.String("from", string(roles.Authority)), zap.String("to", string(next)))
	s.publish(ctx, domain.Event{Type: domain.EventAuthorityRotated, Principal: next, Reason: "previous=" + string(roles.Authority)})
	return nil
}

func (s *Service) mustGet(ctx context.Context, id domain.RecordID) (domain.Record, error) {
	if id == 0 {
		return domain.Record{}, fmt.Errorf("record 0: %w", domain.ErrNotFound)
	}
	rec, found, err := s.records.GetRecord(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if !found || !rec.HasData {
		return domain.Record{}, fmt.Errorf("record %d: %w", id, domain.ErrNotFound)
	}
	return rec, nil
}

func (s *Service) publish(ctx context.Context, e domain.Event) {
	if s.events == nil {
		return
	}
	e.At = s.now().UTC()
	s.events.Publish(ctx, e)
}
