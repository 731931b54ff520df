// Package memory is an in-process implementation of the repository ports.
// A single lock serializes every call, so each method is atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"ecocert/internal/domain"
)

type grantKey struct {
	handle    domain.Handle
	principal domain.Principal
}

type jobState struct {
	job    domain.OracleJob
	status string // queued|running|completed|failed
	reason string
}

type Store struct {
	mu       sync.RWMutex
	roles    domain.Roles
	records  []domain.Record // records[i] has id i+1
	grants   map[grantKey]struct{}
	blobs    map[domain.Handle][]byte
	requests map[domain.RequestID]domain.DisclosureRequest
	jobs     []*jobState
	nextJob  uint64
}

func New(roles domain.Roles) *Store {
	return &Store{
		roles:    roles,
		grants:   make(map[grantKey]struct{}),
		blobs:    make(map[domain.Handle][]byte),
		requests: make(map[domain.RequestID]domain.DisclosureRequest),
	}
}

// RoleRepository

func (s *Store) Roles(ctx context.Context) (domain.Roles, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles, nil
}

func (s *Store) SetAuthority(ctx context.Context, authority domain.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles.Authority = authority
	return nil
}

// RecordRepository

func (s *Store) CreateRecord(ctx context.Context, owner domain.Principal, energy, efficiency domain.Handle, at time.Time, readers ...domain.Principal) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range readers {
		if p == "" {
			return domain.Record{}, fmt.Errorf("empty reader: %w", domain.ErrInvalidState)
		}
	}
	for _, p := range readers {
		s.grants[grantKey{handle: energy, principal: p}] = struct{}{}
		s.grants[grantKey{handle: efficiency, principal: p}] = struct{}{}
	}
	rec := domain.Record{
		ID:         domain.RecordID(len(s.records) + 1),
		Owner:      owner,
		Energy:     energy,
		Efficiency: efficiency,
		HasData:    true,
		CreatedAt:  at,
	}
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *Store) GetRecord(ctx context.Context, id domain.RecordID) (domain.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index(id)
	if !ok {
		return domain.Record{}, false, nil
	}
	return s.records[idx], true, nil
}

func (s *Store) RecordCount(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.records)), nil
}

func (s *Store) MarkVerified(ctx context.Context, id domain.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index(id)
	if !ok {
		return domain.ErrNotFound
	}
	s.records[idx].Verified = true
	return nil
}

func (s *Store) index(id domain.RecordID) (int, bool) {
	if id == 0 || uint64(id) > uint64(len(s.records)) {
		return 0, false
	}
	idx := int(id) - 1
	return idx, s.records[idx].HasData
}

// GrantRepository

func (s *Store) Grant(ctx context.Context, handle domain.Handle, principal domain.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grantKey{handle: handle, principal: principal}] = struct{}{}
	return nil
}

func (s *Store) IsGranted(ctx context.Context, handle domain.Handle, principal domain.Principal) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grants[grantKey{handle: handle, principal: principal}]
	return ok, nil
}

// CiphertextStore

func (s *Store) PutCiphertext(ctx context.Context, handle domain.Handle, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[handle] = append([]byte(nil), data...)
	return nil
}

func (s *Store) GetCiphertext(ctx context.Context, handle domain.Handle) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[handle]
	return data, ok, nil
}

// RequestRepository

func (s *Store) CreateRequest(ctx context.Context, req domain.DisclosureRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("request %s already recorded: %w", req.ID, domain.ErrInvalidState)
	}
	req.Handles = append([]domain.Handle(nil), req.Handles...)
	s.requests[req.ID] = req
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id domain.RequestID) (domain.DisclosureRequest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	return req, ok, nil
}

func (s *Store) FindPendingForRecord(ctx context.Context, recordID domain.RecordID) (domain.DisclosureRequest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest domain.DisclosureRequest
	found := false
	for _, req := range s.requests {
		if req.RecordID != recordID || req.Status != domain.StatusPending {
			continue
		}
		if !found || req.IssuedAt.After(latest.IssuedAt) {
			latest, found = req, true
		}
	}
	return latest, found, nil
}

func (s *Store) CommitScore(ctx context.Context, id domain.RequestID, value uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.ErrUnknownRequest
	}
	if req.Status != domain.StatusPending {
		return fmt.Errorf("request %s is %s: %w", id, req.Status, domain.ErrInvalidState)
	}
	idx, ok := s.index(req.RecordID)
	if !ok {
		return domain.ErrNotFound
	}
	s.records[idx].RevealedScore = value
	s.records[idx].Scored = true
	req.Status = domain.StatusResolved
	req.Value = value
	req.ResolvedAt = at
	s.requests[id] = req
	return nil
}

func (s *Store) RejectRequest(ctx context.Context, id domain.RequestID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.ErrUnknownRequest
	}
	if req.Status != domain.StatusPending {
		return fmt.Errorf("request %s is %s: %w", id, req.Status, domain.ErrInvalidState)
	}
	req.Status = domain.StatusRejected
	req.Reason = reason
	req.ResolvedAt = at
	s.requests[id] = req
	return nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.DisclosureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DisclosureRequest
	for _, req := range s.requests {
		if req.Expired(now) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// JobRepository

func (s *Store) EnqueueJob(ctx context.Context, job domain.OracleJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextJob++
	job.ID = strconv.FormatUint(s.nextJob, 10)
	job.Handles = append([]domain.Handle(nil), job.Handles...)
	s.jobs = append(s.jobs, &jobState{job: job, status: "queued"})
	return nil
}

func (s *Store) ClaimNext(ctx context.Context) (domain.OracleJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, js := range s.jobs {
		if js.status == "queued" {
			js.status = "running"
			return js.job, true, nil
		}
	}
	return domain.OracleJob{}, false, nil
}

func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	return s.finishJob(jobID, "completed", "")
}

func (s *Store) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return s.finishJob(jobID, "failed", reason)
}

func (s *Store) finishJob(jobID, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, js := range s.jobs {
		if js.job.ID == jobID {
			js.status = status
			js.reason = reason
			return nil
		}
	}
	return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
}

// JobStatus reports the state of a queued job, for diagnostics and tests.
func (s *Store) JobStatus(jobID string) (status, reason string, found bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, js := range s.jobs {
		if js.job.ID == jobID {
			return js.status, js.reason, true
		}
	}
	return "", "", false
}
