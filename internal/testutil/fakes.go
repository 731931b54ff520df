// Package testutil provides deterministic stand-ins for the external
// collaborators so the services can be exercised without a live engine.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"ecocert/internal/domain"
)

// Ops is a plaintext-backed EncryptedOps. It remembers the value behind each
// handle so tests can play the oracle.
type Ops struct {
	mu     sync.Mutex
	next   int
	values map[domain.Handle]uint64
	Calls  []domain.Op
}

func NewOps() *Ops {
	return &Ops{values: make(map[domain.Handle]uint64)}
}

func (o *Ops) store(v uint64) domain.Handle {
	o.next++
	h := domain.Handle("h" + strconv.Itoa(o.next))
	o.values[h] = v
	return h
}

func (o *Ops) Encrypt(ctx context.Context, plaintext uint64) (domain.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store(plaintext), nil
}

func (o *Ops) Import(ctx context.Context, ciphertext []byte) (domain.Handle, error) {
	v, err := strconv.ParseUint(string(ciphertext), 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad ciphertext: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store(v), nil
}

func (o *Ops) Export(ctx context.Context, handle domain.Handle) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.values[handle]
	if !ok {
		return nil, fmt.Errorf("unknown handle %s", handle)
	}
	return []byte(strconv.FormatUint(v, 10)), nil
}

func (o *Ops) Combine(ctx context.Context, op domain.Op, handles ...domain.Handle) (domain.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls = append(o.Calls, op)
	vals := make([]uint64, len(handles))
	for i, h := range handles {
		v, ok := o.values[h]
		if !ok {
			return "", fmt.Errorf("unknown handle %s", h)
		}
		vals[i] = v
	}
	switch op.Kind {
	case domain.OpMulScalar:
		return o.store(vals[0] * op.Scalar), nil
	case domain.OpAddScalar:
		return o.store(vals[0] + op.Scalar), nil
	case domain.OpAdd:
		var sum uint64
		for _, v := range vals {
			sum += v
		}
		return o.store(sum), nil
	}
	return "", fmt.Errorf("unsupported op %s", op.Kind)
}

func (o *Ops) Decrypt(ctx context.Context, handle domain.Handle) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.values[handle]
	if !ok {
		return 0, fmt.Errorf("unknown handle %s", handle)
	}
	return v, nil
}

// Submission is one call to Oracle.SubmitDisclosureRequest.
type Submission struct {
	ID       domain.RequestID
	Handles  []domain.Handle
	Callback string
}

// Oracle records submissions and hands out sequential request ids.
type Oracle struct {
	mu          sync.Mutex
	Submissions []Submission
	Err         error
}

func (o *Oracle) SubmitDisclosureRequest(ctx context.Context, handles []domain.Handle, callback string) (domain.RequestID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return "", o.Err
	}
	id := domain.RequestID(fmt.Sprintf("R%d", len(o.Submissions)+1))
	o.Submissions = append(o.Submissions, Submission{ID: id, Handles: handles, Callback: callback})
	return id, nil
}

func (o *Oracle) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Submissions)
}

// Verifier accepts signatures produced by Sign once Threshold distinct
// signers agree.
type Verifier struct {
	Signers   []string
	Threshold int
}

func sigFor(signer string, id domain.RequestID, plaintext uint64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", signer, id, plaintext))
}

// Sign returns one signature per signer over (id, plaintext).
func (v Verifier) Sign(id domain.RequestID, plaintext uint64) [][]byte {
	out := make([][]byte, 0, len(v.Signers))
	for _, s := range v.Signers {
		out = append(out, sigFor(s, id, plaintext))
	}
	return out
}

func (v Verifier) VerifyThreshold(id domain.RequestID, plaintext uint64, signatures [][]byte) bool {
	seen := make(map[string]bool)
	for _, sig := range signatures {
		for _, s := range v.Signers {
			if bytes.Equal(sig, sigFor(s, id, plaintext)) {
				seen[s] = true
			}
		}
	}
	return len(seen) >= v.Threshold
}

// Events collects published events.
type Events struct {
	mu     sync.Mutex
	events []domain.Event
}

func (e *Events) Publish(ctx context.Context, ev domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *Events) OfType(t domain.EventType) []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
