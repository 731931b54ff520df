package certification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecocert/internal/adapters/memory"
	"ecocert/internal/domain"
	"ecocert/internal/services/registry"
	"ecocert/internal/testutil"
)

type fixture struct {
	svc    *Service
	reg    *registry.Service
	store  *memory.Store
	events *testutil.Events
}

func newFixture() fixture {
	store := memory.New(domain.Roles{SystemOwner: "owner", Authority: "authority"})
	reg := registry.New(store, testutil.NewOps(), "system", nil)
	events := &testutil.Events{}
	return fixture{
		svc:    New(store, store, reg, nil, events, nil),
		reg:    reg,
		store:  store,
		events: events,
	}
}

func (f fixture) submit(t *testing.T, owner domain.Principal, energy, efficiency uint64) domain.RecordID {
	t.Helper()
	ctx := context.Background()
	he, err := f.reg.Encrypt(ctx, owner, energy)
	require.NoError(t, err)
	hf, err := f.reg.Encrypt(ctx, owner, efficiency)
	require.NoError(t, err)
	id, err := f.svc.Submit(ctx, owner, he, hf)
	require.NoError(t, err)
	return id
}

func TestSubmitAllocatesSequentialIDs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.False(t, f.svc.Exists(ctx, 1))
	id := f.submit(t, "alice", 500, 80)
	assert.Equal(t, domain.RecordID(1), id)
	assert.True(t, f.svc.Exists(ctx, 1))
	assert.False(t, f.svc.Exists(ctx, 2), "successor must not exist before it is submitted")
	assert.False(t, f.svc.Exists(ctx, 0))

	id2 := f.submit(t, "bob", 1, 2)
	assert.Equal(t, domain.RecordID(2), id2)
	assert.Len(t, f.events.OfType(domain.EventRecordSubmitted), 2)
}

func TestSubmitGrantsSystemAndOwner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.submit(t, "alice", 500, 80)

	rec, err := f.svc.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Principal("alice"), rec.Owner)
	for _, h := range []domain.Handle{rec.Energy, rec.Efficiency} {
		require.NoError(t, f.reg.Require(ctx, "system", h))
		require.NoError(t, f.reg.Require(ctx, "alice", h))
	}
}

func TestSubmitRejectsForeignHandles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	he, err := f.reg.Encrypt(ctx, "alice", 500)
	require.NoError(t, err)
	hf, err := f.reg.Encrypt(ctx, "alice", 80)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "mallory", he, hf)
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.False(t, f.svc.Exists(ctx, 1))
	ok, err := f.reg.CanUse(ctx, he, "system")
	require.NoError(t, err)
	assert.False(t, ok, "rejected submission must not grant anything")
}

func TestAttestVerified(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	err := f.svc.AttestVerified(ctx, 1, "authority")
	require.ErrorIs(t, err, domain.ErrNotFound)

	id := f.submit(t, "alice", 500, 80)
	for _, caller := range []domain.Principal{"alice", "owner", "mallory", ""} {
		err = f.svc.AttestVerified(ctx, id, caller)
		require.ErrorIs(t, err, domain.ErrNotAuthorized)
	}
	rec, err := f.svc.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.False(t, rec.Verified)

	require.NoError(t, f.svc.AttestVerified(ctx, id, "authority"))
	require.NoError(t, f.svc.AttestVerified(ctx, id, "authority"))
	rec, err = f.svc.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Verified)
	assert.Len(t, f.events.OfType(domain.EventRecordVerified), 1)
}

func TestGetRevealedScore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.GetRevealedScore(ctx, 0)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.GetRevealedScore(ctx, 3)
	require.ErrorIs(t, err, domain.ErrNotFound)

	id := f.submit(t, "alice", 500, 80)
	score, err := f.svc.GetRevealedScore(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestRotateAuthority(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.submit(t, "alice", 500, 80)

	require.ErrorIs(t, f.svc.RotateAuthority(ctx, "authority", "carol"), domain.ErrNotAuthorized)
	require.ErrorIs(t, f.svc.RotateAuthority(ctx, "owner", ""), domain.ErrInvalidState)
	require.NoError(t, f.svc.RotateAuthority(ctx, "owner", "carol"))

	require.ErrorIs(t, f.svc.AttestVerified(ctx, id, "authority"), domain.ErrNotAuthorized)
	require.NoError(t, f.svc.AttestVerified(ctx, id, "carol"))

	rotated := f.events.OfType(domain.EventAuthorityRotated)
	require.Len(t, rotated, 1)
	assert.Equal(t, domain.Principal("carol"), rotated[0].Principal)
}

// failingRecords grants through the wrapped store but refuses to create records.
type failingRecords struct {
	*memory.Store
}

func (failingRecords) CreateRecord(ctx context.Context, owner domain.Principal, energy, efficiency domain.Handle, at time.Time, readers ...domain.Principal) (domain.Record, error) {
	return domain.Record{}, errors.New("disk full")
}

func TestSubmitFailureLeavesNoGrants(t *testing.T) {
	ctx := context.Background()
	store := memory.New(domain.Roles{SystemOwner: "owner", Authority: "authority"})
	reg := registry.New(store, testutil.NewOps(), "system", nil)
	svc := New(failingRecords{store}, store, reg, nil, nil, nil)

	he, err := reg.Encrypt(ctx, "alice", 500)
	require.NoError(t, err)
	hf, err := reg.Encrypt(ctx, "alice", 80)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "alice", he, hf)
	require.Error(t, err)
	for _, h := range []domain.Handle{he, hf} {
		ok, err := reg.CanUse(ctx, h, "system")
		require.NoError(t, err)
		assert.False(t, ok, "system grant on %s outlived the failed submit", h)
	}
	assert.False(t, svc.Exists(ctx, 1))
}

// gappedRecords reports a high-water mark above the number of stored rows.
type gappedRecords struct {
	*memory.Store
	highest uint64
}

func (g gappedRecords) RecordCount(ctx context.Context) (uint64, error) { return g.highest, nil }

func TestExistsUsesHighestID(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.submit(t, "alice", 1, 2)
	f.submit(t, "bob", 3, 4)

	svc := New(gappedRecords{Store: f.store, highest: 2}, f.store, f.reg, nil, nil, nil)
	assert.True(t, svc.Exists(ctx, 2))
	svc = New(gappedRecords{Store: f.store, highest: 1}, f.store, f.reg, nil, nil, nil)
	assert.False(t, svc.Exists(ctx, 2), "ids above the high-water mark are not records")
}
