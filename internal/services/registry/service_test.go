package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecocert/internal/adapters/memory"
	"ecocert/internal/domain"
	"ecocert/internal/testutil"
)

func newRegistry() (*Service, *testutil.Ops) {
	ops := testutil.NewOps()
	store := memory.New(domain.Roles{SystemOwner: "owner", Authority: "authority"})
	return New(store, ops, "system", nil), ops
}

func TestGrantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry()

	require.NoError(t, reg.Grant(ctx, "h1", "alice"))
	require.NoError(t, reg.Grant(ctx, "h1", "alice"))
	ok, err := reg.CanUse(ctx, "h1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.CanUse(ctx, "h1", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEncryptGrantsCaller(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry()

	h, err := reg.Encrypt(ctx, "alice", 42)
	require.NoError(t, err)
	require.NoError(t, reg.Require(ctx, "alice", h))
	assert.ErrorIs(t, reg.Require(ctx, "bob", h), domain.ErrNotAuthorized)
	assert.ErrorIs(t, reg.Require(ctx, "system", h), domain.ErrNotAuthorized)
}

func TestImportRejectsAnonymousCaller(t *testing.T) {
	reg, _ := newRegistry()
	_, err := reg.Import(context.Background(), "", []byte("1"))
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestCombineRequiresSystemGrant(t *testing.T) {
	ctx := context.Background()
	reg, ops := newRegistry()

	h, err := reg.Encrypt(ctx, "alice", 80)
	require.NoError(t, err)

	_, err = reg.Combine(ctx, domain.Op{Kind: domain.OpMulScalar, Scalar: 10}, "alice", h)
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.Empty(t, ops.Calls, "engine must not be called on rejection")

	require.NoError(t, reg.Grant(ctx, h, reg.System()))
	out, err := reg.Combine(ctx, domain.Op{Kind: domain.OpMulScalar, Scalar: 10}, "alice", h)
	require.NoError(t, err)
	require.NoError(t, reg.Require(ctx, "alice", out))
	require.NoError(t, reg.Require(ctx, "system", out))

	v, err := ops.Decrypt(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), v)
}

func TestExportRequiresGrant(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry()
	h, err := reg.Encrypt(ctx, "alice", 7)
	require.NoError(t, err)

	_, err = reg.Export(ctx, "bob", h)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	ct, err := reg.Export(ctx, "alice", h)
	require.NoError(t, err)
	assert.Equal(t, "7", string(ct))
}
