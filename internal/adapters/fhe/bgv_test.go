package fhe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"ecocert/internal/adapters/memory"
	"ecocert/internal/domain"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultParameters)
	require.NoError(t, err)
	return e
}

func TestScaleEfficiency(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	h, err := e.Encrypt(ctx, 80)
	require.NoError(t, err)
	scaled, err := e.Combine(ctx, domain.Op{Kind: domain.OpMulScalar, Scalar: 10}, h)
	require.NoError(t, err)
	assert.NotEqual(t, h, scaled)

	v, err := e.Decrypt(ctx, scaled)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), v)

	orig, err := e.Decrypt(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(80), orig, "operands are not mutated")
}

func TestAddOps(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	a, err := e.Encrypt(ctx, 500)
	require.NoError(t, err)
	b, err := e.Encrypt(ctx, 80)
	require.NoError(t, err)

	sum, err := e.Combine(ctx, domain.Op{Kind: domain.OpAdd}, a, b)
	require.NoError(t, err)
	v, err := e.Decrypt(ctx, sum)
	require.NoError(t, err)
	assert.Equal(t, uint64(580), v)

	plus, err := e.Combine(ctx, domain.Op{Kind: domain.OpAddScalar, Scalar: 20}, a)
	require.NoError(t, err)
	v, err = e.Decrypt(ctx, plus)
	require.NoError(t, err)
	assert.Equal(t, uint64(520), v)

	_, err = e.Combine(ctx, domain.Op{Kind: domain.OpAdd}, a)
	assert.Error(t, err)
	_, err = e.Combine(ctx, domain.Op{Kind: domain.OpMulScalar, Scalar: 2}, a, b)
	assert.Error(t, err)
}

func TestImportExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	raw, err := e.EncryptBytes(42)
	require.NoError(t, err)
	h, err := e.Import(ctx, raw)
	require.NoError(t, err)

	v, err := e.Decrypt(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	out, err := e.Export(ctx, h)
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, err = e.Import(ctx, []byte("not a ciphertext"))
	assert.Error(t, err)
}

func TestUnknownHandleAndRange(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Decrypt(ctx, "ct_missing")
	assert.Error(t, err)
	_, err = e.Combine(ctx, domain.Op{Kind: domain.OpMulScalar, Scalar: 2}, "ct_missing")
	assert.Error(t, err)
	_, err = e.Encrypt(ctx, e.PlaintextModulus())
	assert.Error(t, err)

	pk, err := e.PublicKey()
	require.NoError(t, err)
	assert.NotEmpty(t, pk)
}

func TestHandlesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fhe", "keys.json")
	store := memory.New(domain.Roles{})

	keys, created, err := LoadOrCreateKeys(path, DefaultParameters)
	require.NoError(t, err)
	assert.True(t, created)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	first := NewWithKeys(keys, store)
	h, err := first.Encrypt(ctx, 80)
	require.NoError(t, err)
	scaled, err := first.Combine(ctx, domain.Op{Kind: domain.OpMulScalar, Scalar: 10}, h)
	require.NoError(t, err)
	pk1, err := first.PublicKey()
	require.NoError(t, err)

	reloaded, created, err := LoadOrCreateKeys(path, DefaultParameters)
	require.NoError(t, err)
	assert.False(t, created)
	second := NewWithKeys(reloaded, store)

	v, err := second.Decrypt(ctx, scaled)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), v)
	pk2, err := second.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, pk1, pk2, "the public key is stable across restarts")

	// Ciphertexts clients encrypted under the old key still import.
	raw, err := first.EncryptBytes(7)
	require.NoError(t, err)
	imported, err := second.Import(ctx, raw)
	require.NoError(t, err)
	v, err = second.Decrypt(ctx, imported)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)
}

func TestUnmarshalKeysRejectsGarbage(t *testing.T) {
	_, err := UnmarshalKeys([]byte("{}"))
	assert.Error(t, err)
	_, err = UnmarshalKeys([]byte("not json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, _, err = LoadOrCreateKeys(path, DefaultParameters)
	assert.Error(t, err, "a corrupt key file is never silently replaced")
}

func TestImportRejectsMalformedPolynomials(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	mangle := func(f func(ct *rlwe.Ciphertext)) []byte {
		t.Helper()
		raw, err := e.EncryptBytes(1)
		require.NoError(t, err)
		ct := new(rlwe.Ciphertext)
		require.NoError(t, ct.UnmarshalBinary(raw))
		f(ct)
		out, err := ct.MarshalBinary()
		require.NoError(t, err)
		return out
	}

	cases := map[string]func(ct *rlwe.Ciphertext){
		"short row in second polynomial": func(ct *rlwe.Ciphertext) {
			ct.Value[1].Coeffs[0] = ct.Value[1].Coeffs[0][:8]
		},
		"level mismatch between polynomials": func(ct *rlwe.Ciphertext) {
			ct.Value[1].Coeffs = ct.Value[1].Coeffs[:1]
		},
		"extra polynomial": func(ct *rlwe.Ciphertext) {
			ct.Value = append(ct.Value, *ct.Value[0].CopyNew())
		},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.Import(ctx, mangle(f))
			assert.Error(t, err)
		})
	}
}

func TestMulScalarRejectsWrappingFactor(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	h, err := e.Encrypt(ctx, 1)
	require.NoError(t, err)
	_, err = e.Combine(ctx, domain.Op{Kind: domain.OpMulScalar, Scalar: e.PlaintextModulus()}, h)
	assert.Error(t, err)
}
