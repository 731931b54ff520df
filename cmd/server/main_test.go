package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ecocert/internal/adapters/fhe"
	"ecocert/internal/adapters/memory"
	"ecocert/internal/adapters/quorum"
	"ecocert/internal/config"
	"ecocert/internal/domain"
)

func TestKeygenPrintsUsableKeys(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"keygen", "-n", "2"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var addrs, keys []string
	for _, l := range lines {
		f := strings.Fields(l)
		require.Len(t, f, 2)
		addrs = append(addrs, f[0])
		keys = append(keys, f[1])
	}

	cfg := config.Config{OracleMode: config.OracleLocal, SignerKeys: keys, SignerAddresses: addrs, SignerThreshold: 2}
	committee, verifier, err := buildQuorum(cfg, zap.NewNop())
	require.NoError(t, err)
	sigs, err := committee.Sign("dr_1", 800)
	require.NoError(t, err)
	assert.True(t, verifier.VerifyThreshold("dr_1", 800, sigs))
}

func TestBuildQuorumModes(t *testing.T) {
	committee, verifier, err := buildQuorum(config.Config{OracleMode: config.OracleLocal, SignerThreshold: 2}, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, committee.Addresses(), 3, "ephemeral committee")
	assert.Equal(t, 2, verifier.Threshold())

	external, err := quorum.GenerateCommittee(3)
	require.NoError(t, err)
	var addrs []string
	for _, a := range external.Addresses() {
		addrs = append(addrs, a.Hex())
	}
	committee, verifier, err = buildQuorum(config.Config{OracleMode: config.OracleKafka, SignerAddresses: addrs, SignerThreshold: 3}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, committee)
	sigs, err := external.Sign("dr_2", 5)
	require.NoError(t, err)
	assert.True(t, verifier.VerifyThreshold("dr_2", 5, sigs))

	_, _, err = buildQuorum(config.Config{OracleMode: config.OracleLocal, SignerKeys: []string{"zz"}, SignerThreshold: 1}, zap.NewNop())
	assert.Error(t, err)
}

func TestBuildEngineReusesKeyFile(t *testing.T) {
	ctx := context.Background()
	store := memory.New(domain.Roles{})
	cfg := config.Config{FHEKeyFile: filepath.Join(t.TempDir(), "fhe.json"), ScoreFactor: 10}

	first, err := buildEngine(cfg, store, zap.NewNop())
	require.NoError(t, err)
	h, err := first.Encrypt(ctx, 42)
	require.NoError(t, err)

	second, err := buildEngine(cfg, store, zap.NewNop())
	require.NoError(t, err)
	v, err := second.Decrypt(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	cfg.ScoreFactor = second.PlaintextModulus()
	_, err = buildEngine(cfg, store, zap.NewNop())
	assert.Error(t, err)
}

func TestFHEKeygenWritesLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fhe.json")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"fhe-keygen", "--out", path})
	require.NoError(t, cmd.Execute())

	_, err := fhe.LoadKeys(path)
	require.NoError(t, err)

	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"fhe-keygen", "--out", path})
	assert.Error(t, cmd.Execute(), "existing key files are not overwritten")
}
