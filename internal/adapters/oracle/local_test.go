package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecocert/internal/adapters/fhe"
	"ecocert/internal/adapters/memory"
	"ecocert/internal/adapters/quorum"
	"ecocert/internal/domain"
	"ecocert/internal/services/certification"
	"ecocert/internal/services/disclosure"
	"ecocert/internal/services/registry"
	"ecocert/internal/workers/relayer"
)

func TestSubmitQueuesJob(t *testing.T) {
	store := memory.New(domain.Roles{})
	o := NewLocal(store, nil)

	id, err := o.SubmitDisclosureRequest(context.Background(), []domain.Handle{"h1"}, domain.CallbackRevealScore)
	require.NoError(t, err)
	assert.Contains(t, string(id), "dr_")

	job, found, err := store.ClaimNext(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, job.RequestID)
	assert.Equal(t, []domain.Handle{"h1"}, job.Handles)

	_, err = o.SubmitDisclosureRequest(context.Background(), nil, domain.CallbackRevealScore)
	assert.Error(t, err)
}

// TestEndToEndWithEngine runs the certification scenario through the BGV
// engine, a 2-of-3 signing committee and the relayer.
func TestEndToEndWithEngine(t *testing.T) {
	ctx := context.Background()
	engine, err := fhe.New(fhe.DefaultParameters)
	require.NoError(t, err)
	committee, err := quorum.GenerateCommittee(3)
	require.NoError(t, err)
	verifier, err := quorum.NewVerifier(committee.Addresses(), 2)
	require.NoError(t, err)

	store := memory.New(domain.Roles{SystemOwner: "owner", Authority: "authority"})
	reg := registry.New(store, engine, "system", nil)
	certs := certification.New(store, store, reg, nil, nil, nil)
	local := NewLocal(store, nil)
	disc := disclosure.New(disclosure.Deps{
		Records:  store,
		Requests: store,
		Roles:    store,
		Handles:  reg,
		Oracle:   local,
		Verifier: verifier,
	}, disclosure.Config{})
	proc := Decrypter{Decryptor: engine, Signer: committee, Callback: disc}

	raw, err := engine.EncryptBytes(500)
	require.NoError(t, err)
	energy, err := reg.Import(ctx, "alice", raw)
	require.NoError(t, err)
	efficiency, err := reg.Encrypt(ctx, "alice", 80)
	require.NoError(t, err)

	id, err := certs.Submit(ctx, "alice", energy, efficiency)
	require.NoError(t, err)
	require.Equal(t, domain.RecordID(1), id)
	require.NoError(t, certs.AttestVerified(ctx, id, "authority"))

	req, err := disc.RequestDisclosure(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, req.Status)

	n, err := relayer.Drain(ctx, store, proc, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	score, err := certs.GetRevealedScore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), score)

	got, err := disc.Status(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, got.Status)
}

func TestDecrypterRejectsMultiHandleJobs(t *testing.T) {
	err := Decrypter{}.Process(context.Background(), domain.OracleJob{RequestID: "r", Handles: []domain.Handle{"a", "b"}})
	assert.Error(t, err)
}
