// Package fhe is a BGV engine backing the encrypted value operations.
// Ciphertexts sit behind opaque handles, cached in memory and written through
// to a CiphertextStore when one is configured. Only the oracle side is given
// the Decrypt method.
package fhe

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"

	"ecocert/internal/domain"
	"ecocert/internal/ports"
)

// DefaultParameters is a small BGV parameter set: one multiplicative level
// and a plaintext modulus of 65929217. Results wrap modulo that value, so an
// efficiency rating scaled by SCORE_FACTOR must stay below it (6592921 at
// the default factor of 10).
var DefaultParameters = bgv.ParametersLiteral{
	LogN:             13,
	LogQ:             []int{54, 54},
	LogP:             []int{55},
	PlaintextModulus: 0x3ee0001,
}

type Engine struct {
	params    bgv.Parameters
	pk        *rlwe.PublicKey
	encoder   *bgv.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
	evaluator *bgv.Evaluator

	store ports.CiphertextStore

	// lattigo encoders and evaluators are not safe for concurrent use.
	mu          sync.Mutex
	ciphertexts map[domain.Handle]*rlwe.Ciphertext
}

// New generates a fresh key pair for lit. Handles live only as long as the
// engine.
func New(lit bgv.ParametersLiteral) (*Engine, error) {
	keys, err := GenerateKeys(lit)
	if err != nil {
		return nil, err
	}
	return NewWithKeys(keys, nil), nil
}

// NewWithKeys builds an engine on existing keys. With a non-nil store, every
// new handle is persisted and unknown handles are loaded from it, so engines
// sharing keys and store see the same handles.
func NewWithKeys(keys *Keys, store ports.CiphertextStore) *Engine {
	params := keys.Params
	return &Engine{
		params:      params,
		pk:          keys.Public,
		encoder:     bgv.NewEncoder(params),
		encryptor:   rlwe.NewEncryptor(params, keys.Public),
		decryptor:   rlwe.NewDecryptor(params, keys.Secret),
		evaluator:   bgv.NewEvaluator(params, nil),
		store:       store,
		ciphertexts: make(map[domain.Handle]*rlwe.Ciphertext),
	}
}

// PlaintextModulus bounds every value the engine can represent.
func (e *Engine) PlaintextModulus() uint64 { return e.params.PlaintextModulus() }

// PublicKey returns the serialized encryption key so clients can encrypt locally.
func (e *Engine) PublicKey() ([]byte, error) {
	return e.pk.MarshalBinary()
}

// EncryptBytes encrypts plaintext and returns the serialized ciphertext
// without registering a handle. Clients holding the public key do the same.
func (e *Engine) EncryptBytes(plaintext uint64) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ct, err := e.encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return ct.MarshalBinary()
}

func (e *Engine) Encrypt(ctx context.Context, plaintext uint64) (domain.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ct, err := e.encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return e.put(ctx, ct)
}

func (e *Engine) Import(ctx context.Context, ciphertext []byte) (domain.Handle, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(ciphertext); err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if err := e.check(ct); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.put(ctx, ct)
}

func (e *Engine) Export(ctx context.Context, handle domain.Handle) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ct, err := e.lookup(ctx, handle)
	if err != nil {
		return nil, err
	}
	return ct.MarshalBinary()
}

func (e *Engine) Combine(ctx context.Context, op domain.Op, handles ...domain.Handle) (domain.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	operands := make([]*rlwe.Ciphertext, len(handles))
	for i, h := range handles {
		ct, err := e.lookup(ctx, h)
		if err != nil {
			return "", err
		}
		operands[i] = ct
	}

	var (
		out *rlwe.Ciphertext
		err error
	)
	switch op.Kind {
	case domain.OpMulScalar:
		if op.Scalar >= e.params.PlaintextModulus() {
			return "", fmt.Errorf("scalar %d exceeds modulus %d", op.Scalar, e.params.PlaintextModulus())
		}
		if len(operands) != 1 {
			return "", fmt.Errorf("%s takes one operand, got %d", op.Kind, len(operands))
		}
		out, err = e.evaluator.MulNew(operands[0], op.Scalar)
	case domain.OpAddScalar:
		if len(operands) != 1 {
			return "", fmt.Errorf("%s takes one operand, got %d", op.Kind, len(operands))
		}
		out, err = e.evaluator.AddNew(operands[0], op.Scalar)
	case domain.OpAdd:
		if len(operands) < 2 {
			return "", fmt.Errorf("%s takes at least two operands, got %d", op.Kind, len(operands))
		}
		out = operands[0].CopyNew()
		for _, ct := range operands[1:] {
			if err = e.evaluator.Add(out, ct, out); err != nil {
				break
			}
		}
	default:
		return "", fmt.Errorf("unsupported op %s", op.Kind)
	}
	if err != nil {
		return "", fmt.Errorf("evaluate %s: %w", op.Kind, err)
	}
	return e.put(ctx, out)
}

// Decrypt reveals the first slot of handle. Only the oracle calls this.
func (e *Engine) Decrypt(ctx context.Context, handle domain.Handle) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ct, err := e.lookup(ctx, handle)
	if err != nil {
		return 0, err
	}
	pt := e.decryptor.DecryptNew(ct)
	values := make([]uint64, e.params.MaxSlots())
	if err := e.encoder.Decode(pt, values); err != nil {
		return 0, fmt.Errorf("decode plaintext: %w", err)
	}
	return values[0], nil
}

func (e *Engine) encrypt(plaintext uint64) (*rlwe.Ciphertext, error) {
	if plaintext >= e.params.PlaintextModulus() {
		return nil, fmt.Errorf("plaintext %d exceeds modulus %d", plaintext, e.params.PlaintextModulus())
	}
	pt := bgv.NewPlaintext(e.params, e.params.MaxLevel())
	if err := e.encoder.Encode([]uint64{plaintext}, pt); err != nil {
		return nil, fmt.Errorf("encode plaintext: %w", err)
	}
	ct, err := e.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return ct, nil
}

// check rejects ciphertexts whose shape would make evaluation or decryption
// panic: wrong degree, a level above the parameters, or any polynomial row
// not of ring degree N.
func (e *Engine) check(ct *rlwe.Ciphertext) error {
	if ct.MetaData == nil || len(ct.Value) != 2 {
		return fmt.Errorf("ciphertext does not match engine parameters")
	}
	level := ct.Value[0].Level()
	if level < 0 || level > e.params.MaxLevel() {
		return fmt.Errorf("ciphertext level %d out of range", level)
	}
	for i, poly := range ct.Value {
		if poly.Level() != level {
			return fmt.Errorf("ciphertext polynomial %d has level %d, want %d", i, poly.Level(), level)
		}
		for _, row := range poly.Coeffs {
			if len(row) != e.params.N() {
				return fmt.Errorf("ciphertext polynomial %d has degree %d, want %d", i, len(row), e.params.N())
			}
		}
	}
	return nil
}

func (e *Engine) put(ctx context.Context, ct *rlwe.Ciphertext) (domain.Handle, error) {
	h := domain.Handle("ct_" + uuid.NewString())
	if e.store != nil {
		data, err := ct.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("marshal ciphertext: %w", err)
		}
		if err := e.store.PutCiphertext(ctx, h, data); err != nil {
			return "", fmt.Errorf("store ciphertext: %w", err)
		}
	}
	e.ciphertexts[h] = ct
	return h, nil
}

func (e *Engine) lookup(ctx context.Context, h domain.Handle) (*rlwe.Ciphertext, error) {
	if ct, ok := e.ciphertexts[h]; ok {
		return ct, nil
	}
	if e.store == nil {
		return nil, fmt.Errorf("unknown handle %s", h)
	}
	data, found, err := e.store.GetCiphertext(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("load ciphertext %s: %w", h, err)
	}
	if !found {
		return nil, fmt.Errorf("unknown handle %s", h)
	}
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode ciphertext %s: %w", h, err)
	}
	if err := e.check(ct); err != nil {
		return nil, fmt.Errorf("stored ciphertext %s: %w", h, err)
	}
	e.ciphertexts[h] = ct
	return ct, nil
}
