package ports

import (
	"context"

	"ecocert/internal/domain"
)

// EncryptedOps is the homomorphic engine. It never exposes plaintext.
type EncryptedOps interface {
	Encrypt(ctx context.Context, plaintext uint64) (domain.Handle, error)
	Import(ctx context.Context, ciphertext []byte) (domain.Handle, error)
	Export(ctx context.Context, handle domain.Handle) ([]byte, error)
	Combine(ctx context.Context, op domain.Op, handles ...domain.Handle) (domain.Handle, error)
}

// Decryptor is held only by the oracle side.
type Decryptor interface {
	Decrypt(ctx context.Context, handle domain.Handle) (uint64, error)
}

// DisclosureOracle accepts fire-and-forget decryption requests and later
// delivers the result through a DisclosureCallback.
type DisclosureOracle interface {
	SubmitDisclosureRequest(ctx context.Context, handles []domain.Handle, callback string) (domain.RequestID, error)
}

// DisclosureCallback is the entry point the oracle infrastructure invokes.
type DisclosureCallback interface {
	OnDisclosureResolved(ctx context.Context, id domain.RequestID, plaintext uint64, signatures [][]byte) error
}

// SignatureVerifier checks that a quorum of authenticators signed (id, plaintext).
type SignatureVerifier interface {
	VerifyThreshold(id domain.RequestID, plaintext uint64, signatures [][]byte) bool
}

type EventPublisher interface {
	Publish(ctx context.Context, e domain.Event)
}
