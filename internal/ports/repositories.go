package ports

import (
	"context"
	"time"

	"ecocert/internal/domain"
)

// RecordRepository stores certification records. Ids are allocated by the
// repository, start at 1 and are never reused.
type RecordRepository interface {
	// CreateRecord stores the record and grants both handles to every reader
	// atomically. On error neither the record nor any grant is kept.
	CreateRecord(ctx context.Context, owner domain.Principal, energy, efficiency domain.Handle, at time.Time, readers ...domain.Principal) (domain.Record, error)
	GetRecord(ctx context.Context, id domain.RecordID) (rec domain.Record, found bool, err error)
	// RecordCount is the highest id allocated so far.
	RecordCount(ctx context.Context) (uint64, error)
	MarkVerified(ctx context.Context, id domain.RecordID) error
}

// RoleRepository holds the system owner and the current authority.
type RoleRepository interface {
	Roles(ctx context.Context) (domain.Roles, error)
	SetAuthority(ctx context.Context, authority domain.Principal) error
}

// GrantRepository is the (handle, principal) capability relation.
type GrantRepository interface {
	Grant(ctx context.Context, handle domain.Handle, principal domain.Principal) error
	IsGranted(ctx context.Context, handle domain.Handle, principal domain.Principal) (bool, error)
}

// CiphertextStore keeps serialized ciphertexts so handles outlive the engine
// that created them.
type CiphertextStore interface {
	PutCiphertext(ctx context.Context, handle domain.Handle, data []byte) error
	GetCiphertext(ctx context.Context, handle domain.Handle) (data []byte, found bool, err error)
}

// RequestRepository is the pending-request table keyed by request id.
type RequestRepository interface {
	CreateRequest(ctx context.Context, req domain.DisclosureRequest) error
	GetRequest(ctx context.Context, id domain.RequestID) (req domain.DisclosureRequest, found bool, err error)
	FindPendingForRecord(ctx context.Context, recordID domain.RecordID) (req domain.DisclosureRequest, found bool, err error)
	// CommitScore resolves a pending request and writes value into its record
	// in one transaction. It fails with domain.ErrInvalidState when the request
	// is no longer pending.
	CommitScore(ctx context.Context, id domain.RequestID, value uint64, at time.Time) error
	RejectRequest(ctx context.Context, id domain.RequestID, reason string, at time.Time) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.DisclosureRequest, error)
}
