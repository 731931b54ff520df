package domain

import "time"

// Core domain models. Plaintext measurements never appear here: every
// confidential value is referenced through a Handle.

type Principal string

// Handle is an opaque reference to a ciphertext held by the encrypted value engine.
type Handle string

type RecordID uint64

type RequestID string

type Record struct {
	ID            RecordID
	Owner         Principal
	Energy        Handle
	Efficiency    Handle
	HasData       bool
	Verified      bool
	Scored        bool
	RevealedScore uint64
	CreatedAt     time.Time
}

// Grant allows Principal to use Handle as an operand or to request its disclosure.
type Grant struct {
	Handle    Handle
	Principal Principal
}

type DisclosureStatus string

const (
	StatusPending  DisclosureStatus = "pending"
	StatusResolved DisclosureStatus = "resolved"
	StatusRejected DisclosureStatus = "rejected"
)

// CallbackRevealScore is the only completion handler in the system: it writes
// the disclosed plaintext into the target record's revealed score.
const CallbackRevealScore = "reveal-score"

type DisclosureRequest struct {
	ID          RequestID
	RecordID    RecordID
	Handles     []Handle
	Callback    string
	Status      DisclosureStatus
	Value       uint64
	Reason      string
	RequestedBy Principal
	IssuedAt    time.Time
	Deadline    time.Time // zero means no deadline
	ResolvedAt  time.Time
}

// Expired reports whether a pending request has outlived its deadline at now.
func (r DisclosureRequest) Expired(now time.Time) bool {
	return r.Status == StatusPending && !r.Deadline.IsZero() && now.After(r.Deadline)
}

// Roles is the snapshot of privileged principals.
type Roles struct {
	SystemOwner Principal
	Authority   Principal
}

type OpKind int

const (
	OpAdd OpKind = iota
	OpAddScalar
	OpMulScalar
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpAddScalar:
		return "add_scalar"
	case OpMulScalar:
		return "mul_scalar"
	default:
		return "unknown"
	}
}

// Op describes a homomorphic operation. Scalar is ignored by OpAdd.
type Op struct {
	Kind   OpKind
	Scalar uint64
}

// OracleJob is a decryption job queued for the local oracle.
type OracleJob struct {
	ID        string
	RequestID RequestID
	Handles   []Handle
	Callback  string
}
