// Package registry manages ciphertext handles and the capability relation
// that decides who may use each handle. Grants are only ever added; there is
// no revocation and no handle collection.
package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ecocert/internal/domain"
	"ecocert/internal/ports"
)

type Service struct {
	grants ports.GrantRepository
	ops    ports.EncryptedOps
	system domain.Principal
	log    *zap.Logger
}

func New(grants ports.GrantRepository, ops ports.EncryptedOps, system domain.Principal, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{grants: grants, ops: ops, system: system, log: log}
}

// System is the principal the service itself acts as when using handles.
func (s *Service) System() domain.Principal { return s.system }

// Grant is idempotent.
func (s *Service) Grant(ctx context.Context, handle domain.Handle, principal domain.Principal) error {
	if handle == "" || principal == "" {
		return fmt.Errorf("grant requires handle and principal")
	}
	return s.grants.Grant(ctx, handle, principal)
}

func (s *Service) CanUse(ctx context.Context, handle domain.Handle, principal domain.Principal) (bool, error) {
	if handle == "" || principal == "" {
		return false, nil
	}
	return s.grants.IsGranted(ctx, handle, principal)
}

// Require fails with domain.ErrNotAuthorized unless principal may use every handle.
func (s *Service) Require(ctx context.Context, principal domain.Principal, handles ...domain.Handle) error {
	for _, h := range handles {
		ok, err := s.CanUse(ctx, h, principal)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("handle %s not granted to %q: %w", h, principal, domain.ErrNotAuthorized)
		}
	}
	return nil
}

// Import registers an externally encrypted value and grants it to caller.
func (s *Service) Import(ctx context.Context, caller domain.Principal, ciphertext []byte) (domain.Handle, error) {
	if caller == "" {
		return "", domain.ErrNotAuthorized
	}
	h, err := s.ops.Import(ctx, ciphertext)
	if err != nil {
		return "", fmt.Errorf("import ciphertext: %w", err)
	}
	return h, s.grants.Grant(ctx, h, caller)
}

// Encrypt creates a handle for plaintext owned by caller.
func (s *Service) Encrypt(ctx context.Context, caller domain.Principal, plaintext uint64) (domain.Handle, error) {
	if caller == "" {
		return "", domain.ErrNotAuthorized
	}
	h, err := s.ops.Encrypt(ctx, plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return h, s.grants.Grant(ctx, h, caller)
}

// Export returns the ciphertext behind handle; principal must hold a grant.
func (s *Service) Export(ctx context.Context, principal domain.Principal, handle domain.Handle) ([]byte, error) {
	if err := s.Require(ctx, principal, handle); err != nil {
		return nil, err
	}
	return s.ops.Export(ctx, handle)
}

// Combine evaluates op over handles on behalf of the system. The result is
// granted to the system and to beneficiary.
func (s *Service) Combine(ctx context.Context, op domain.Op, beneficiary domain.Principal, handles ...domain.Handle) (domain.Handle, error) {
	if len(handles) == 0 {
		return "", fmt.Errorf("combine %s: no operands", op.Kind)
	}
	if err := s.Require(ctx, s.system, handles...); err != nil {
		return "", err
	}
	out, err := s.ops.Combine(ctx, op, handles...)
	if err != nil {
		return "", fmt.Errorf("combine %s: %w", op.Kind, err)
	}
	if err := s.grants.Grant(ctx, out, s.system); err != nil {
		return "", err
	}
	if beneficiary != "" && beneficiary != s.system {
		if err := s.grants.Grant(ctx, out, beneficiary); err != nil {
			return "", err
		}
	}
	s.log.Debug("handle combined",
		zap.String("op", op.Kind.String()),
		zap.Int("operands", len(handles)),
		zap.String("result", string(out)),
	)
	return out, nil
}
