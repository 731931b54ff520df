package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ecocert/internal/domain"
)

// RoleRepository

// EnsureRoles seeds the role row on first start. Existing roles win, so a
// rotated authority survives restarts.
func (db *DB) EnsureRoles(ctx context.Context, roles domain.Roles) error {
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO roles (id, system_owner, authority) VALUES (1, $1, $2)
        ON CONFLICT (id) DO NOTHING
    `, string(roles.SystemOwner), string(roles.Authority))
	return err
}

func (db *DB) Roles(ctx context.Context) (domain.Roles, error) {
	var owner, authority string
	err := db.Pool.QueryRow(ctx, `SELECT system_owner, authority FROM roles WHERE id = 1`).Scan(&owner, &authority)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Roles{}, nil
	}
	if err != nil {
		return domain.Roles{}, err
	}
	return domain.Roles{SystemOwner: domain.Principal(owner), Authority: domain.Principal(authority)}, nil
}

func (db *DB) SetAuthority(ctx context.Context, authority domain.Principal) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE roles SET authority = $1 WHERE id = 1`, string(authority))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("roles not seeded: %w", domain.ErrInvalidState)
	}
	return nil
}

// RecordRepository

const recordColumns = `id, owner, energy, efficiency, verified, scored, revealed_score, created_at`

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		rec                       domain.Record
		id, score                 int64
		owner, energy, efficiency string
	)
	if err := row.Scan(&id, &owner, &energy, &efficiency, &rec.Verified, &rec.Scored, &score, &rec.CreatedAt); err != nil {
		return rec, err
	}
	rec.ID = domain.RecordID(id)
	rec.Owner = domain.Principal(owner)
	rec.Energy = domain.Handle(energy)
	rec.Efficiency = domain.Handle(efficiency)
	rec.RevealedScore = uint64(score)
	rec.HasData = true
	return rec, nil
}

// CreateRecord inserts the record and its reader grants in one transaction.
func (db *DB) CreateRecord(ctx context.Context, owner domain.Principal, energy, efficiency domain.Handle, at time.Time, readers ...domain.Principal) (rec domain.Record, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return rec, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	rec, err = scanRecord(tx.QueryRow(ctx, `
        INSERT INTO records (owner, energy, efficiency, created_at)
        VALUES ($1, $2, $3, $4)
        RETURNING `+recordColumns,
		string(owner), string(energy), string(efficiency), at))
	if err != nil {
		return rec, err
	}
	for _, p := range readers {
		if p == "" {
			return rec, fmt.Errorf("empty reader: %w", domain.ErrInvalidState)
		}
		for _, h := range []domain.Handle{energy, efficiency} {
			if err = grant(ctx, tx, h, p); err != nil {
				return rec, err
			}
		}
	}
	return rec, nil
}

func (db *DB) GetRecord(ctx context.Context, id domain.RecordID) (domain.Record, bool, error) {
	rec, err := scanRecord(db.Pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	return rec, true, nil
}

// RecordCount is the highest allocated id. Rolled-back inserts leave gaps in
// the sequence, so a row count would undercount.
func (db *DB) RecordCount(ctx context.Context) (uint64, error) {
	var n int64
	err := db.Pool.QueryRow(ctx, `SELECT COALESCE(max(id), 0) FROM records`).Scan(&n)
	return uint64(n), err
}

func (db *DB) MarkVerified(ctx context.Context, id domain.RecordID) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE records SET verified = TRUE WHERE id = $1`, int64(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GrantRepository

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func grant(ctx context.Context, q execer, handle domain.Handle, principal domain.Principal) error {
	_, err := q.Exec(ctx, `
        INSERT INTO handle_grants (handle, principal) VALUES ($1, $2)
        ON CONFLICT (handle, principal) DO NOTHING
    `, string(handle), string(principal))
	return err
}

func (db *DB) Grant(ctx context.Context, handle domain.Handle, principal domain.Principal) error {
	return grant(ctx, db.Pool, handle, principal)
}

func (db *DB) IsGranted(ctx context.Context, handle domain.Handle, principal domain.Principal) (bool, error) {
	var ok bool
	err := db.Pool.QueryRow(ctx, `
        SELECT EXISTS (SELECT 1 FROM handle_grants WHERE handle = $1 AND principal = $2)
    `, string(handle), string(principal)).Scan(&ok)
	return ok, err
}

// CiphertextStore

func (db *DB) PutCiphertext(ctx context.Context, handle domain.Handle, data []byte) error {
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO ciphertexts (handle, data) VALUES ($1, $2)
        ON CONFLICT (handle) DO NOTHING
    `, string(handle), data)
	return err
}

func (db *DB) GetCiphertext(ctx context.Context, handle domain.Handle) ([]byte, bool, error) {
	var data []byte
	err := db.Pool.QueryRow(ctx, `SELECT data FROM ciphertexts WHERE handle = $1`, string(handle)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// RequestRepository

const requestColumns = `id, record_id, handles, callback, status, value, reason, requested_by, issued_at, deadline, resolved_at`

func scanRequest(row pgx.Row) (domain.DisclosureRequest, error) {
	var (
		req                  domain.DisclosureRequest
		id, callback, status string
		reason, requestedBy  string
		recordID, value      int64
		handles              []string
		deadline, resolvedAt *time.Time
	)
	if err := row.Scan(&id, &recordID, &handles, &callback, &status, &value, &reason, &requestedBy, &req.IssuedAt, &deadline, &resolvedAt); err != nil {
		return req, err
	}
	req.ID = domain.RequestID(id)
	req.RecordID = domain.RecordID(recordID)
	req.Handles = toHandles(handles)
	req.Callback = callback
	req.Status = domain.DisclosureStatus(status)
	req.Value = uint64(value)
	req.Reason = reason
	req.RequestedBy = domain.Principal(requestedBy)
	if deadline != nil {
		req.Deadline = *deadline
	}
	if resolvedAt != nil {
		req.ResolvedAt = *resolvedAt
	}
	return req, nil
}

func (db *DB) CreateRequest(ctx context.Context, req domain.DisclosureRequest) error {
	var deadline *time.Time
	if !req.Deadline.IsZero() {
		deadline = &req.Deadline
	}
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO disclosure_requests (id, record_id, handles, callback, status, requested_by, issued_at, deadline)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, string(req.ID), int64(req.RecordID), fromHandles(req.Handles), req.Callback, string(req.Status), string(req.RequestedBy), req.IssuedAt, deadline)
	return err
}

func (db *DB) GetRequest(ctx context.Context, id domain.RequestID) (domain.DisclosureRequest, bool, error) {
	req, err := scanRequest(db.Pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM disclosure_requests WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return req, false, nil
	}
	if err != nil {
		return req, false, err
	}
	return req, true, nil
}

func (db *DB) FindPendingForRecord(ctx context.Context, recordID domain.RecordID) (domain.DisclosureRequest, bool, error) {
	req, err := scanRequest(db.Pool.QueryRow(ctx, `
        SELECT `+requestColumns+` FROM disclosure_requests
        WHERE record_id = $1 AND status = 'pending'
        ORDER BY issued_at DESC
        LIMIT 1
    `, int64(recordID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return req, false, nil
	}
	if err != nil {
		return req, false, err
	}
	return req, true, nil
}

// CommitScore resolves the request and writes the score to its record in one
// transaction. The request row is locked so concurrent callbacks for the same
// id serialize and only the first succeeds.
func (db *DB) CommitScore(ctx context.Context, id domain.RequestID, value uint64, at time.Time) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	var (
		recordID int64
		status   string
	)
	err = tx.QueryRow(ctx, `SELECT record_id, status FROM disclosure_requests WHERE id = $1 FOR UPDATE`, string(id)).Scan(&recordID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrUnknownRequest
	}
	if err != nil {
		return err
	}
	if status != string(domain.StatusPending) {
		return fmt.Errorf("request %s is %s: %w", id, status, domain.ErrInvalidState)
	}
	if _, err = tx.Exec(ctx, `
        UPDATE disclosure_requests SET status = 'resolved', value = $2, resolved_at = $3 WHERE id = $1
    `, string(id), int64(value), at); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE records SET revealed_score = $2, scored = TRUE WHERE id = $1`, recordID, int64(value))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) RejectRequest(ctx context.Context, id domain.RequestID, reason string, at time.Time) error {
	tag, err := db.Pool.Exec(ctx, `
        UPDATE disclosure_requests SET status = 'rejected', reason = $2, resolved_at = $3
        WHERE id = $1 AND status = 'pending'
    `, string(id), reason, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, found, err := db.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrUnknownRequest
	}
	return fmt.Errorf("request %s is not pending: %w", id, domain.ErrInvalidState)
}

func (db *DB) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.DisclosureRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
        SELECT `+requestColumns+` FROM disclosure_requests
        WHERE status = 'pending' AND deadline IS NOT NULL AND deadline < $1
        ORDER BY deadline
        LIMIT $2
    `, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DisclosureRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func toHandles(in []string) []domain.Handle {
	out := make([]domain.Handle, len(in))
	for i, h := range in {
		out[i] = domain.Handle(h)
	}
	return out
}

func fromHandles(in []domain.Handle) []string {
	out := make([]string, len(in))
	for i, h := range in {
		out[i] = string(h)
	}
	return out
}
