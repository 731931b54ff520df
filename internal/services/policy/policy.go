// Package policy is the role-based gate consulted before every state-changing
// operation. It holds no state: callers pass the current role snapshot and,
// for record-scoped actions, the record owner.
package policy

import (
	"fmt"

	"ecocert/internal/domain"
)

type Role int

const (
	RoleAnyone Role = iota
	RoleSystemOwner
	RoleAuthority
	RoleRecordOwner
)

func (r Role) String() string {
	switch r {
	case RoleAnyone:
		return "anyone"
	case RoleSystemOwner:
		return "system-owner"
	case RoleAuthority:
		return "authority"
	case RoleRecordOwner:
		return "record-owner"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

type Action string

const (
	ActionSubmit          Action = "submit"
	ActionVerify          Action = "verify"
	ActionRequestScore    Action = "request-score"
	ActionRotateAuthority Action = "rotate-authority"
)

// Table maps each action to the roles allowed to perform it.
type Table map[Action][]Role

// DefaultTable is the certification rule table.
var DefaultTable = Table{
	ActionSubmit:          {RoleAnyone},
	ActionVerify:          {RoleAuthority},
	ActionRequestScore:    {RoleRecordOwner, RoleAuthority},
	ActionRotateAuthority: {RoleSystemOwner},
}

// Subject carries what the predicates need to know about the target record.
// RecordOwner is empty for actions that are not record-scoped.
type Subject struct {
	RecordOwner domain.Principal
}

type Policy struct {
	table Table
}

func New(table Table) *Policy {
	if table == nil {
		table = DefaultTable
	}
	return &Policy{table: table}
}

func IsSystemOwner(caller domain.Principal, roles domain.Roles) bool {
	return caller != "" && caller == roles.SystemOwner
}

func IsAuthority(caller domain.Principal, roles domain.Roles) bool {
	return caller != "" && caller == roles.Authority
}

func IsRecordOwner(caller domain.Principal, subject Subject) bool {
	return caller != "" && caller == subject.RecordOwner
}

// HasRole evaluates a single role predicate.
func HasRole(role Role, caller domain.Principal, roles domain.Roles, subject Subject) bool {
	switch role {
	case RoleAnyone:
		return caller != ""
	case RoleSystemOwner:
		return IsSystemOwner(caller, roles)
	case RoleAuthority:
		return IsAuthority(caller, roles)
	case RoleRecordOwner:
		return IsRecordOwner(caller, subject)
	}
	return false
}

// Authorize returns nil when caller holds any role the table allows for
// action. Unknown actions are denied.
func (p *Policy) Authorize(action Action, caller domain.Principal, roles domain.Roles, subject Subject) error {
	for _, role := range p.table[action] {
		if HasRole(role, caller, roles, subject) {
			return nil
		}
	}
	return fmt.Errorf("%s by %q: %w", action, caller, domain.ErrNotAuthorized)
}
