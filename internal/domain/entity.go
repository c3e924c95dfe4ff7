// Package domain holds the entity model shared by the write guard, the
// duplicate scanner and the remediation engine. The five record kinds are
// deliberately represented through one projection type: uniqueness scanning
// only needs identity fields and references, not the full CRUD shapes owned
// by the role-specific endpoints.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies one of the five audited record collections.
type Kind string

const (
	KindAccount      Kind = "account"
	KindOrganization Kind = "organization"
	KindClass        Kind = "class"
	KindStudent      Kind = "student"
	KindStaff        Kind = "staff"
)

// Kinds returns all audited kinds in stable order.
func Kinds() []Kind {
	return []Kind{KindAccount, KindOrganization, KindClass, KindStudent, KindStaff}
}

// Valid reports whether k names an audited collection.
func (k Kind) Valid() bool {
	switch k {
	case KindAccount, KindOrganization, KindClass, KindStudent, KindStaff:
		return true
	}
	return false
}

// Identity field names used by the uniqueness rules.
const (
	FieldEmail            = "email"
	FieldUsername         = "username"
	FieldPhone            = "phone"
	FieldName             = "name"
	FieldRegion           = "region"
	FieldLevel            = "level"
	FieldRegistrationCode = "registration_code"
	FieldOrganizationID   = "organization_id"
	FieldClassID          = "class_id"
	FieldRollNumber       = "roll_number"
	FieldEmployeeID       = "employee_id"
)

// Reference field names. References are mutable foreign keys held by an
// entity; the remediation engine repoints them when their target is absorbed
// into a merge winner.
const (
	RefOrganization = "organization_id"
	RefClass        = "class_id"
	RefGuardian     = "guardian_account_id"
	RefAccount      = "account_id"
)

// Entity is the scanning projection of a stored record: stable id, identity
// fields relevant to uniqueness, creation timestamp, and the foreign keys it
// holds toward other entities.
type Entity struct {
	ID        uuid.UUID
	Kind      Kind
	CreatedAt time.Time
	Fields    map[string]string
	Refs      map[string]uuid.UUID
}

// Field returns the named identity field, empty when absent.
func (e *Entity) Field(name string) string {
	if e.Fields == nil {
		return ""
	}
	return e.Fields[name]
}

// NonEmptyFields counts populated identity fields. Used by the merge policy
// tie-break (prefer the record carrying the most data).
func (e *Entity) NonEmptyFields() int {
	n := 0
	for _, v := range e.Fields {
		if v != "" {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so snapshots stay isolated from later writes.
func (e *Entity) Clone() *Entity {
	c := &Entity{
		ID:        e.ID,
		Kind:      e.Kind,
		CreatedAt: e.CreatedAt,
	}
	if e.Fields != nil {
		c.Fields = make(map[string]string, len(e.Fields))
		for k, v := range e.Fields {
			c.Fields[k] = v
		}
	}
	if e.Refs != nil {
		c.Refs = make(map[string]uuid.UUID, len(e.Refs))
		for k, v := range e.Refs {
			c.Refs[k] = v
		}
	}
	return c
}
