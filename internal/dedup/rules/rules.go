// Package rules declares the uniqueness rules the duplicate scanner applies
// to each record kind, together with the merge policies that make a group
// auto-fixable.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"registrar/internal/dedup/models"
	"registrar/internal/domain"
)

// MergePolicy picks the canonical winner of a duplicate group. It must be
// deterministic: the same members in any order yield the same winner.
type MergePolicy func(members []*domain.Entity) uuid.UUID

// GroupFilter can veto a candidate group after grouping. Used by rules whose
// key collision alone is not enough evidence of duplication.
type GroupFilter func(members []*domain.Entity) bool

// Rule is one uniqueness constraint over a kind. Members sharing the
// normalized composite of KeyFields form a duplicate group. A rule without a
// Merge policy produces groups that need manual review.
type Rule struct {
	Kind      domain.Kind
	Name      string
	KeyFields []string
	Severity  models.Severity
	Merge     MergePolicy
	Filter    GroupFilter
}

// AutoFixable reports whether groups from this rule can be remediated
// without an administrator.
func (r Rule) AutoFixable() bool {
	return r.Merge != nil
}

// Key derives the rule's normalized composite key for an entity. ok is false
// when any key field is empty, which excludes the entity from grouping:
// absent values never collide with each other.
func (r Rule) Key(e *domain.Entity) (string, bool) {
	parts := make([]string, 0, len(r.KeyFields))
	for _, field := range r.KeyFields {
		value := e.Field(field)
		if value == "" {
			if id, ok := e.Refs[field]; ok && id != uuid.Nil {
				value = id.String()
			}
		}
		norm := Normalize(field, value)
		if norm == "" {
			return "", false
		}
		parts = append(parts, norm)
	}
	return strings.Join(parts, "\x1f"), true
}

// Default returns the built-in rule set covering every kind.
func Default() []Rule {
	return []Rule{
		{Kind: domain.KindAccount, Name: "email", KeyFields: []string{domain.FieldEmail}, Severity: models.SeverityCritical, Merge: KeepEarliest},
		// Which username survives is a judgement call; merging would silently
		// rename someone.
		{Kind: domain.KindAccount, Name: "username", KeyFields: []string{domain.FieldUsername}, Severity: models.SeverityCritical},
		// Households legitimately share a phone number.
		{Kind: domain.KindAccount, Name: "phone", KeyFields: []string{domain.FieldPhone}, Severity: models.SeverityInformational},

		{Kind: domain.KindOrganization, Name: "registration_code", KeyFields: []string{domain.FieldRegistrationCode}, Severity: models.SeverityCritical, Merge: KeepEarliest},
		// Same name in the same region can be two distinct institutions.
		{Kind: domain.KindOrganization, Name: "name_region", KeyFields: []string{domain.FieldName, domain.FieldRegion}, Severity: models.SeverityInformational},

		{Kind: domain.KindClass, Name: "name_level_org", KeyFields: []string{domain.FieldName, domain.FieldLevel, domain.RefOrganization}, Severity: models.SeverityCritical, Merge: KeepEarliest},

		{Kind: domain.KindStudent, Name: "email", KeyFields: []string{domain.FieldEmail}, Severity: models.SeverityCritical, Merge: KeepEarliest},
		// Two genuine students can collide when rooms assign numbers
		// independently; keep a human in the loop.
		{Kind: domain.KindStudent, Name: "roll_number", KeyFields: []string{domain.FieldRollNumber, domain.RefClass}, Severity: models.SeverityCritical},

		{Kind: domain.KindStaff, Name: "employee_id", KeyFields: []string{domain.FieldEmployeeID, domain.RefOrganization}, Severity: models.SeverityCritical, Merge: KeepEarliest},
		// One person on the payroll of several organizations is worth
		// surfacing but is a normal arrangement, not a defect.
		{Kind: domain.KindStaff, Name: "multi_org", KeyFields: []string{domain.RefAccount}, Severity: models.SeverityInformational, Filter: distinctOrganizations},
	}
}

// Validate rejects a malformed rule set. Run at startup; a bad rule set is a
// deployment error, not a runtime condition.
func Validate(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("rules: empty rule set")
	}
	covered := make(map[domain.Kind]bool)
	names := make(map[string]bool)
	for _, r := range rules {
		if !r.Kind.Valid() {
			return fmt.Errorf("rules: unknown kind %q in rule %q", r.Kind, r.Name)
		}
		if r.Name == "" {
			return fmt.Errorf("rules: unnamed rule for kind %q", r.Kind)
		}
		if len(r.KeyFields) == 0 {
			return fmt.Errorf("rules: rule %s/%s has no key fields", r.Kind, r.Name)
		}
		if r.Severity != models.SeverityCritical && r.Severity != models.SeverityInformational {
			return fmt.Errorf("rules: rule %s/%s has unknown severity %q", r.Kind, r.Name, r.Severity)
		}
		if r.Severity == models.SeverityInformational && r.Merge != nil {
			return fmt.Errorf("rules: informational rule %s/%s must not carry a merge policy", r.Kind, r.Name)
		}
		key := string(r.Kind) + "/" + r.Name
		if names[key] {
			return fmt.Errorf("rules: duplicate rule %s", key)
		}
		names[key] = true
		covered[r.Kind] = true
	}
	for _, kind := range domain.Kinds() {
		if !covered[kind] {
			return fmt.Errorf("rules: kind %q has no rules", kind)
		}
	}
	return nil
}

// ForKind filters the rule set down to one kind.
func ForKind(rules []Rule, kind domain.Kind) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Lookup finds a rule by kind and name.
func Lookup(rules []Rule, kind domain.Kind, name string) (Rule, bool) {
	for _, r := range rules {
		if r.Kind == kind && r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

// Classify returns a rule's severity and auto-fixability. Classification is
// a lookup, never inference.
func Classify(r Rule) (models.Severity, bool) {
	return r.Severity, r.AutoFixable()
}

// KeepEarliest is the default merge policy: the oldest record wins, ties
// broken by the most populated record, then by the lexicographically lowest
// id so the choice is total.
func KeepEarliest(members []*domain.Entity) uuid.UUID {
	sorted := make([]*domain.Entity, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if na, nb := a.NonEmptyFields(), b.NonEmptyFields(); na != nb {
			return na > nb
		}
		return a.ID.String() < b.ID.String()
	})
	return sorted[0].ID
}

// distinctOrganizations admits a staff group only when its members span at
// least two organizations.
func distinctOrganizations(members []*domain.Entity) bool {
	orgs := make(map[uuid.UUID]bool)
	for _, m := range members {
		if id, ok := m.Refs[domain.RefOrganization]; ok && id != uuid.Nil {
			orgs[id] = true
		}
	}
	return len(orgs) >= 2
}
