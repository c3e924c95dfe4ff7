package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"registrar/internal/domain"
	dErrors "registrar/pkg/domain-errors"
)

// OperationFunc executes one guarded create operation against the entity
// store. The write guard wraps these; they are never called directly by
// transport code.
type OperationFunc func(ctx context.Context, payload map[string]any) (json.RawMessage, error)

// opSpec declares a create operation: target kind, identity fields read from
// the payload, and reference fields. The fingerprint projection and the
// executor both derive from the same declaration so they cannot drift.
type opSpec struct {
	kind   domain.Kind
	fields []string
	refs   []string
}

var opSpecs = map[string]opSpec{
	"create_account": {
		kind:   domain.KindAccount,
		fields: []string{domain.FieldEmail, domain.FieldUsername, domain.FieldPhone},
	},
	"create_organization": {
		kind:   domain.KindOrganization,
		fields: []string{domain.FieldName, domain.FieldRegion, domain.FieldRegistrationCode},
	},
	"create_class": {
		kind:   domain.KindClass,
		fields: []string{domain.FieldName, domain.FieldLevel},
		refs:   []string{domain.RefOrganization},
	},
	"create_student": {
		kind:   domain.KindStudent,
		fields: []string{domain.FieldEmail, domain.FieldRollNumber},
		refs:   []string{domain.RefClass, domain.RefGuardian},
	},
	"create_staff": {
		kind:   domain.KindStaff,
		fields: []string{domain.FieldEmail, domain.FieldEmployeeID},
		refs:   []string{domain.RefOrganization, domain.RefAccount},
	},
}

// FingerprintFields returns, per operation, the payload fields that identify
// a logical write. Used to register operations with the fingerprint engine.
func FingerprintFields() map[string][]string {
	out := make(map[string][]string, len(opSpecs))
	for name, spec := range opSpecs {
		fields := make([]string, 0, len(spec.fields)+len(spec.refs))
		fields = append(fields, spec.fields...)
		fields = append(fields, spec.refs...)
		out[name] = fields
	}
	return out
}

// Operations binds the guarded create operations to a store.
func Operations(store Store) map[string]OperationFunc {
	out := make(map[string]OperationFunc, len(opSpecs))
	for name, spec := range opSpecs {
		out[name] = createOp(store, spec)
	}
	return out
}

func createOp(store Store, spec opSpec) OperationFunc {
	return func(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
		e := &domain.Entity{
			ID:        uuid.New(),
			Kind:      spec.kind,
			CreatedAt: time.Now(),
			Fields:    make(map[string]string, len(spec.fields)),
			Refs:      make(map[string]uuid.UUID, len(spec.refs)),
		}
		for _, field := range spec.fields {
			v, err := identityValue(field, payload[field])
			if err != nil {
				return nil, err
			}
			if v != "" {
				e.Fields[field] = v
			}
		}
		for _, ref := range spec.refs {
			raw, ok := payload[ref].(string)
			if !ok || raw == "" {
				continue
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid %s: not a UUID", ref))
			}
			e.Refs[ref] = id
		}

		if err := store.Create(ctx, e); err != nil {
			return nil, fmt.Errorf("create %s: %w", spec.kind, err)
		}
		return json.Marshal(map[string]string{
			"id":   e.ID.String(),
			"kind": string(e.Kind),
		})
	}
}

// identityValue renders one identity field from the decoded payload. Handlers
// decode with UseNumber, so a numeric roll number arrives as json.Number and
// is kept in its JSON text form, the same form the fingerprint projection
// hashes. Structured values are rejected rather than dropped: silently
// storing less than what was fingerprinted would desynchronize replay
// detection from the written record.
func identityValue(field string, v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("%s must be a string", field))
	}
}
