package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	dErrors "registrar/pkg/domain-errors"
)

// Input is a write request as seen by the guard: who, what, and the payload
// the operation will act on.
type Input struct {
	ActorID   string
	Operation string
	Payload   map[string]any
}

// Engine computes deterministic fingerprints for write requests. Each
// operation declares up front which payload fields participate in the
// fingerprint; everything else (timestamps, nonces, client-side flags) is
// ignored, so two semantically identical requests hash identically even when
// their volatile fields differ.
type Engine struct {
	projections map[string][]string
}

func NewEngine() *Engine {
	return &Engine{projections: make(map[string][]string)}
}

// RegisterOperation declares the payload fields that identify a logical write
// for the named operation. Registering the same operation twice is a
// configuration error.
func (e *Engine) RegisterOperation(name string, fields ...string) error {
	if name == "" {
		return fmt.Errorf("operation name must not be empty")
	}
	if len(fields) == 0 {
		return fmt.Errorf("operation %q declares no fingerprint fields", name)
	}
	if _, exists := e.projections[name]; exists {
		return fmt.Errorf("operation %q registered twice", name)
	}
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)
	e.projections[name] = sorted
	return nil
}

// Operations returns the registered operation names.
func (e *Engine) Operations() []string {
	names := make([]string, 0, len(e.projections))
	for name := range e.projections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fingerprint hashes (actor, operation, projected payload) into a stable hex
// key. Unknown operations are rejected rather than hashed opaquely: an
// undeclared projection would silently fingerprint volatile fields.
func (e *Engine) Fingerprint(in Input) (string, error) {
	if in.ActorID == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "actor id is required")
	}
	fields, ok := e.projections[in.Operation]
	if !ok {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown operation: "+in.Operation)
	}

	var b strings.Builder
	b.WriteString(in.ActorID)
	b.WriteByte(0)
	b.WriteString(in.Operation)
	for _, field := range fields {
		b.WriteByte(0)
		b.WriteString(field)
		b.WriteByte('=')
		b.WriteString(canonicalValue(in.Payload[field]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalValue renders a payload value into a normalization-stable string.
// Strings are trimmed; numbers keep their JSON text (handlers decode with
// UseNumber); anything structured falls back to compact JSON.
func canonicalValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	}
}
