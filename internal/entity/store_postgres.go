package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"registrar/internal/domain"
	"registrar/pkg/platform/sentinel"
)

// tableSpec maps a kind onto its table, identity columns and reference
// columns. Adding a kind is a data change here plus a rule in the registry.
type tableSpec struct {
	table  string
	fields []string
	refs   []string
}

// inboundRef names a column in another table that references this kind.
type inboundRef struct {
	table  string
	column string
	kind   domain.Kind
}

var tableSpecs = map[domain.Kind]tableSpec{
	domain.KindAccount: {
		table:  "accounts",
		fields: []string{domain.FieldEmail, domain.FieldUsername, domain.FieldPhone},
	},
	domain.KindOrganization: {
		table:  "organizations",
		fields: []string{domain.FieldName, domain.FieldRegion, domain.FieldRegistrationCode},
	},
	domain.KindClass: {
		table:  "classes",
		fields: []string{domain.FieldName, domain.FieldLevel},
		refs:   []string{domain.RefOrganization},
	},
	domain.KindStudent: {
		table:  "students",
		fields: []string{domain.FieldEmail, domain.FieldRollNumber},
		refs:   []string{domain.RefClass, domain.RefGuardian},
	},
	domain.KindStaff: {
		table:  "staff",
		fields: []string{domain.FieldEmail, domain.FieldEmployeeID},
		refs:   []string{domain.RefOrganization, domain.RefAccount},
	},
}

// refTargets maps reference names to the kind they point at.
var refTargets = map[string]domain.Kind{
	domain.RefOrganization: domain.KindOrganization,
	domain.RefClass:        domain.KindClass,
	domain.RefGuardian:     domain.KindAccount,
	domain.RefAccount:      domain.KindAccount,
}

// inboundRefs lists, per kind, every column anywhere that references it.
// Derived once from tableSpecs so the two can never drift.
var inboundRefs = buildInboundRefs()

func buildInboundRefs() map[domain.Kind][]inboundRef {
	out := make(map[domain.Kind][]inboundRef)
	for kind, spec := range tableSpecs {
		for _, ref := range spec.refs {
			target := refTargets[ref]
			out[target] = append(out[target], inboundRef{table: spec.table, column: ref, kind: kind})
		}
	}
	return out
}

// PostgresStore persists entities in PostgreSQL. Snapshots use REPEATABLE
// READ read-only transactions so one scan sees one point in time; merges run
// in a single read-write transaction with row locks on the group members.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed entity store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Health reports database reachability for the readiness endpoint.
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Create(ctx context.Context, e *domain.Entity) error {
	spec, ok := tableSpecs[e.Kind]
	if !ok {
		return fmt.Errorf("unknown kind %q: %w", e.Kind, sentinel.ErrInvalidState)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	columns := []string{"id", "created_at"}
	args := []any{e.ID, e.CreatedAt}
	for _, field := range spec.fields {
		columns = append(columns, field)
		args = append(args, nullable(e.Field(field)))
	}
	for _, ref := range spec.refs {
		columns = append(columns, ref)
		args = append(args, nullableID(e.Refs[ref]))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.table, joinColumns(columns), placeholders(len(columns)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert %s: %w", spec.table, err)
	}
	if err := bumpVersion(ctx, tx, e.Kind); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Get(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Entity, error) {
	spec, ok := tableSpecs[kind]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", joinColumns(selectColumns(spec)), spec.table)

	row := s.db.QueryRowContext(ctx, query, id)
	e, err := scanEntity(kind, spec, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) ListByKind(ctx context.Context, kind domain.Kind) ([]*domain.Entity, int64, error) {
	spec, ok := tableSpecs[kind]
	if !ok {
		return nil, 0, sentinel.ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin list tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	version, err := readVersion(ctx, tx, kind)
	if err != nil {
		return nil, 0, err
	}
	list, err := listKind(ctx, tx, kind, spec)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit list tx: %w", err)
	}
	return list, version, nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	snap := &Snapshot{
		TakenAt:  time.Now(),
		Versions: make(map[domain.Kind]int64, len(tableSpecs)),
		Entities: make(map[domain.Kind][]*domain.Entity, len(tableSpecs)),
	}
	for _, kind := range domain.Kinds() {
		version, err := readVersion(ctx, tx, kind)
		if err != nil {
			return nil, err
		}
		list, err := listKind(ctx, tx, kind, tableSpecs[kind])
		if err != nil {
			return nil, err
		}
		snap.Versions[kind] = version
		snap.Entities[kind] = list
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return snap, nil
}

// Merge runs the whole plan in one transaction: lock the group rows, repoint
// every inbound reference to the winner, delete the absorbed rows, bump
// versions. Partial merges are impossible; any error rolls everything back.
func (s *PostgresStore) Merge(ctx context.Context, plan MergePlan) error {
	spec, ok := tableSpecs[plan.Kind]
	if !ok {
		return fmt.Errorf("unknown kind %q: %w", plan.Kind, sentinel.ErrInvalidState)
	}
	if plan.WinnerID == uuid.Nil || len(plan.AbsorbedIDs) == 0 {
		return fmt.Errorf("invalid merge plan: %w", sentinel.ErrInvalidState)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Lock winner and absorbed rows; a missing row means the group changed
	// under us.
	memberIDs := append([]uuid.UUID{plan.WinnerID}, plan.AbsorbedIDs...)
	lockQuery := fmt.Sprintf("SELECT id FROM %s WHERE id = ANY($1) FOR UPDATE", spec.table)
	rows, err := tx.QueryContext(ctx, lockQuery, pq.Array(idStrings(memberIDs)))
	if err != nil {
		return fmt.Errorf("lock group rows: %w", err)
	}
	locked := 0
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan locked row: %w", err)
		}
		locked++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock group rows: %w", err)
	}
	if locked != len(memberIDs) {
		return fmt.Errorf("group membership changed: %w", sentinel.ErrStale)
	}

	touched := map[domain.Kind]bool{plan.Kind: true}
	for _, ref := range inboundRefs[plan.Kind] {
		updateQuery := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s = ANY($2)", ref.table, ref.column, ref.column)
		res, err := tx.ExecContext(ctx, updateQuery, plan.WinnerID, pq.Array(idStrings(plan.AbsorbedIDs)))
		if err != nil {
			return fmt.Errorf("repoint %s.%s: %w", ref.table, ref.column, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			touched[ref.kind] = true
		}
	}

	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", spec.table)
	if _, err := tx.ExecContext(ctx, deleteQuery, pq.Array(idStrings(plan.AbsorbedIDs))); err != nil {
		return fmt.Errorf("delete absorbed rows: %w", err)
	}

	for kind := range touched {
		if err := bumpVersion(ctx, tx, kind); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}
	return nil
}

func listKind(ctx context.Context, tx *sql.Tx, kind domain.Kind, spec tableSpec) ([]*domain.Entity, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", joinColumns(selectColumns(spec)), spec.table)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", spec.table, err)
	}
	defer rows.Close()

	var list []*domain.Entity
	for rows.Next() {
		e, err := scanEntity(kind, spec, rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(kind domain.Kind, spec tableSpec, row rowScanner) (*domain.Entity, error) {
	e := &domain.Entity{
		Kind:   kind,
		Fields: make(map[string]string, len(spec.fields)),
		Refs:   make(map[string]uuid.UUID, len(spec.refs)),
	}
	dest := []any{&e.ID, &e.CreatedAt}
	fieldVals := make([]sql.NullString, len(spec.fields))
	refVals := make([]sql.NullString, len(spec.refs))
	for i := range spec.fields {
		dest = append(dest, &fieldVals[i])
	}
	for i := range spec.refs {
		dest = append(dest, &refVals[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	for i, field := range spec.fields {
		if fieldVals[i].Valid {
			e.Fields[field] = fieldVals[i].String
		}
	}
	for i, ref := range spec.refs {
		if refVals[i].Valid {
			id, err := uuid.Parse(refVals[i].String)
			if err != nil {
				return nil, fmt.Errorf("parse %s reference: %w", ref, err)
			}
			e.Refs[ref] = id
		}
	}
	return e, nil
}

func selectColumns(spec tableSpec) []string {
	columns := []string{"id", "created_at"}
	columns = append(columns, spec.fields...)
	columns = append(columns, spec.refs...)
	return columns
}

func readVersion(ctx context.Context, tx *sql.Tx, kind domain.Kind) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx,
		"SELECT version FROM collection_versions WHERE kind = $1", string(kind),
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s version: %w", kind, err)
	}
	return version, nil
}

func bumpVersion(ctx context.Context, tx *sql.Tx, kind domain.Kind) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO collection_versions (kind, version)
		VALUES ($1, 1)
		ON CONFLICT (kind) DO UPDATE SET version = collection_versions.version + 1
	`, string(kind))
	if err != nil {
		return fmt.Errorf("bump %s version: %w", kind, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func joinColumns(columns []string) string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func placeholders(n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ", "
		}
		out += fmt.Sprintf("$%d", i)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
