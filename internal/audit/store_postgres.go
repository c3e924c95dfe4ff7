package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"registrar/internal/domain"
)

// PostgresStore persists the merge trail in the merge_audit table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO merge_audit (id, kind, rule, key_value, winner_id, absorbed_ids, merged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	absorbed := make([]string, len(entry.AbsorbedIDs))
	for i, id := range entry.AbsorbedIDs {
		absorbed[i] = id.String()
	}
	if _, err := s.db.ExecContext(ctx, query,
		entry.ID, string(entry.Kind), entry.Rule, entry.KeyValue,
		entry.WinnerID, pq.Array(absorbed), entry.MergedAt,
	); err != nil {
		return fmt.Errorf("append merge audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	query := `
		SELECT id, kind, rule, key_value, winner_id, absorbed_ids, merged_at
		FROM merge_audit
		ORDER BY merged_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list merge audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			kind     string
			absorbed pq.StringArray
		)
		if err := rows.Scan(&entry.ID, &kind, &entry.Rule, &entry.KeyValue,
			&entry.WinnerID, &absorbed, &entry.MergedAt); err != nil {
			return nil, fmt.Errorf("scan merge audit entry: %w", err)
		}
		entry.Kind = domain.Kind(kind)
		entry.AbsorbedIDs = make([]uuid.UUID, 0, len(absorbed))
		for _, raw := range absorbed {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("parse absorbed id %q: %w", raw, err)
			}
			entry.AbsorbedIDs = append(entry.AbsorbedIDs, id)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
