package store

import (
	"context"

	"supplychain-service/internal/models"
)

// RecordAudit stores an audit record and marks its event processed. It
// reports false when the event had already been recorded.
func (s *Store) RecordAudit(ctx context.Context, record *models.AuditRecord) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		record.EventID, record.EventType)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO ledger_audit (event_id, event_type, sequence, payload) VALUES ($1, $2, $3, $4)",
		record.EventID, record.EventType, record.Sequence, string(record.Payload))
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// ListAudit returns the most recent audit records, newest first
func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	var records []models.AuditRecord
	err := s.db.SelectContext(ctx, &records,
		"SELECT event_id, event_type, sequence, payload, recorded_at FROM ledger_audit ORDER BY sequence DESC, recorded_at DESC LIMIT $1", limit)
	return records, err
}
