package pg

import (
	"context"
	"database/sql"

	"cajards.org/internal/audit"
)

// AuditStore persists the audit trail in PostgreSQL.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

func NewAuditStore(db *sql.DB) *AuditStore { return &AuditStore{db: db} }

func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs(id, actor_id, action, entity_type, entity_id, old_data, new_data, origin, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, nullableJSON(e.OldData), nullableJSON(e.NewData), e.Origin, e.CreatedAt)
	return err
}

func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]audit.Entry, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
		select id, actor_id, action, entity_type, entity_id, old_data, new_data, origin, created_at
		from audit_logs
		order by created_at desc, id desc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			oldData []byte
			newData []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID,
			&oldData, &newData, &e.Origin, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OldData = oldData
		e.NewData = newData
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
