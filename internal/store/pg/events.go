package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"authority.dev/internal/audit"
)

// Append implements audit.Store. access_events only accepts inserts; the
// table trigger rejects updates and deletes.
func (s *Store) Append(ctx context.Context, ev *audit.Event) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into access_events (id, tenant_id, grant_id, token_id, event_type, actor_id, occurred_at, metadata)
		values ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
	`, ev.ID, nullIfEmpty(ev.TenantID), nullIfEmpty(ev.GrantID), nullIfEmpty(ev.TokenID),
		string(ev.Type), nullStr(ev.ActorID), ev.OccurredAt, string(raw))
	return mapError(err)
}

// ListByGrant implements audit.Store: the latest limit events, oldest first.
func (s *Store) ListByGrant(ctx context.Context, tenantID, grantID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, grant_id, token_id, event_type, actor_id, occurred_at, metadata
		from (
			select id, tenant_id, grant_id, token_id, event_type, actor_id, occurred_at, metadata
			from access_events
			where tenant_id=$1 and grant_id=$2
			order by occurred_at desc, id desc
			limit $3
		) recent
		order by occurred_at asc, id asc
	`, tenantID, grantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Event, 0)
	for rows.Next() {
		var (
			ev                   audit.Event
			tenant, grant, token sql.NullString
			typ                  string
			actor                sql.NullString
			meta                 []byte
		)
		if err := rows.Scan(&ev.ID, &tenant, &grant, &token, &typ, &actor, &ev.OccurredAt, &meta); err != nil {
			return nil, err
		}
		ev.TenantID = tenant.String
		ev.GrantID = grant.String
		ev.TokenID = token.String
		ev.Type = audit.EventType(typ)
		ev.ActorID = strPtr(actor)
		ev.OccurredAt = ev.OccurredAt.UTC()
		ev.Metadata = map[string]string{}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
