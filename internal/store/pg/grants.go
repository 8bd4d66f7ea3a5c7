package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authority.dev/internal/access"
)

const grantColumns = `id, tenant_id, grant_type, title, coalesce(description,''), status, expires_at,
	max_views, views, require_passcode, coalesce(passcode_hash,''), created_by, created_at,
	revoked_at, revoked_by, coalesce(revoke_reason,'')`

type grantStore struct {
	db *sql.DB
}

func (s grantStore) Create(ctx context.Context, g *access.Grant) error {
	var maxViews sql.NullInt64
	if g.MaxViews != nil {
		maxViews = sql.NullInt64{Int64: int64(*g.MaxViews), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into authority_grants
			(id, tenant_id, grant_type, title, description, status, expires_at, max_views, views,
			 require_passcode, passcode_hash, created_by, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, g.ID, g.TenantID, string(g.Type), g.Title, nullIfEmpty(g.Description), string(g.Status), g.ExpiresAt,
		maxViews, g.Views, g.RequirePasscode, nullIfEmpty(g.PasscodeHash), nullStr(g.CreatedBy), g.CreatedAt)
	return mapError(err)
}

func (s grantStore) Get(ctx context.Context, tenantID, id string) (*access.Grant, error) {
	row := s.db.QueryRowContext(ctx, `select `+grantColumns+` from authority_grants where id=$1 and tenant_id=$2`, id, tenantID)
	return scanGrant(row)
}

func (s grantStore) GetByID(ctx context.Context, id string) (*access.Grant, error) {
	row := s.db.QueryRowContext(ctx, `select `+grantColumns+` from authority_grants where id=$1`, id)
	return scanGrant(row)
}

func (s grantStore) List(ctx context.Context, tenantID string) ([]access.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+grantColumns+`
		from authority_grants
		where tenant_id=$1
		order by created_at desc, id desc
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]access.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s grantStore) Revoke(ctx context.Context, tenantID, id string, actorID *string, reason string, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `select status from authority_grants where id=$1 and tenant_id=$2 for update`, id, tenantID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, access.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if status != string(access.StatusRevoked) {
		if _, err := tx.ExecContext(ctx, `
			update authority_grants
			set status='revoked', revoked_at=$2, revoked_by=$3, revoke_reason=$4
			where id=$1
		`, id, at, nullStr(actorID), nullIfEmpty(reason)); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, `
		update authority_tokens
		set status='revoked', revoked_at=$2
		where grant_id=$1 and status <> 'revoked'
	`, id, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s grantStore) IncrementViews(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update authority_grants
		set views = views + 1
		where id=$1 and status='active' and (max_views is null or views < max_views)
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `select 1 from authority_grants where id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, access.ErrNotFound
	}
	return false, err
}

func scanGrant(row rowScanner) (*access.Grant, error) {
	var (
		g         access.Grant
		typ       string
		status    string
		maxViews  sql.NullInt64
		createdBy sql.NullString
		revokedAt sql.NullTime
		revokedBy sql.NullString
	)
	err := row.Scan(&g.ID, &g.TenantID, &typ, &g.Title, &g.Description, &status, &g.ExpiresAt,
		&maxViews, &g.Views, &g.RequirePasscode, &g.PasscodeHash, &createdBy, &g.CreatedAt,
		&revokedAt, &revokedBy, &g.RevokeReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Type = access.GrantType(typ)
	g.Status = access.Status(status)
	g.ExpiresAt = g.ExpiresAt.UTC()
	g.CreatedAt = g.CreatedAt.UTC()
	if maxViews.Valid {
		v := int(maxViews.Int64)
		g.MaxViews = &v
	}
	g.CreatedBy = strPtr(createdBy)
	g.RevokedAt = timePtr(revokedAt)
	g.RevokedBy = strPtr(revokedBy)
	return &g, nil
}
