package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authority.dev/internal/access"
)

const tokenColumns = `id, grant_id, tenant_id, token_hash, status, expires_at, created_by, created_at, revoked_at`

type tokenStore struct {
	db *sql.DB
}

func (s tokenStore) Create(ctx context.Context, t *access.Token) error {
	_, err := s.db.ExecContext(ctx, `
		insert into authority_tokens (id, grant_id, tenant_id, token_hash, status, expires_at, created_by, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, t.ID, t.GrantID, t.TenantID, t.TokenHash, string(t.Status), t.ExpiresAt, nullStr(t.CreatedBy), t.CreatedAt)
	return mapError(err)
}

func (s tokenStore) Get(ctx context.Context, tenantID, id string) (*access.Token, error) {
	row := s.db.QueryRowContext(ctx, `select `+tokenColumns+` from authority_tokens where id=$1 and tenant_id=$2`, id, tenantID)
	return scanToken(row)
}

func (s tokenStore) GetByHash(ctx context.Context, hash string) (*access.Token, error) {
	row := s.db.QueryRowContext(ctx, `select `+tokenColumns+` from authority_tokens where token_hash=$1`, hash)
	return scanToken(row)
}

func (s tokenStore) List(ctx context.Context, tenantID, grantID string) ([]access.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+tokenColumns+`
		from authority_tokens
		where grant_id=$1 and tenant_id=$2
		order by created_at asc, id asc
	`, grantID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]access.Token, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s tokenStore) Revoke(ctx context.Context, tenantID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update authority_tokens
		set status='revoked', revoked_at=coalesce(revoked_at, $3)
		where id=$1 and tenant_id=$2
	`, id, tenantID, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}

func scanToken(row rowScanner) (*access.Token, error) {
	var (
		t         access.Token
		status    string
		createdBy sql.NullString
		revokedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.GrantID, &t.TenantID, &t.TokenHash, &status, &t.ExpiresAt, &createdBy, &t.CreatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = access.Status(status)
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.CreatedBy = strPtr(createdBy)
	t.RevokedAt = timePtr(revokedAt)
	return &t, nil
}

type scopeStore struct {
	db *sql.DB
}

func (s scopeStore) Add(ctx context.Context, sc *access.Scope) error {
	res, err := s.db.ExecContext(ctx, `
		insert into authority_scopes (id, grant_id, tenant_id, scope_type, scope_id, label, notes, created_at)
		select $1,$2,$3,$4,$5,$6,$7,$8
		where exists (select 1 from authority_grants where id=$2 and tenant_id=$3)
	`, sc.ID, sc.GrantID, sc.TenantID, sc.ScopeType, sc.ScopeID, sc.Label, nullIfEmpty(sc.Notes), sc.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (s scopeStore) List(ctx context.Context, tenantID, grantID string) ([]access.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, grant_id, tenant_id, scope_type, scope_id, label, coalesce(notes,''), created_at
		from authority_scopes
		where grant_id=$1 and tenant_id=$2
		order by created_at asc, id asc
	`, grantID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]access.Scope, 0)
	for rows.Next() {
		var sc access.Scope
		if err := rows.Scan(&sc.ID, &sc.GrantID, &sc.TenantID, &sc.ScopeType, &sc.ScopeID, &sc.Label, &sc.Notes, &sc.CreatedAt); err != nil {
			return nil, err
		}
		sc.CreatedAt = sc.CreatedAt.UTC()
		out = append(out, sc)
	}
	return out, rows.Err()
}
