package permission

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes a call_permissions table with a uniqueness
// constraint on (customer_number, business_number).

var ErrNotFound = errors.New("permission not found")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const permissionColumns = `
id, customer_number, business_number, status, lead, granted_at, expires_at,
calls_in_24h, last_call_at, requests_in_24h, requests_in_7d, request_sent_at,
created_at, updated_at
`

func scanPermission(row interface{ Scan(...any) error }) (Permission, error) {
	var p Permission
	var lead sql.NullString
	err := row.Scan(
		&p.ID,
		&p.CustomerNumber,
		&p.BusinessNumber,
		&p.Status,
		&lead,
		&p.GrantedAt,
		&p.ExpiresAt,
		&p.CallsIn24h,
		&p.LastCallAt,
		&p.RequestsIn24h,
		&p.RequestsIn7d,
		&p.RequestSentAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Permission{}, err
	}
	p.Lead = lead.String
	return p, nil
}

// FindByPair returns the permission record for a customer/business pair.
func (s *Store) FindByPair(ctx context.Context, customerNumber, businessNumber string) (Permission, bool, error) {
	const q = `
SELECT ` + permissionColumns + `
FROM call_permissions
WHERE customer_number = $1 AND business_number = $2
`
	p, err := scanPermission(s.db.QueryRowContext(ctx, q, customerNumber, businessNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Permission{}, false, nil
		}
		return Permission{}, false, err
	}
	return p, true, nil
}

// Insert creates a new permission record.
func (s *Store) Insert(ctx context.Context, p Permission) error {
	const q = `
INSERT INTO call_permissions (` + permissionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`
	_, err := s.db.ExecContext(ctx, q,
		p.ID,
		p.CustomerNumber,
		p.BusinessNumber,
		p.Status,
		nullable(p.Lead),
		p.GrantedAt,
		p.ExpiresAt,
		p.CallsIn24h,
		p.LastCallAt,
		p.RequestsIn24h,
		p.RequestsIn7d,
		p.RequestSentAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

// Update persists the mutable permission fields.
func (s *Store) Update(ctx context.Context, p Permission) error {
	const q = `
UPDATE call_permissions
SET status = $2, lead = $3, granted_at = $4, expires_at = $5,
    calls_in_24h = $6, last_call_at = $7,
    requests_in_24h = $8, requests_in_7d = $9, request_sent_at = $10,
    updated_at = $11
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q,
		p.ID,
		p.Status,
		nullable(p.Lead),
		p.GrantedAt,
		p.ExpiresAt,
		p.CallsIn24h,
		p.LastCallAt,
		p.RequestsIn24h,
		p.RequestsIn7d,
		p.RequestSentAt,
		p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordCall atomically bumps the rolling call counter and its timestamp.
// When the 24h window has elapsed since the last call, the counter restarts
// at 1 instead of accumulating onto a stale value.
func (s *Store) RecordCall(ctx context.Context, customerNumber, businessNumber string, now time.Time) error {
	const q = `
UPDATE call_permissions
SET calls_in_24h = CASE
      WHEN last_call_at IS NULL OR last_call_at < $3 THEN 1
      ELSE calls_in_24h + 1
    END,
    last_call_at = $4,
    updated_at = $4
WHERE customer_number = $1 AND business_number = $2
`
	res, err := s.db.ExecContext(ctx, q, customerNumber, businessNumber, now.Add(-callWindow), now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireGranted transitions granted records past their expiry to Expired.
// Returns the number of records transitioned.
func (s *Store) ExpireGranted(ctx context.Context, now time.Time) (int, error) {
	const q = `
UPDATE call_permissions
SET status = $1, updated_at = $2
WHERE status = $3 AND expires_at IS NOT NULL AND expires_at < $2
`
	res, err := s.db.ExecContext(ctx, q, StatusExpired, now, StatusGranted)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ResetDailyCounters zeroes call counters whose 24h window has elapsed.
func (s *Store) ResetDailyCounters(ctx context.Context, now time.Time) (int, error) {
	const q = `
UPDATE call_permissions
SET calls_in_24h = 0, updated_at = $1
WHERE calls_in_24h > 0 AND last_call_at IS NOT NULL AND last_call_at < $2
`
	res, err := s.db.ExecContext(ctx, q, now, now.Add(-callWindow))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
