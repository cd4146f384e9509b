package numbers

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// NOTE: This repository assumes a business_numbers table with a unique
// phone_number column.

var ErrNotFound = errors.New("business number not found")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const numberColumns = `
id, phone_number, country_code, phone_number_id, access_token, status,
last_used_at, current_month_usage, created_at, updated_at
`

func scanNumber(row interface{ Scan(...any) error }) (Number, error) {
	var n Number
	var token sql.NullString
	err := row.Scan(
		&n.ID,
		&n.PhoneNumber,
		&n.CountryCode,
		&n.PhoneNumberID,
		&token,
		&n.Status,
		&n.LastUsedAt,
		&n.CurrentMonthUsage,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return Number{}, err
	}
	n.AccessToken = token.String
	return n, nil
}

// FindByPhoneNumber looks up a number by E.164 string, retrying with the
// leading "+" toggled: webhook payloads sometimes deliver the dialed number
// without it.
func (s *Store) FindByPhoneNumber(ctx context.Context, phone string) (Number, bool, error) {
	n, ok, err := s.findExact(ctx, phone)
	if err != nil || ok {
		return n, ok, err
	}

	alt := "+" + phone
	if strings.HasPrefix(phone, "+") {
		alt = strings.TrimPrefix(phone, "+")
	}
	return s.findExact(ctx, alt)
}

func (s *Store) findExact(ctx context.Context, phone string) (Number, bool, error) {
	const q = `
SELECT ` + numberColumns + `
FROM business_numbers
WHERE phone_number = $1
`
	n, err := scanNumber(s.db.QueryRowContext(ctx, q, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Number{}, false, nil
		}
		return Number{}, false, err
	}
	return n, true, nil
}

// FindActive returns the first active business number.
func (s *Store) FindActive(ctx context.Context) (Number, bool, error) {
	const q = `
SELECT ` + numberColumns + `
FROM business_numbers
WHERE status = $1
ORDER BY created_at
LIMIT 1
`
	n, err := scanNumber(s.db.QueryRowContext(ctx, q, StatusActive))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Number{}, false, nil
		}
		return Number{}, false, err
	}
	return n, true, nil
}

// RecordUsage refreshes last_used_at and accumulates cost onto the monthly
// usage figure.
func (s *Store) RecordUsage(ctx context.Context, id string, cost float64, now time.Time) error {
	const q = `
UPDATE business_numbers
SET last_used_at = $2, current_month_usage = current_month_usage + $3, updated_at = $2
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, id, now, cost)
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

// ResetMonthlyUsage zeroes every number's monthly accumulator. Run by the
// sweeper on the first of the month.
func (s *Store) ResetMonthlyUsage(ctx context.Context, now time.Time) (int, error) {
	const q = `
UPDATE business_numbers
SET current_month_usage = 0, updated_at = $1
WHERE current_month_usage <> 0
`
	res, err := s.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
