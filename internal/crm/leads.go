package crm

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// LeadResolver maps a customer mobile number to a CRM lead id. Lookup is
// best-effort everywhere it is used: an empty id means no match and is never
// an error condition for callers.
type LeadResolver interface {
	FindByMobile(ctx context.Context, mobile string) (string, error)
}

// PostgresLeads resolves leads from a crm_leads table. Matching is loose on
// purpose: the last 10 digits of the number, ignoring formatting, so that
// numbers stored with or without country code still line up.
type PostgresLeads struct {
	db *sql.DB
}

func NewPostgresLeads(db *sql.DB) *PostgresLeads {
	return &PostgresLeads{db: db}
}

func (l *PostgresLeads) FindByMobile(ctx context.Context, mobile string) (string, error) {
	suffix := lastDigits(mobile, 10)
	if suffix == "" {
		return "", nil
	}

	const q = `
SELECT id
FROM crm_leads
WHERE regexp_replace(mobile_no, '[^0-9]', '', 'g') LIKE '%' || $1
LIMIT 1
`
	var id string
	if err := l.db.QueryRowContext(ctx, q, suffix).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func lastDigits(s string, n int) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > n {
		digits = digits[len(digits)-n:]
	}
	return digits
}
