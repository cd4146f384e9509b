package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sagar-j-gurav/whatsapp-calling/pkg/utils"
)

// NOTE: This repository assumes a call_sessions table with a unique call_id
// column. The ON CONFLICT guard in CreateOrGet is what makes concurrent
// webhook retries safe.

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const sessionColumns = `
id, call_id, direction, status, customer_number, business_number,
sdp_offer, sdp_answer, gateway_session_id, gateway_handle_id, gateway_room_id,
recording_file, assigned_to, lead, started_at, ended_at,
duration_seconds, cost, created_at, updated_at
`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var offer, answer, recording, assigned, lead sql.NullString
	err := row.Scan(
		&s.ID,
		&s.CallID,
		&s.Direction,
		&s.Status,
		&s.CustomerNumber,
		&s.BusinessNumber,
		&offer,
		&answer,
		&s.GatewaySessionID,
		&s.GatewayHandleID,
		&s.GatewayRoomID,
		&recording,
		&assigned,
		&lead,
		&s.StartedAt,
		&s.EndedAt,
		&s.DurationSeconds,
		&s.Cost,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	s.SDPOffer = offer.String
	s.SDPAnswer = answer.String
	s.RecordingFile = recording.String
	s.AssignedTo = assigned.String
	s.Lead = lead.String
	return s, nil
}

// CreateOrGet inserts s unless a session with the same call_id already
// exists, and returns the stored row either way. The returned bool reports
// whether this invocation created the row, so callers can gate first-time
// side effects on it. Insert and read-back run in one transaction so a
// concurrent webhook retry observes a committed row, never a half-written
// one.
func (st *Store) CreateOrGet(ctx context.Context, s Session) (Session, bool, error) {
	const ins = `
INSERT INTO call_sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (call_id) DO NOTHING
`
	var stored Session
	var created bool

	err := utils.WithTx(ctx, st.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, ins,
			s.ID,
			s.CallID,
			s.Direction,
			s.Status,
			s.CustomerNumber,
			s.BusinessNumber,
			nullable(s.SDPOffer),
			nullable(s.SDPAnswer),
			s.GatewaySessionID,
			s.GatewayHandleID,
			s.GatewayRoomID,
			nullable(s.RecordingFile),
			nullable(s.AssignedTo),
			nullable(s.Lead),
			s.StartedAt,
			s.EndedAt,
			s.DurationSeconds,
			s.Cost,
			s.CreatedAt,
			s.UpdatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0

		stored, err = getByCallID(ctx, tx, s.CallID)
		return err
	})
	if err != nil {
		return Session{}, false, err
	}
	return stored, created, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getByCallID(ctx context.Context, q rowQuerier, callID string) (Session, error) {
	const query = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE call_id = $1
`
	s, err := scanSession(q.QueryRowContext(ctx, query, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func (st *Store) GetByCallID(ctx context.Context, callID string) (Session, error) {
	return getByCallID(ctx, st.db, callID)
}

// Update persists every mutable session field.
func (st *Store) Update(ctx context.Context, s Session) error {
	const q = `
UPDATE call_sessions
SET status = $2, sdp_offer = $3, sdp_answer = $4,
    gateway_session_id = $5, gateway_handle_id = $6, gateway_room_id = $7,
    recording_file = $8, assigned_to = $9, lead = $10,
    started_at = $11, ended_at = $12, duration_seconds = $13, cost = $14,
    updated_at = $15
WHERE call_id = $1
`
	res, err := st.db.ExecContext(ctx, q,
		s.CallID,
		s.Status,
		nullable(s.SDPOffer),
		nullable(s.SDPAnswer),
		s.GatewaySessionID,
		s.GatewayHandleID,
		s.GatewayRoomID,
		nullable(s.RecordingFile),
		nullable(s.AssignedTo),
		nullable(s.Lead),
		s.StartedAt,
		s.EndedAt,
		s.DurationSeconds,
		s.Cost,
		s.UpdatedAt,
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

// ListRecent returns the newest sessions, capped at limit.
func (st *Store) ListRecent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := st.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListStaleRooms returns ended sessions that still carry gateway linkage and
// ended before the cutoff. The sweeper destroys their rooms.
func (st *Store) ListStaleRooms(ctx context.Context, endedBefore time.Time) ([]Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE status = $1 AND gateway_room_id <> 0 AND ended_at IS NOT NULL AND ended_at < $2
`
	rows, err := st.db.QueryContext(ctx, q, StatusEnded, endedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClearGatewayLinkage zeroes the gateway ids once a room has been torn down.
func (st *Store) ClearGatewayLinkage(ctx context.Context, callID string, now time.Time) error {
	const q = `
UPDATE call_sessions
SET gateway_session_id = 0, gateway_handle_id = 0, gateway_room_id = 0, updated_at = $2
WHERE call_id = $1
`
	_, err := st.db.ExecContext(ctx, q, callID, now)
	return err
}

// ListExpiredRecordings returns sessions whose recording file is past the
// retention cutoff.
func (st *Store) ListExpiredRecordings(ctx context.Context, endedBefore time.Time) ([]Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE recording_file <> '' AND ended_at IS NOT NULL AND ended_at < $1
`
	rows, err := st.db.QueryContext(ctx, q, endedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClearRecording empties the recording reference after the file is deleted.
func (st *Store) ClearRecording(ctx context.Context, callID string, now time.Time) error {
	const q = `
UPDATE call_sessions
SET recording_file = '', updated_at = $2
WHERE call_id = $1
`
	_, err := st.db.ExecContext(ctx, q, callID, now)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
