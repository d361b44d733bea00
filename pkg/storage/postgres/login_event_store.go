package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/porthorian/sessionguard/pkg/storage"
)

const (
	putLoginEventQuery = `
INSERT INTO sessionguard.login_event (
  id, fingerprint, user_name, login_url, event, user_id, sandbox, occurred_at, error_message
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

	listLoginEventsByFingerprintQuery = `
SELECT
  id::text, fingerprint, user_name, login_url, event, user_id, sandbox, occurred_at, error_message
FROM sessionguard.login_event
WHERE fingerprint = $1
ORDER BY occurred_at ASC, id ASC
`
)

func (a *Adapter) PutLoginEvent(ctx context.Context, event storage.LoginEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	_, err := a.stmts.putLoginEvent.ExecContext(
		ctx,
		event.ID,
		event.Fingerprint,
		event.UserName,
		event.URL,
		string(event.Event),
		nullString(event.UserID),
		event.Sandbox,
		occurredAt.UTC(),
		nullString(event.Error),
	)
	return err
}

func (a *Adapter) ListLoginEventsByFingerprint(ctx context.Context, fingerprint string) ([]storage.LoginEvent, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}

	rows, err := a.stmts.listLoginEventsByFingerprint.QueryContext(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []storage.LoginEvent{}
	for rows.Next() {
		event, err := scanLoginEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func scanLoginEvent(s scanner) (storage.LoginEvent, error) {
	var (
		event        storage.LoginEvent
		kind         string
		userID       sql.NullString
		occurredAt   time.Time
		errorMessage sql.NullString
	)

	if err := s.Scan(
		&event.ID,
		&event.Fingerprint,
		&event.UserName,
		&event.URL,
		&kind,
		&userID,
		&event.Sandbox,
		&occurredAt,
		&errorMessage,
	); err != nil {
		return storage.LoginEvent{}, err
	}

	event.Event = storage.LoginEventType(kind)
	event.UserID = userID.String
	event.OccurredAt = occurredAt.UTC()
	event.Error = errorMessage.String
	return event, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
