package storage

import (
	"context"
	"errors"
	"time"
)

type LoginEventType string

const (
	LoginEventLogin        LoginEventType = "login"
	LoginEventRelogin      LoginEventType = "relogin"
	LoginEventLoginFailed  LoginEventType = "login_failed"
	LoginEventLogout       LoginEventType = "logout"
	LoginEventLogoutFailed LoginEventType = "logout_failed"
)

func (t LoginEventType) IsValid() bool {
	switch t {
	case LoginEventLogin, LoginEventRelogin, LoginEventLoginFailed, LoginEventLogout, LoginEventLogoutFailed:
		return true
	}
	return false
}

var ErrInvalidLoginEvent = errors.New("storage: invalid login event")

// LoginEvent is one audited session lifecycle transition. It never carries
// the session token or any credential secret.
type LoginEvent struct {
	ID          string
	Fingerprint string
	UserName    string
	URL         string
	Event       LoginEventType
	UserID      string
	Sandbox     bool
	OccurredAt  time.Time
	Error       string
}

func (e LoginEvent) Validate() error {
	if e.ID == "" || e.Fingerprint == "" || !e.Event.IsValid() {
		return ErrInvalidLoginEvent
	}
	return nil
}

type LoginEventStore interface {
	PutLoginEvent(ctx context.Context, event LoginEvent) error
	ListLoginEventsByFingerprint(ctx context.Context, fingerprint string) ([]LoginEvent, error)
}

type Store interface {
	LoginEventStore
	Close() error
}
