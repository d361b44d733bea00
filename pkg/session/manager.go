package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/porthorian/sessionguard/pkg/credentials"
	ocrypto "github.com/porthorian/sessionguard/pkg/crypto"
	oerrors "github.com/porthorian/sessionguard/pkg/errors"
	"github.com/porthorian/sessionguard/pkg/metrics"
	"github.com/porthorian/sessionguard/pkg/storage"
)

// auditTimeout bounds a single audit write.
const auditTimeout = 5 * time.Second

// Manager owns the current Session for one set of Credentials.
//
// Login, Logout and the login inside ResetSession run under one mutex, so at
// most one authentication round-trip is in flight per Manager. Audit events
// are written after the mutex is released. Readers load the current
// session through an atomic pointer and never block on a login in progress.
type Manager struct {
	creds   credentials.Credentials
	auth    Authenticator
	logger  logr.Logger
	metrics *metrics.Metrics

	audit       storage.LoginEventStore
	fingerprint string

	mu      sync.Mutex
	current atomic.Pointer[Session]
}

type Option func(*Manager)

func WithLogger(logger logr.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithAudit records login and logout events in store, keyed by the
// fingerprint of the manager's credentials.
func WithAudit(store storage.LoginEventStore, fingerprinter ocrypto.Fingerprinter) Option {
	return func(m *Manager) {
		if store == nil || fingerprinter == nil {
			return
		}
		m.audit = store
		m.fingerprint = fingerprinter.Fingerprint(m.creds.Fields()...)
	}
}

func NewManager(creds credentials.Credentials, auth Authenticator, opts ...Option) (*Manager, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, oerrors.ErrMissingAuthenticator
	}

	m := &Manager{
		creds:  creds,
		auth:   auth,
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger.GetSink() == nil {
		m.logger = logr.Discard()
	}
	m.logger = m.logger.WithValues("user", creds.UserName(), "url", creds.URL())
	return m, nil
}

func (m *Manager) Credentials() credentials.Credentials {
	return m.creds
}

// Current returns the installed session without logging in. It is nil before
// the first login and after Logout.
func (m *Manager) Current() *Session {
	return m.current.Load()
}

// GetSession returns the current session, logging in first if there is none.
func (m *Manager) GetSession(ctx context.Context) (*Session, error) {
	if s := m.current.Load(); s != nil {
		return s, nil
	}

	m.mu.Lock()
	if s := m.current.Load(); s != nil {
		m.mu.Unlock()
		return s, nil
	}
	s, entry, err := m.loginLocked(ctx)
	m.mu.Unlock()

	m.record(ctx, entry)
	return s, err
}

// Login authenticates unconditionally and installs the new session.
func (m *Manager) Login(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	s, entry, err := m.loginLocked(ctx)
	m.mu.Unlock()

	m.record(ctx, entry)
	return s, err
}

// ResetSession replaces observed with a fresh session. If the current session
// is no longer observed, another caller already refreshed it and the current
// session is returned without authenticating again.
func (m *Manager) ResetSession(ctx context.Context, observed *Session) (*Session, error) {
	m.mu.Lock()
	if current := m.current.Load(); current != observed && current != nil {
		m.mu.Unlock()
		m.logger.V(1).Info("session already refreshed by another caller")
		m.metrics.ObserveConverged()
		return current, nil
	}
	s, entry, err := m.loginLocked(ctx)
	m.mu.Unlock()

	m.record(ctx, entry)
	return s, err
}

// Logout deauthenticates the current session and clears it. Local state is
// cleared even when the remote call fails; the failure is still returned as a
// logout error. Logout holds the same lock as Login, so a concurrent login
// either completes before the session is read or installs its session after
// it is cleared.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	s := m.current.Load()
	if s == nil {
		m.mu.Unlock()
		return nil
	}
	err := m.auth.Deauthenticate(ctx, s)
	m.current.Store(nil)

	var entry *storage.LoginEvent
	if err != nil {
		entry = m.newEvent(storage.LoginEventLogoutFailed, s, err)
	} else {
		entry = m.newEvent(storage.LoginEventLogout, s, nil)
	}
	m.mu.Unlock()

	m.record(ctx, entry)
	if err != nil {
		m.logger.Error(err, "remote logout failed, local session cleared")
		return oerrors.Wrap(oerrors.CodeLogout, "session: logout failed", err)
	}
	m.logger.Info("logged out", "userID", s.UserID())
	return nil
}

// loginLocked authenticates and installs the new session. The returned audit
// event, if any, is written by the caller after m.mu is released.
func (m *Manager) loginLocked(ctx context.Context) (*Session, *storage.LoginEvent, error) {
	previous := m.current.Load()

	result, err := m.auth.Authenticate(ctx, m.creds)
	if err != nil {
		return nil, m.newEvent(storage.LoginEventLoginFailed, nil, err), m.loginFailed(err)
	}

	s, err := New(m.creds, result)
	if err != nil {
		return nil, m.newEvent(storage.LoginEventLoginFailed, nil, err), m.loginFailed(err)
	}

	m.current.Store(s)
	m.metrics.ObserveLogin("success")

	event := storage.LoginEventLogin
	if previous != nil {
		event = storage.LoginEventRelogin
	}
	m.logger.Info("logged in", "event", string(event), "userID", s.UserID(), "server", s.BaseServerURL(), "sandbox", s.IsSandbox())
	if s.IsPasswordExpired() {
		m.logger.Info("password expired, calls other than password reset will be rejected", "userID", s.UserID())
	}
	return s, m.newEvent(event, s, nil), nil
}

func (m *Manager) loginFailed(err error) error {
	m.metrics.ObserveLogin("failure")
	m.logger.Error(err, "login failed")
	return oerrors.Wrap(oerrors.CodeAuthentication, "session: login failed", err)
}

// newEvent returns nil when auditing is disabled.
func (m *Manager) newEvent(event storage.LoginEventType, s *Session, cause error) *storage.LoginEvent {
	if m.audit == nil {
		return nil
	}

	entry := &storage.LoginEvent{
		ID:          uuid.NewString(),
		Fingerprint: m.fingerprint,
		UserName:    m.creds.UserName(),
		URL:         m.creds.URL(),
		Event:       event,
		OccurredAt:  time.Now().UTC(),
	}
	if s != nil {
		entry.UserID = s.UserID()
		entry.Sandbox = s.IsSandbox()
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	return entry
}

// record writes an audit event. It must not be called with m.mu held. Audit
// failures are logged and never surface to the caller.
func (m *Manager) record(ctx context.Context, entry *storage.LoginEvent) {
	if entry == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	if err := m.audit.PutLoginEvent(ctx, *entry); err != nil {
		m.logger.Error(err, "failed to record login event", "event", string(entry.Event))
	}
}
