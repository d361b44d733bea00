package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/porthorian/sessionguard/pkg/credentials"
	oerrors "github.com/porthorian/sessionguard/pkg/errors"
)

// LoginResult is the raw outcome of a successful authentication call.
type LoginResult struct {
	SessionID         string
	ServerURL         string
	MetadataServerURL string
	UserID            string
	Sandbox           bool
	PasswordExpired   bool
}

type Authenticator interface {
	Authenticate(ctx context.Context, creds credentials.Credentials) (LoginResult, error)
	Deauthenticate(ctx context.Context, s *Session) error
}

// Session is an immutable snapshot of one successful login. Sessions are
// compared by pointer identity; a refreshed session is always a new value.
type Session struct {
	token                 string
	serverURL             string
	baseServerURL         string
	metadataServerURL     string
	baseMetadataServerURL string
	userID                string
	sandbox               bool
	passwordExpired       bool
	credentials           credentials.Credentials
	obtainedAt            time.Time
}

func New(creds credentials.Credentials, result LoginResult) (*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.SessionID) == "" {
		return nil, oerrors.InvalidArgument("session: login result has no session id")
	}

	base, err := baseURL(result.ServerURL)
	if err != nil {
		return nil, err
	}

	metadataBase := base
	if strings.TrimSpace(result.MetadataServerURL) != "" {
		metadataBase, err = baseURL(result.MetadataServerURL)
		if err != nil {
			return nil, err
		}
	}

	return &Session{
		token:                 result.SessionID,
		serverURL:             result.ServerURL,
		baseServerURL:         base,
		metadataServerURL:     result.MetadataServerURL,
		baseMetadataServerURL: metadataBase,
		userID:                result.UserID,
		sandbox:               result.Sandbox,
		passwordExpired:       result.PasswordExpired,
		credentials:           creds,
		obtainedAt:            time.Now().UTC(),
	}, nil
}

// baseURL keeps only scheme and host of raw.
func baseURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", oerrors.Wrap(oerrors.CodeInvalidArgument, fmt.Sprintf("session: invalid server url %q", raw), err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", oerrors.InvalidArgument(fmt.Sprintf("session: server url %q must be absolute", raw))
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

func (s *Session) Token() string                        { return s.token }
func (s *Session) ServerURL() string                    { return s.serverURL }
func (s *Session) BaseServerURL() string                { return s.baseServerURL }
func (s *Session) MetadataServerURL() string            { return s.metadataServerURL }
func (s *Session) BaseMetadataServerURL() string        { return s.baseMetadataServerURL }
func (s *Session) UserID() string                       { return s.userID }
func (s *Session) IsSandbox() bool                      { return s.sandbox }
func (s *Session) IsPasswordExpired() bool              { return s.passwordExpired }
func (s *Session) Credentials() credentials.Credentials { return s.credentials }
func (s *Session) ObtainedAt() time.Time                { return s.obtainedAt }

func (s *Session) String() string {
	if s == nil {
		return "Session{}"
	}
	return fmt.Sprintf("Session{user=%s, userID=%s, server=%s, sandbox=%t}", s.credentials.UserName(), s.userID, s.baseServerURL, s.sandbox)
}
