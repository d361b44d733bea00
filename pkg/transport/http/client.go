// Package httptransport speaks a small JSON-over-HTTP dialect: credentials are
// exchanged for a session at <login url>login, and operations are POSTed to
// <binding url>/<operation> carrying the session token.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/porthorian/sessionguard/pkg/credentials"
	"github.com/porthorian/sessionguard/pkg/endpoint"
	oerrors "github.com/porthorian/sessionguard/pkg/errors"
	"github.com/porthorian/sessionguard/pkg/session"
	"github.com/porthorian/sessionguard/pkg/target"
)

const (
	DefaultTimeout = 30 * time.Second

	loginPath  = "login"
	logoutPath = "logout"

	maxBodyBytes = 4 << 20
)

// APIError is a non-2xx response. Code holds the server's fault code when the
// body carried one; otherwise Message is the HTTP status line.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

type loginRequest struct {
	UserName   string `json:"username"`
	Password   string `json:"password"`
	APIVersion string `json:"apiVersion"`
}

type loginResponse struct {
	SessionID         string `json:"sessionId"`
	ServerURL         string `json:"serverUrl"`
	MetadataServerURL string `json:"metadataServerUrl"`
	UserID            string `json:"userId"`
	Sandbox           bool   `json:"sandbox"`
	PasswordExpired   bool   `json:"passwordExpired"`
}

func defaultClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// Authenticator logs in and out over HTTP.
type Authenticator struct {
	client *http.Client
}

var _ session.Authenticator = (*Authenticator)(nil)

// NewAuthenticator uses client for every request; nil selects a client with
// DefaultTimeout.
func NewAuthenticator(client *http.Client) *Authenticator {
	return &Authenticator{client: defaultClient(client)}
}

func (a *Authenticator) Authenticate(ctx context.Context, creds credentials.Credentials) (session.LoginResult, error) {
	body := loginRequest{
		UserName:   creds.UserName(),
		Password:   creds.SecurityPassword(),
		APIVersion: creds.APIVersion(),
	}

	var resp loginResponse
	if err := post(ctx, a.client, creds.URL()+loginPath, "", body, &resp); err != nil {
		return session.LoginResult{}, err
	}

	return session.LoginResult{
		SessionID:         resp.SessionID,
		ServerURL:         resp.ServerURL,
		MetadataServerURL: resp.MetadataServerURL,
		UserID:            resp.UserID,
		Sandbox:           resp.Sandbox,
		PasswordExpired:   resp.PasswordExpired,
	}, nil
}

func (a *Authenticator) Deauthenticate(ctx context.Context, s *session.Session) error {
	if s == nil {
		return nil
	}
	return post(ctx, a.client, s.Credentials().URL()+logoutPath, s.Token(), nil, nil)
}

// Stub is bound to one endpoint URL and session token.
type Stub struct {
	client   *http.Client
	endpoint endpoint.Endpoint
	binding  target.Binding
}

func (s *Stub) Endpoint() endpoint.Endpoint {
	return s.endpoint
}

func (s *Stub) Binding() target.Binding {
	return s.binding
}

// Call POSTs in as JSON to the operation and decodes the response into out.
// A nil in sends no body and a nil out discards the response.
func (s *Stub) Call(ctx context.Context, operation string, in any, out any) error {
	operation = strings.Trim(operation, "/")
	if operation == "" {
		return oerrors.InvalidArgument("httptransport: operation is required")
	}
	return post(ctx, s.client, strings.TrimRight(s.binding.URL, "/")+"/"+operation, s.binding.SessionToken, in, out)
}

// StubProvider builds Stubs sharing client; nil selects a client with
// DefaultTimeout.
func StubProvider(client *http.Client) target.StubProvider[*Stub] {
	client = defaultClient(client)
	return target.StubProviderFunc[*Stub](func(e endpoint.Endpoint, b target.Binding) (*Stub, error) {
		if b.URL == "" {
			return nil, oerrors.InvalidArgument("httptransport: binding url is required")
		}
		return &Stub{client: client, endpoint: e, binding: b}, nil
	})
}

func post(ctx context.Context, client *http.Client, url string, token string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return oerrors.Wrap(oerrors.CodeInvalidArgument, "httptransport: encode request", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return oerrors.Wrap(oerrors.CodeInvalidArgument, "httptransport: build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Session "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("httptransport: %s: %w", url, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("httptransport: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, payload)
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("httptransport: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, payload []byte) error {
	apiErr := &APIError{Status: resp.StatusCode}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(payload, apiErr); err == nil && (apiErr.Code != "" || apiErr.Message != "") {
			return apiErr
		}
	}
	apiErr.Code = ""
	apiErr.Message = resp.Status
	return apiErr
}
