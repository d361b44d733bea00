// Package sessionguard keeps remote API calls working across expired
// sessions and transient server failures. A Client owns one session manager
// per set of credentials; Dial binds an interceptor for one endpoint to the
// shared session.
package sessionguard

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/porthorian/sessionguard/pkg/credentials"
	"github.com/porthorian/sessionguard/pkg/endpoint"
	oerrors "github.com/porthorian/sessionguard/pkg/errors"
	"github.com/porthorian/sessionguard/pkg/interceptor"
	"github.com/porthorian/sessionguard/pkg/retry"
	"github.com/porthorian/sessionguard/pkg/session"
	"github.com/porthorian/sessionguard/pkg/storage"
	"github.com/porthorian/sessionguard/pkg/target"
)

type Config struct {
	Logger logr.Logger
	Retry  retry.Policy
	// Endpoints overrides the default endpoint path table.
	Endpoints *endpoint.Table
	// AuditStore receives login events. When nil, Runtime.Audit selects a
	// backend.
	AuditStore storage.LoginEventStore
	// FingerprintKey keys the credential fingerprint written with audit
	// events. Required whenever auditing is enabled.
	FingerprintKey []byte
	Runtime        RuntimeConfig
}

type Client struct {
	auth    session.Authenticator
	config  Config
	logger  logr.Logger
	options []session.Option

	mu            sync.Mutex
	managers      map[credentials.Credentials]*session.Manager
	closeResource func() error
}

// New wires auth to the runtime described by config. The caller must Close
// the client to release audit storage.
func New(auth session.Authenticator, config Config) (*Client, error) {
	if auth == nil {
		return nil, oerrors.ErrMissingAuthenticator
	}

	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	options, err := resolvedConfig.managerOptions()
	if err != nil {
		_ = closeResource()
		return nil, err
	}

	return &Client{
		auth:          auth,
		config:        resolvedConfig,
		logger:        resolvedConfig.Logger,
		options:       options,
		managers:      map[credentials.Credentials]*session.Manager{},
		closeResource: closeResource,
	}, nil
}

// Manager returns the session manager for creds, creating it on first use.
// Equal credentials always share one manager.
func (c *Client) Manager(creds credentials.Credentials) (*session.Manager, error) {
	if c == nil || c.auth == nil {
		return nil, oerrors.ErrMissingAuthenticator
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.managers[creds]; ok {
		return m, nil
	}

	m, err := session.NewManager(creds, c.auth, c.options...)
	if err != nil {
		return nil, err
	}
	c.managers[creds] = m
	c.logger.V(1).Info("registered session manager", "user", creds.UserName(), "url", creds.URL())
	return m, nil
}

// Logout logs out every manager that holds a session. All managers are
// attempted; their failures are combined.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	managers := make([]*session.Manager, 0, len(c.managers))
	for _, m := range c.managers {
		managers = append(managers, m)
	}
	c.mu.Unlock()

	var result *multierror.Error
	for _, m := range managers {
		if err := m.Logout(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close logs out every session and releases runtime resources.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	var result *multierror.Error
	if err := c.Logout(context.Background()); err != nil {
		result = multierror.Append(result, err)
	}

	if c.closeResource != nil {
		if err := c.closeResource(); err != nil {
			result = multierror.Append(result, oerrors.Wrap(oerrors.CodeUnknown, "failed to close client resources", err))
		}
		c.closeResource = nil
	}

	c.mu.Lock()
	c.managers = map[credentials.Credentials]*session.Manager{}
	c.mu.Unlock()
	return result.ErrorOrNil()
}

// Dial binds an interceptor for e to the shared session of creds, logging in
// if no session exists yet.
func Dial[T any](ctx context.Context, c *Client, creds credentials.Credentials, e endpoint.Endpoint, stubs target.StubProvider[T]) (*interceptor.Interceptor[T], error) {
	if c == nil {
		return nil, oerrors.ErrMissingAuthenticator
	}

	manager, err := c.Manager(creds)
	if err != nil {
		return nil, err
	}

	factory, err := target.NewFactory(c.config.Endpoints, stubs)
	if err != nil {
		return nil, err
	}

	return interceptor.New(ctx, manager, factory, e,
		interceptor.WithPolicy(c.config.Retry),
		interceptor.WithLogger(c.logger),
		interceptor.WithMetrics(c.config.Runtime.Metrics.collector),
	)
}
