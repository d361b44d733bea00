// Package interceptor runs remote calls through a recovery loop that backs off
// on transient failures, refreshes the session when it is invalid or the
// connection failed, and gives up after a fixed number of attempts.
//
// Capability wrappers implement an endpoint's operations by routing every
// method through Invoke or Call:
//
//	type Accounts interface {
//		Query(ctx context.Context, soql string) ([]Account, error)
//	}
//
//	type accounts struct{ i *interceptor.Interceptor[AccountsStub] }
//
//	func (a accounts) Query(ctx context.Context, soql string) ([]Account, error) {
//		return interceptor.Call(ctx, a.i, "query", func(ctx context.Context, stub AccountsStub) ([]Account, error) {
//			return stub.Query(ctx, soql)
//		})
//	}
package interceptor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/porthorian/sessionguard/pkg/credentials"
	"github.com/porthorian/sessionguard/pkg/endpoint"
	"github.com/porthorian/sessionguard/pkg/metrics"
	"github.com/porthorian/sessionguard/pkg/retry"
	"github.com/porthorian/sessionguard/pkg/session"
	"github.com/porthorian/sessionguard/pkg/target"
)

var (
	ErrNilManager = errors.New("interceptor: session manager is required")
	ErrNilFactory = errors.New("interceptor: target factory is required")
)

type config struct {
	policy  retry.Policy
	logger  logr.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*config)

func WithPolicy(policy retry.Policy) Option {
	return func(c *config) {
		c.policy = policy
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = metrics
	}
}

// Interceptor owns the current call target for one endpoint. The target is
// built eagerly and replaced only after a failure asks for a fresh session.
type Interceptor[T any] struct {
	manager  *session.Manager
	factory  *target.Factory[T]
	endpoint endpoint.Endpoint
	label    string

	policy  retry.Policy
	logger  logr.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	current *target.Target[T]
}

// New logs in through manager if needed and binds the first target. It fails
// if that first login or binding fails.
func New[T any](ctx context.Context, manager *session.Manager, factory *target.Factory[T], e endpoint.Endpoint, opts ...Option) (*Interceptor[T], error) {
	if manager == nil {
		return nil, ErrNilManager
	}
	if factory == nil {
		return nil, ErrNilFactory
	}

	cfg := config{
		policy: retry.DefaultPolicy(),
		logger: logr.Discard(),
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.policy = cfg.policy.WithDefaults()
	if err := cfg.policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.logger.GetSink() == nil {
		cfg.logger = logr.Discard()
	}

	s, err := manager.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	current, err := factory.Build(e, s)
	if err != nil {
		return nil, err
	}

	return &Interceptor[T]{
		manager:  manager,
		factory:  factory,
		endpoint: e,
		label:    e.String(),
		policy:   cfg.policy,
		logger:   cfg.logger.WithValues("endpoint", e.String()),
		metrics:  cfg.metrics,
		sleep:    cfg.sleep,
		current:  current,
	}, nil
}

func (i *Interceptor[T]) Credentials() credentials.Credentials {
	return i.manager.Credentials()
}

func (i *Interceptor[T]) Endpoint() endpoint.Endpoint {
	return i.endpoint
}

// Target returns the currently installed target.
func (i *Interceptor[T]) Target() *target.Target[T] {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// Invoke runs call against the current stub until it succeeds, fails with an
// unclassified error, or the attempt budget is spent. Unclassified errors are
// returned unchanged; a spent budget returns *retry.ExceededError.
func (i *Interceptor[T]) Invoke(ctx context.Context, operation string, call func(ctx context.Context, stub T) error) error {
	episodeID := uuid.NewString()
	logger := i.logger.WithValues("operation", operation, "episode", episodeID)
	ledger := retry.NewLedger()
	backOff := i.policy.NewBackOff()
	start := time.Now()

	for attempts := 0; ; {
		if err := ctx.Err(); err != nil {
			i.metrics.ObserveEpisode(i.label, "canceled", time.Since(start))
			return err
		}

		current := i.Target()
		err := call(ctx, current.Stub)
		if err == nil {
			i.metrics.ObserveEpisode(i.label, "success", time.Since(start))
			return nil
		}
		if ctx.Err() != nil {
			i.metrics.ObserveEpisode(i.label, "canceled", time.Since(start))
			return err
		}

		category := retry.Classify(err)
		i.metrics.ObserveFailure(i.label, category.String())
		if category == retry.Fatal {
			logger.V(1).Info("call failed with unrecoverable error", "error", err.Error())
			i.metrics.ObserveEpisode(i.label, "fatal", time.Since(start))
			return err
		}
		ledger.Record(category)

		switch category {
		case retry.Retryable:
			delay := backOff.NextBackOff()
			logger.V(1).Info("transient failure, backing off", "attempt", attempts+1, "delay", delay.String(), "error", err.Error())
			i.metrics.ObserveBackoff(delay)
			if sleepErr := i.sleep(ctx, delay); sleepErr != nil {
				i.metrics.ObserveEpisode(i.label, "canceled", time.Since(start))
				return sleepErr
			}
		case retry.Relogin:
			logger.Info("session invalid or connection lost, refreshing session", "attempt", attempts+1, "error", err.Error())
			if refreshErr := i.refresh(ctx, current); refreshErr != nil {
				if ctx.Err() != nil || retry.Classify(refreshErr) == retry.Fatal {
					i.metrics.ObserveEpisode(i.label, "fatal", time.Since(start))
					return refreshErr
				}
				logger.V(1).Info("session refresh failed, will retry", "error", refreshErr.Error())
				err = refreshErr
			}
		}

		attempts++
		if attempts >= i.policy.Budget {
			exceeded := &retry.ExceededError{
				Operation: operation,
				EpisodeID: episodeID,
				Budget:    i.policy.Budget,
				Counts:    ledger.Counts(),
				Err:       err,
			}
			logger.Error(err, "retry budget exceeded", "budget", i.policy.Budget, "failures", ledger.String())
			i.metrics.ObserveEpisode(i.label, "exceeded", time.Since(start))
			return exceeded
		}
	}
}

// refresh asks the manager to replace the session failed was built from and
// installs a target bound to whatever session comes back.
func (i *Interceptor[T]) refresh(ctx context.Context, failed *target.Target[T]) error {
	fresh, err := i.manager.ResetSession(ctx, failed.Session)
	if err != nil {
		return err
	}

	installed := i.Target()
	if installed.Session == fresh {
		return nil
	}

	rebuilt, err := i.factory.Build(i.endpoint, fresh)
	if err != nil {
		return err
	}

	i.mu.Lock()
	if i.current == installed {
		i.current = rebuilt
	}
	i.mu.Unlock()
	return nil
}

// Call is Invoke for operations that return a value.
func Call[T any, R any](ctx context.Context, i *Interceptor[T], operation string, fn func(ctx context.Context, stub T) (R, error)) (R, error) {
	var result R
	err := i.Invoke(ctx, operation, func(ctx context.Context, stub T) error {
		r, err := fn(ctx, stub)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
