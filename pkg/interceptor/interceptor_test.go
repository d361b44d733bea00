package interceptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/porthorian/sessionguard/pkg/credentials"
	"github.com/porthorian/sessionguard/pkg/endpoint"
	oerrors "github.com/porthorian/sessionguard/pkg/errors"
	"github.com/porthorian/sessionguard/pkg/retry"
	"github.com/porthorian/sessionguard/pkg/session"
	"github.com/porthorian/sessionguard/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remote simulates the server side: it issues session tokens and accepts
// calls only from tokens it still considers valid.
type remote struct {
	mu      sync.Mutex
	issued  int
	revoked map[string]bool

	authCalls atomic.Int32
	authErrs  []error
}

func newRemote() *remote {
	return &remote{revoked: map[string]bool{}}
}

func (r *remote) Authenticate(ctx context.Context, creds credentials.Credentials) (session.LoginResult, error) {
	r.authCalls.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.authErrs) > 0 {
		err := r.authErrs[0]
		r.authErrs = r.authErrs[1:]
		if err != nil {
			return session.LoginResult{}, err
		}
	}
	r.issued++
	return session.LoginResult{
		SessionID: fmt.Sprintf("sid-%d", r.issued),
		ServerURL: "https://cs9.example.com/services/Soap/u/42.0",
		UserID:    "005xx",
	}, nil
}

func (r *remote) Deauthenticate(ctx context.Context, s *session.Session) error {
	r.revoke(s.Token())
	return nil
}

func (r *remote) revoke(token string) {
	r.mu.Lock()
	r.revoked[token] = true
	r.mu.Unlock()
}

func (r *remote) valid(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.revoked[token]
}

type stub struct {
	token  string
	remote *remote
}

func (s *stub) Echo(ctx context.Context, in string) (string, error) {
	if !s.remote.valid(s.token) {
		return "", errors.New("INVALID_SESSION_ID: Invalid Session ID found in SessionHeader")
	}
	return s.token + ":" + in, nil
}

type harness struct {
	remote  *remote
	manager *session.Manager
	factory *target.Factory[*stub]

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{remote: newRemote()}

	creds, err := credentials.New("https://login.example.com/", "u", "p", "t", "42.0")
	require.NoError(t, err)
	h.manager, err = session.NewManager(creds, h.remote)
	require.NoError(t, err)

	h.factory, err = target.NewFactory[*stub](nil, target.StubProviderFunc[*stub](func(e endpoint.Endpoint, b target.Binding) (*stub, error) {
		return &stub{token: b.SessionToken, remote: h.remote}, nil
	}))
	require.NoError(t, err)
	return h
}

func (h *harness) interceptor(t *testing.T, budget int) *Interceptor[*stub] {
	t.Helper()
	i, err := New(context.Background(), h.manager, h.factory, endpoint.Standard(endpoint.KindPartner), WithPolicy(retry.Policy{
		Budget:          budget,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}))
	require.NoError(t, err)

	i.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	return i
}

func TestNewBindsEagerly(t *testing.T) {
	h := newHarness(t)
	i := h.interceptor(t, 4)

	assert.Equal(t, int32(1), h.remote.authCalls.Load())
	assert.Equal(t, "sid-1", i.Target().Binding.SessionToken)
	assert.Equal(t, "https://cs9.example.com/services/Soap/u/42.0", i.Target().Binding.URL)
	assert.Equal(t, h.manager.Credentials(), i.Credentials())
	assert.Equal(t, endpoint.Standard(endpoint.KindPartner), i.Endpoint())

	out, err := Call(context.Background(), i, "echo", func(ctx context.Context, s *stub) (string, error) {
		return s.Echo(ctx, "hi")
	})
	require.NoError(t, err)
	assert.Equal(t, "sid-1:hi", out)
	assert.Equal(t, int32(1), h.remote.authCalls.Load())
}

func TestNewFailsFast(t *testing.T) {
	h := newHarness(t)
	h.remote.authErrs = []error{errors.New("INVALID_LOGIN: Invalid username, password, security token")}

	i, err := New(context.Background(), h.manager, h.factory, endpoint.Standard(endpoint.KindPartner))
	assert.Nil(t, i)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeAuthentication))

	_, err = New[*stub](context.Background(), nil, h.factory, endpoint.Standard(endpoint.KindPartner))
	assert.ErrorIs(t, err, ErrNilManager)
	_, err = New[*stub](context.Background(), h.manager, nil, endpoint.Standard(endpoint.KindPartner))
	assert.ErrorIs(t, err, ErrNilFactory)
	_, err = New(context.Background(), h.manager, h.factory, endpoint.Standard(endpoint.KindPartner), WithPolicy(retry.Policy{Budget: -1}))
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidArgument))
}

func TestReloginThenSuccess(t *testing.T) {
	h := newHarness(t)
	i := h.interceptor(t, 4)
	h.remote.revoke("sid-1")

	calls := 0
	out, err := Call(context.Background(), i, "echo", func(ctx context.Context, s *stub) (string, error) {
		calls++
		return s.Echo(ctx, "hi")
	})

	require.NoError(t, err)
	assert.Equal(t, "sid-2:hi", out)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int32(2), h.remote.authCalls.Load())
	assert.Equal(t, "sid-2", i.Target().Binding.SessionToken)
	assert.Same(t, h.manager.Current(), i.Target().Session)
	assert.Empty(t, h.sleeps)
}

func TestBudgetIsTotalAcrossCategories(t *testing.T) {
	h := newHarness(t)
	i := h.interceptor(t, 4)

	failures := []error{
		errors.New("SERVER_UNAVAILABLE"),
		errors.New("INVALID_SESSION_ID"),
		errors.New("UNABLE_TO_LOCK_ROW"),
		io.EOF,
		errors.New("never reached"),
	}
	calls := 0
	err := i.Invoke(context.Background(), "update", func(ctx context.Context, s *stub) error {
		err := failures[calls]
		calls++
		return err
	})

	assert.Equal(t, 4, calls)
	var exceeded *retry.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, map[retry.Category]int{retry.Retryable: 2, retry.Relogin: 2}, exceeded.Counts)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "update", exceeded.Operation)
	assert.NotEmpty(t, exceeded.EpisodeID)
}

func TestRetryableBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	i := h.interceptor(t, 4)

	calls := 0
	err := i.Invoke(context.Background(), "query", func(ctx context.Context, s *stub) error {
		calls++
		return errors.New("SERVER_UNAVAILABLE: server is busy")
	})

	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, retry.ErrBudgetExceeded)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeRetryBudgetExceeded))

	var exceeded *retry.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, map[retry.Category]int{retry.Retryable: 4}, exceeded.Counts)
	assert.Equal(t, 4, exceeded.Budget)

	// no relogin happened for purely transient failures
	assert.Equal(t, int32(1), h.remote.authCalls.Load())
	assert.Len(t, h.sleeps, 4)
	for _, d := range h.sleeps {
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestFatalShortCircuits(t *testing.T) {
	h := newHarness(t)
	i := h.interceptor(t, 4)
	fatal := errors.New("INVALID_FIELD: No such column 'Nmae' on entity 'Account'")

	calls := 0
	err := i.Invoke(context.Background(), "query", func(ctx context.Context, s *stub) error {
		calls++
		return fatal
	})

	assert.Equal(t, 1, calls)
	assert.True(t, err == fatal, "fatal error must be returned unwrapped")
	assert.Empty(t, h.sleeps)
	assert.Equal(t, int32(1), h.remote.authCalls.Load())
}

func TestSharedManagerReloginsOncePerStaleSession(t *testing.T) {
	h := newHarness(t)
	first := h.interceptor(t, 4)
	second := h.interceptor(t, 4)
	third := h.interceptor(t, 4)
	require.Equal(t, int32(1), h.remote.authCalls.Load())

	h.remote.revoke("sid-1")

	failures := 0
	for _, i := range []*Interceptor[*stub]{first, second, third} {
		out, err := Call(context.Background(), i, "echo", func(ctx context.Context, s *stub) (string, error) {
			out, err := s.Echo(ctx, "hi")
			if err != nil {
				failures++
			}
			return out, err
		})
		require.NoError(t, err)
		assert.Equal(t, "sid-2:hi", out)
	}

	assert.Equal(t, 3, failures)
	assert.Equal(t, int32(2), h.remote.authCalls.Load(), "one initial login and exactly one relogin")
}

func TestConcurrentEpisodesShareOneRelogin(t *testing.T) {
	h := newHarness(t)
	const episodes = 8
	interceptors := make([]*Interceptor[*stub], episodes)
	for n := range interceptors {
		interceptors[n] = h.interceptor(t, 4)
	}
	h.remote.revoke("sid-1")

	var wg sync.WaitGroup
	for _, i := range interceptors {
		wg.Add(1)
		go func(i *Interceptor[*stub]) {
			defer wg.Done()
			out, err := Call(context.Background(), i, "echo", func(ctx context.Context, s *stub) (string, error) {
				return s.Echo(ctx, "hi")
			})
			assert.NoError(t, err)
			assert.Equal(t, "sid-2:hi", out)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(2), h.remote.authCalls.Load())
}

func TestRefreshFailures(t *testing.T) {
	t.Run("rejected credentials propagate", func(t *testing.T) {
		h := newHarness(t)
		i := h.interceptor(t, 4)
		h.remote.revoke("sid-1")
		h.remote.mu.Lock()
		h.remote.authErrs = []error{errors.New("INVALID_LOGIN: Invalid username, password, security token")}
		h.remote.mu.Unlock()

		calls := 0
		err := i.Invoke(context.Background(), "echo", func(ctx context.Context, s *stub) error {
			calls++
			_, err := s.Echo(ctx, "hi")
			return err
		})

		assert.Equal(t, 1, calls)
		assert.True(t, oerrors.IsCode(err, oerrors.CodeAuthentication))
		assert.Equal(t, "sid-1", i.Target().Binding.SessionToken)
	})

	t.Run("transient login failure retries within budget", func(t *testing.T) {
		h := newHarness(t)
		i := h.interceptor(t, 4)
		h.remote.revoke("sid-1")
		h.remote.mu.Lock()
		h.remote.authErrs = []error{io.ErrUnexpectedEOF}
		h.remote.mu.Unlock()

		calls := 0
		out, err := Call(context.Background(), i, "echo", func(ctx context.Context, s *stub) (string, error) {
			calls++
			return s.Echo(ctx, "hi")
		})

		require.NoError(t, err)
		assert.Equal(t, "sid-2:hi", out)
		assert.Equal(t, 3, calls)
		assert.Equal(t, int32(3), h.remote.authCalls.Load())
	})
}

func TestCanceledContext(t *testing.T) {
	h := newHarness(t)
	i := h.interceptor(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := i.Invoke(ctx, "query", func(ctx context.Context, s *stub) error {
		calls++
		cancel()
		return errors.New("SERVER_UNAVAILABLE")
	})

	assert.Equal(t, 1, calls)
	assert.EqualError(t, err, "SERVER_UNAVAILABLE")

	calls = 0
	err = i.Invoke(ctx, "query", func(ctx context.Context, s *stub) error {
		calls++
		return nil
	})
	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, err, context.Canceled)
}
