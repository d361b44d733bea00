package target

import (
	"errors"
	"sync"
	"testing"

	"github.com/porthorian/sessionguard/pkg/credentials"
	"github.com/porthorian/sessionguard/pkg/endpoint"
	oerrors "github.com/porthorian/sessionguard/pkg/errors"
	"github.com/porthorian/sessionguard/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stub struct {
	binding Binding
}

func stubProvider() StubProviderFunc[*stub] {
	return func(e endpoint.Endpoint, b Binding) (*stub, error) {
		return &stub{binding: b}, nil
	}
}

func testSession(t *testing.T) *session.Session {
	t.Helper()
	creds, err := credentials.New("https://login.example.com/", "u", "p", "t", "42.0")
	require.NoError(t, err)
	s, err := session.New(creds, session.LoginResult{SessionID: "sid-1", ServerURL: "https://cs9.example.com/services/Soap/u/42.0"})
	require.NoError(t, err)
	return s
}

func TestBuild(t *testing.T) {
	factory, err := NewFactory[*stub](nil, stubProvider())
	require.NoError(t, err)
	s := testSession(t)

	target, err := factory.Build(endpoint.Standard(endpoint.KindPartner), s)
	require.NoError(t, err)

	assert.Equal(t, "https://cs9.example.com/services/Soap/u/42.0", target.Binding.URL)
	assert.Equal(t, "sid-1", target.Binding.SessionToken)
	assert.Equal(t, target.Binding, target.Stub.binding)
	assert.Same(t, s, target.Session)
}

func TestBuildReturnsFreshTargets(t *testing.T) {
	factory, err := NewFactory[*stub](nil, stubProvider())
	require.NoError(t, err)
	s := testSession(t)

	var wg sync.WaitGroup
	targets := make([]*Target[*stub], 8)
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			built, err := factory.Build(endpoint.Standard(endpoint.KindPartner), s)
			assert.NoError(t, err)
			targets[i] = built
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(targets); i++ {
		assert.NotSame(t, targets[0], targets[i])
		assert.NotSame(t, targets[0].Stub, targets[i].Stub)
		assert.Equal(t, targets[0].Binding, targets[i].Binding)
	}
}

func TestBuildErrors(t *testing.T) {
	_, err := NewFactory[*stub](nil, nil)
	assert.ErrorIs(t, err, oerrors.ErrMissingStubProvider)

	factory, err := NewFactory[*stub](nil, stubProvider())
	require.NoError(t, err)

	_, err = factory.Build(endpoint.Endpoint{}, testSession(t))
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidArgument))

	_, err = factory.Build(endpoint.Standard(endpoint.KindPartner), nil)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidArgument))

	cause := errors.New("no such port")
	failing, err := NewFactory[*stub](nil, StubProviderFunc[*stub](func(endpoint.Endpoint, Binding) (*stub, error) {
		return nil, cause
	}))
	require.NoError(t, err)
	_, err = failing.Build(endpoint.Standard(endpoint.KindPartner), testSession(t))
	assert.ErrorIs(t, err, cause)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidArgument))
}
