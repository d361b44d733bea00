package target

import (
	"fmt"

	"github.com/porthorian/sessionguard/pkg/endpoint"
	oerrors "github.com/porthorian/sessionguard/pkg/errors"
	"github.com/porthorian/sessionguard/pkg/session"
)

// Binding is what a stub needs to reach one endpoint for one session.
type Binding struct {
	URL          string
	SessionToken string
}

// StubProvider returns a callable stub of type T with the binding's URL and
// session token attached to every outbound call.
type StubProvider[T any] interface {
	NewStub(e endpoint.Endpoint, b Binding) (T, error)
}

type StubProviderFunc[T any] func(e endpoint.Endpoint, b Binding) (T, error)

func (f StubProviderFunc[T]) NewStub(e endpoint.Endpoint, b Binding) (T, error) {
	return f(e, b)
}

// Target is a stub bound to the session it was built from.
type Target[T any] struct {
	Endpoint endpoint.Endpoint
	Binding  Binding
	Session  *session.Session
	Stub     T
}

// Factory builds targets. It holds no mutable state; every Build returns a
// fresh Target.
type Factory[T any] struct {
	table *endpoint.Table
	stubs StubProvider[T]
}

func NewFactory[T any](table *endpoint.Table, stubs StubProvider[T]) (*Factory[T], error) {
	if stubs == nil {
		return nil, oerrors.ErrMissingStubProvider
	}
	if table == nil {
		table = endpoint.DefaultTable()
	}
	return &Factory[T]{
		table: table,
		stubs: stubs,
	}, nil
}

func (f *Factory[T]) Build(e endpoint.Endpoint, s *session.Session) (*Target[T], error) {
	if e.Kind == "" {
		return nil, oerrors.InvalidArgument("target: endpoint kind is required")
	}

	url, err := f.table.Resolve(e, s)
	if err != nil {
		return nil, err
	}

	binding := Binding{
		URL:          url,
		SessionToken: s.Token(),
	}

	stub, err := f.stubs.NewStub(e, binding)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeInvalidArgument, fmt.Sprintf("target: failed to bind %s stub", e), err)
	}

	return &Target[T]{
		Endpoint: e,
		Binding:  binding,
		Session:  s,
		Stub:     stub,
	}, nil
}
