package endpoint

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	oerrors "github.com/porthorian/sessionguard/pkg/errors"
	"github.com/porthorian/sessionguard/pkg/session"
)

type Kind string

const (
	KindPartner    Kind = "partner"
	KindEnterprise Kind = "enterprise"
	KindMetadata   Kind = "metadata"
	KindApex       Kind = "apex"
	KindTooling    Kind = "tooling"
	KindCustom     Kind = "custom"
)

// Endpoint names one remote service. Name is only meaningful for KindCustom,
// where it replaces the API version as the last URL segment.
type Endpoint struct {
	Kind Kind
	Name string
}

func Standard(kind Kind) Endpoint {
	return Endpoint{Kind: kind}
}

func Custom(name string) Endpoint {
	return Endpoint{Kind: KindCustom, Name: name}
}

func (e Endpoint) String() string {
	if e.Kind == KindCustom {
		return string(e.Kind) + ":" + e.Name
	}
	return string(e.Kind)
}

// Parse reads the form produced by String: "<kind>" or "custom:<name>".
// Kinds are not checked against any table.
func Parse(raw string) (Endpoint, error) {
	kind, name, hasName := strings.Cut(strings.TrimSpace(raw), ":")
	kind = strings.ToLower(strings.TrimSpace(kind))
	name = strings.TrimSpace(name)

	if kind == "" {
		return Endpoint{}, ErrEmptyKind
	}
	if Kind(kind) == KindCustom {
		if name == "" {
			return Endpoint{}, oerrors.InvalidArgument("endpoint: custom endpoint requires a name")
		}
		return Custom(name), nil
	}
	if hasName {
		return Endpoint{}, oerrors.InvalidArgument(fmt.Sprintf("endpoint: kind %q does not take a name", kind))
	}
	return Standard(Kind(kind)), nil
}

var (
	ErrEmptyKind     = errors.New("endpoint: kind is empty")
	ErrEmptyPath     = errors.New("endpoint: path is empty")
	ErrDuplicateKind = errors.New("endpoint: kind already registered")
)

type Table struct {
	paths map[Kind]string
}

func DefaultPaths() map[Kind]string {
	return map[Kind]string{
		KindPartner:    "/services/Soap/u/",
		KindEnterprise: "/services/Soap/c/",
		KindMetadata:   "/services/Soap/m/",
		KindApex:       "/services/Soap/s/",
		KindTooling:    "/services/Soap/T/",
		KindCustom:     "/services/Soap/class/",
	}
}

func NewTable(paths map[Kind]string) (*Table, error) {
	t := &Table{
		paths: map[Kind]string{},
	}

	for kind, path := range paths {
		if err := t.Register(kind, path); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func DefaultTable() *Table {
	t, _ := NewTable(DefaultPaths())
	return t
}

// Register adds the fixed path segment for kind. Paths are normalized to
// start and end with a slash.
func (t *Table) Register(kind Kind, path string) error {
	if kind == "" {
		return ErrEmptyKind
	}

	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return ErrEmptyPath
	}

	if _, exists := t.paths[kind]; exists {
		return ErrDuplicateKind
	}

	t.paths[kind] = "/" + path + "/"
	return nil
}

func (t *Table) Path(kind Kind) (string, bool) {
	if t == nil {
		return "", false
	}
	path, ok := t.paths[kind]
	return path, ok
}

// Resolve builds the destination URL for e from s: base URL, fixed path and
// port name (API version, or the custom endpoint's name).
func (t *Table) Resolve(e Endpoint, s *session.Session) (string, error) {
	if s == nil {
		return "", oerrors.InvalidArgument("endpoint: session is required")
	}

	path, ok := t.Path(e.Kind)
	if !ok {
		return "", oerrors.InvalidArgument(fmt.Sprintf("endpoint: unknown kind %q", e.Kind))
	}

	base := s.BaseServerURL()
	if e.Kind == KindMetadata {
		base = s.BaseMetadataServerURL()
	}

	port := s.Credentials().APIVersion()
	if e.Kind == KindCustom {
		port = strings.Trim(strings.TrimSpace(e.Name), "/")
		if port == "" {
			return "", oerrors.InvalidArgument("endpoint: custom endpoint requires a name")
		}
	}

	resolved := strings.TrimRight(base, "/") + path + port
	parsed, err := url.Parse(resolved)
	if err != nil {
		return "", oerrors.Wrap(oerrors.CodeInvalidArgument, fmt.Sprintf("endpoint: invalid url %q", resolved), err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", oerrors.InvalidArgument(fmt.Sprintf("endpoint: url %q must be absolute", resolved))
	}
	return parsed.String(), nil
}
