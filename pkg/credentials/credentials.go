package credentials

import (
	"fmt"
	"strings"

	oerrors "github.com/porthorian/sessionguard/pkg/errors"
)

// Credentials is the immutable login material for one API user. It is a
// comparable value: == and map keys cover all five fields.
type Credentials struct {
	url        string
	userName   string
	password   string
	token      string
	apiVersion string
}

func New(url, userName, password, token, apiVersion string) (Credentials, error) {
	c := Credentials{
		url:        strings.TrimSpace(url),
		userName:   strings.TrimSpace(userName),
		password:   password,
		token:      token,
		apiVersion: strings.TrimSpace(apiVersion),
	}

	if err := c.validate(); err != nil {
		return Credentials{}, err
	}

	if !strings.HasSuffix(c.url, "/") {
		c.url += "/"
	}
	return c, nil
}

func (c Credentials) validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"url", c.url},
		{"user name", c.userName},
		{"password", c.password},
		{"token", c.token},
		{"api version", c.apiVersion},
	}

	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return oerrors.InvalidArgument(fmt.Sprintf("credentials: %s is required", f.name))
		}
	}
	return nil
}

// Validate reports whether c was built through New. The zero value is invalid.
func (c Credentials) Validate() error {
	return c.validate()
}

func (c Credentials) URL() string        { return c.url }
func (c Credentials) UserName() string   { return c.userName }
func (c Credentials) Password() string   { return c.password }
func (c Credentials) Token() string      { return c.token }
func (c Credentials) APIVersion() string { return c.apiVersion }

// SecurityPassword is the password with the security token appended, which is
// what the login call expects.
func (c Credentials) SecurityPassword() string {
	return c.password + c.token
}

func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// Fields returns all five fields in a fixed order, for fingerprinting.
func (c Credentials) Fields() []string {
	return []string{c.url, c.userName, c.password, c.token, c.apiVersion}
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{url=%s, user=%s, apiVersion=%s}", c.url, c.userName, c.apiVersion)
}

func (c Credentials) GoString() string {
	return c.String()
}
