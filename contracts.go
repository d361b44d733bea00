package sessionguard

import (
	"github.com/porthorian/sessionguard/pkg/credentials"
	"github.com/porthorian/sessionguard/pkg/endpoint"
	"github.com/porthorian/sessionguard/pkg/session"
)

type (
	Credentials   = credentials.Credentials
	Session       = session.Session
	LoginResult   = session.LoginResult
	Authenticator = session.Authenticator
	Endpoint      = endpoint.Endpoint
)

func NewCredentials(url, userName, password, token, apiVersion string) (Credentials, error) {
	return credentials.New(url, userName, password, token, apiVersion)
}
