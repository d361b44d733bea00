package sessionguard

import (
	"net/http"

	httptransport "github.com/porthorian/sessionguard/pkg/transport/http"
)

// NewDefault is New with the JSON-over-HTTP authenticator. A nil httpClient
// selects one with the transport's default timeout.
func NewDefault(httpClient *http.Client, config Config) (*Client, error) {
	return New(httptransport.NewAuthenticator(httpClient), config)
}
