package crypto

import "errors"

var (
	ErrEmptyKey = errors.New("fingerprint: key is required")
)

type Fingerprinter interface {
	Fingerprint(parts ...string) string
}
