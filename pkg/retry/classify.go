// Package retry decides what to do with a failed remote call and carries the
// bookkeeping for one call episode.
package retry

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

type Category int

const (
	Fatal Category = iota
	Retryable
	Relogin
)

func (c Category) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Relogin:
		return "relogin"
	default:
		return "fatal"
	}
}

// Marker vocabulary. Matching is case-sensitive.
const (
	MarkerInvalidSession     = "INVALID_SESSION_ID"
	MarkerServerUnavailable  = "SERVER_UNAVAILABLE"
	MarkerRowLocked          = "UNABLE_TO_LOCK_ROW"
	MarkerServiceUnavailable = "Service Unavailable"
)

var (
	reloginMarkers   = []string{MarkerInvalidSession}
	retryableMarkers = []string{MarkerServerUnavailable, MarkerRowLocked, MarkerServiceUnavailable}
)

var ioErrors = []error{
	io.EOF,
	io.ErrUnexpectedEOF,
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.EPIPE,
}

// Classify maps err to a category. Checks run in priority order across the
// whole cause chain: session markers, then I/O failures, then transient
// server markers. Anything else is Fatal.
func Classify(err error) Category {
	if err == nil {
		return Fatal
	}

	chain := causeChain(err)

	if containsAny(chain, reloginMarkers) {
		return Relogin
	}
	if isIOError(chain) {
		return Relogin
	}
	if containsAny(chain, retryableMarkers) {
		return Retryable
	}
	return Fatal
}

// causeChain flattens err and every error it wraps, depth first, including
// multi-error wrappers.
func causeChain(err error) []error {
	var chain []error
	stack := []error{err}
	seen := 0

	for len(stack) > 0 && seen < 64 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == nil {
			continue
		}
		chain = append(chain, current)
		seen++

		switch wrapped := current.(type) {
		case interface{ Unwrap() []error }:
			causes := wrapped.Unwrap()
			for i := len(causes) - 1; i >= 0; i-- {
				stack = append(stack, causes[i])
			}
		case interface{ Unwrap() error }:
			stack = append(stack, wrapped.Unwrap())
		}
	}
	return chain
}

func containsAny(chain []error, markers []string) bool {
	for _, err := range chain {
		message := err.Error()
		for _, marker := range markers {
			if strings.Contains(message, marker) {
				return true
			}
		}
	}
	return false
}

func isIOError(chain []error) bool {
	for _, err := range chain {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		for _, target := range ioErrors {
			if err == target {
				return true
			}
		}
	}
	return false
}
