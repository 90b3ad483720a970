package fetcher

import (
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	KindConnection ErrorKind = iota
	KindTimeout
	KindHTTPStatus
	KindCanceled
	KindTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http-status"
	case KindCanceled:
		return "canceled"
	case KindTooLarge:
		return "too-large"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a failed retrieval. StatusCode is set for KindHTTPStatus only.
type Error struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("fetch %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	case KindTooLarge:
		return fmt.Sprintf("fetch %s: response body too large", e.URL)
	default:
		if e.Err == nil {
			return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
		}
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether another attempt in the same cycle may succeed
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindTimeout, KindConnection:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
	default:
		return false
	}
}
