package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindBadStatus is a response other than 200 OK.
	KindBadStatus
	// KindTransport is a connection or I/O failure.
	KindTransport
	// KindDecodeFailed is an empty or undecodable body.
	KindDecodeFailed
	// KindCancelled is a fetch abandoned because its task was superseded or unbound.
	KindCancelled
)

var (
	ErrBadStatus    = errors.New("bad status")
	ErrTransport    = errors.New("transport failure")
	ErrDecodeFailed = errors.New("decode failed")
	ErrCancelled    = errors.New("cancelled")
)

func (k Kind) String() string {
	switch k {
	case KindBadStatus:
		return "bad_status"
	case KindTransport:
		return "transport"
	case KindDecodeFailed:
		return "decode_failed"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindBadStatus:
		return ErrBadStatus
	case KindTransport:
		return ErrTransport
	case KindDecodeFailed:
		return ErrDecodeFailed
	case KindCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// FetchError is returned by every failed Fetch. It matches its kind's sentinel
// with errors.Is and unwraps to the underlying cause.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf extracts the failure kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func newFetchError(kind Kind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}
