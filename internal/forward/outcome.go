package forward

import (
	"net/http"
	"time"
)

// FailureKind classifies a failed forward.
type FailureKind string

const (
	// KindTimeout means the backend did not answer within the request timeout.
	KindTimeout FailureKind = "timeout"

	// KindTransport covers every other transport-level failure, including a
	// response that broke off while its body was being read.
	KindTransport FailureKind = "transport"
)

// Outcome is the single result of forwarding one inbound request.
// Either Kind is empty and the backend response fields are set, or Kind names
// the failure and Cause holds a client-safe description of it.
type Outcome struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	Kind  FailureKind
	Cause string
	Err   error

	Duration time.Duration
}

// Failed reports whether no backend response was obtained.
func (o *Outcome) Failed() bool {
	return o.Kind != ""
}
