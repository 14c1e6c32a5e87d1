package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidWindow means the resolved window collapsed (start >= end).
// Fatal for the current report only.
var ErrInvalidWindow = errors.New("invalid report window: start >= end")

// ErrMalformedModelOutput means the model's JSON survived the repair pass
// still broken. The affected batch yields zero facts; it never fails a run.
var ErrMalformedModelOutput = errors.New("malformed model output")

// UpstreamError wraps a summarization/messaging transport failure that
// exhausted its retries. Fatal for the current (owner, pack) unit of work.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
