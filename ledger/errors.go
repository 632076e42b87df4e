package ledger

import "errors"

// ErrTimeout is returned when the hard ceiling elapses before the ledger
// call completes. The underlying write may still have succeeded on the
// ledger side; callers must not assume either outcome.
var ErrTimeout = errors.New("ledger call timed out")

// ErrEmptyReference is returned when a ledger call completes without error
// but its response carries no extractable transaction reference. This is
// never treated as success.
var ErrEmptyReference = errors.New("ledger response contained no transaction reference")

// SubmitError is an error from the ledger SDK. When the SDK broadcast a
// write but lost the acknowledgement it may attach the resumption
// parameters as structured fields; BrokeNum is nil when absent.
type SubmitError struct {
	Message    string
	BrokeNum   *int64
	BeforeHash string
}

func (e *SubmitError) Error() string {
	return e.Message
}
