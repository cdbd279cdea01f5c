package callback

import "errors"

// Delivery failure taxonomy. AuthRejected and Unrecognized are
// permanent for the delivery and map to 4xx; the rest are transient and
// map to 5xx so the platform redelivers.
var (
	ErrAuthRejected = errors.New("callback authentication rejected")
	ErrUnrecognized = errors.New("payload form not recognized")
	ErrFetchFailed  = errors.New("result fetch failed")
	ErrStorageWrite = errors.New("blob write failed")
	ErrRecordWrite  = errors.New("record write failed")
	ErrTimeout      = errors.New("transport timeout")
)

// Permanent reports whether redelivering the same payload could not
// change the outcome.
func Permanent(err error) bool {
	return errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrUnrecognized)
}
