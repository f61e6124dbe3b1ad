package rangesync

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Kind classifies a rangesync Error, per spec.md §7's error taxonomy.
type Kind int

const (
	// KindUnknown is the zero value; never returned by this package.
	KindUnknown Kind = iota
	// KindWrongBatchState marks an internal invariant violation: a batch
	// state-machine method was called against a batch in an unexpected
	// state. Fatal to the owning chain.
	KindWrongBatchState
	// KindMaxDownloadAttempts marks a batch that exhausted its download
	// retry budget. Fatal to the owning chain.
	KindMaxDownloadAttempts
	// KindMaxProcessingAttempts marks a batch that exhausted its
	// processing retry budget. Fatal to the owning chain; the chain's
	// whole peerset is reported LowTolerance.
	KindMaxProcessingAttempts
	// KindInvalidBatchOrder marks a batch set that failed
	// validateBatchesStatus. Fatal to the owning chain.
	KindInvalidBatchOrder
	// KindStartAfterEnded marks an attempt to (re)start a chain that has
	// already reached Synced or Error.
	KindStartAfterEnded
	// KindAborted marks an external cancellation. Unwinds silently: no
	// peer reports, no onEnd(err).
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindWrongBatchState:
		return "WrongBatchState"
	case KindMaxDownloadAttempts:
		return "MaxDownloadAttempts"
	case KindMaxProcessingAttempts:
		return "MaxProcessingAttempts"
	case KindInvalidBatchOrder:
		return "InvalidBatchOrder"
	case KindStartAfterEnded:
		return "StartAfterEnded"
	case KindAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Error is the typed error range sync raises for the taxonomy in
// spec.md §7. Callers that need to branch on Kind should use errors.As.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Kind.String() + ": " + e.msg + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.msg
}

// Unwrap allows errors.Is/errors.As to see through to a wrapped cause.
func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func wrapError(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

// IsKind reports whether err is, or wraps, a rangesync *Error of the given
// kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

var (
	// ErrWrongBatchState is returned when a batch state-machine method is
	// invoked against a batch not in the state it expects.
	ErrWrongBatchState = newError(KindWrongBatchState, "batch method called in unexpected state")
	// ErrMaxDownloadAttempts is returned once a batch's download retry
	// count reaches MaxDownloadAttempts.
	ErrMaxDownloadAttempts = newError(KindMaxDownloadAttempts, "batch exceeded maximum download attempts")
	// ErrMaxProcessingAttempts is returned once a batch's processing
	// retry count reaches MaxProcessingAttempts.
	ErrMaxProcessingAttempts = newError(KindMaxProcessingAttempts, "batch exceeded maximum processing attempts")
	// ErrInvalidBatchOrder is returned by validateBatchesStatus when the
	// batch-status regex invariant (P1) is violated.
	ErrInvalidBatchOrder = newError(KindInvalidBatchOrder, "batch set violates status ordering invariant")
	// ErrStartAfterEnded is returned when startSyncing is called on a
	// chain already in Synced or Error status.
	ErrStartAfterEnded = newError(KindStartAfterEnded, "cannot start a chain that has already ended")
	// ErrAborted marks the processor/downloader loops unwinding because
	// the chain was removed.
	ErrAborted = newError(KindAborted, "sync chain aborted")
)

// wrap is a small convenience around github.com/pkg/errors.Wrap, kept for
// call sites that need positional context on a transient (non-taxonomy)
// error without promoting it to an *Error.
func wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}
