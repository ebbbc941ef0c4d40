package routing

import (
	"github.com/pkg/errors"
)

// Kind classifies a routing error.
type Kind int

const (
	// KindInvalidArgument: malformed (path, band) tuple, nonexistent
	// input path, nonexistent band.
	KindInvalidArgument Kind = iota
	// KindBadBlockGeometry: block dimensions of an input raster are not
	// powers of two. The flow-direction engines mitigate this by
	// transparently rewriting the DEM to a compatible tile size
	// (downgrading this to a warning); every other entry point treats it
	// as fatal.
	KindBadBlockGeometry
	// KindUndrainedRaster: pit-fill found a region with no pour point.
	KindUndrainedRaster
	// KindIO: underlying raster/vector library failure, propagated
	// unchanged (wrapped, not replaced).
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindBadBlockGeometry:
		return "BadBlockGeometry"
	case KindUndrainedRaster:
		return "UndrainedRaster"
	case KindIO:
		return "IoError"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every public entry point returns on
// failure. Any failure is raster-wide and aborts the whole operation —
// there is no per-pixel error type.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// newErr wraps cause (which may be nil) into a classified, op-tagged
// *Error using github.com/pkg/errors so the original stack trace/cause
// chain survives Unwrap/errors.Cause.
func newErr(op string, kind Kind, cause error, msg string) *Error {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, msg)
	} else if msg != "" {
		wrapped = errors.New(msg)
	}
	return &Error{Kind: kind, Op: op, Err: wrapped}
}

func invalidArgument(op string, cause error, msg string) *Error {
	return newErr(op, KindInvalidArgument, cause, msg)
}

func badBlockGeometry(op string, cause error, msg string) *Error {
	return newErr(op, KindBadBlockGeometry, cause, msg)
}

func undrainedRaster(op string, msg string) *Error {
	return newErr(op, KindUndrainedRaster, nil, msg)
}

func ioError(op string, cause error) *Error {
	return newErr(op, KindIO, cause, "io error")
}

// ErrKind recovers the Kind of err if it (or something it wraps) is a
// *Error, and (KindIO, false) otherwise — matching the teacher's
// "wrap, don't discard the cause" practice via github.com/pkg/errors so
// classification survives extra layers of fmt.Errorf("...: %w", err).
func ErrKind(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return KindIO, false
}
