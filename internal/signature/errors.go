package signature

import (
	"errors"
	"fmt"
)

// Kind classifies every error produced by providers and key stores.
type Kind int

const (
	KindKeyInvalid Kind = iota + 1
	KindSignatureInvalid
	KindInvalidKey
	KindProvider
	KindNotADirectory
	KindPermissions
	KindIO
	KindEncoding
	KindLabelInvalid
)

func (k Kind) String() string {
	switch k {
	case KindKeyInvalid:
		return "key invalid"
	case KindSignatureInvalid:
		return "signature invalid"
	case KindInvalidKey:
		return "invalid key"
	case KindProvider:
		return "provider error"
	case KindNotADirectory:
		return "not a directory"
	case KindPermissions:
		return "permissions"
	case KindIO:
		return "i/o error"
	case KindEncoding:
		return "encoding error"
	case KindLabelInvalid:
		return "label invalid"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrKeyInvalid       = &Error{Kind: KindKeyInvalid}
	ErrSignatureInvalid = &Error{Kind: KindSignatureInvalid}
	ErrInvalidKey       = &Error{Kind: KindInvalidKey}
	ErrProvider         = &Error{Kind: KindProvider}
	ErrNotADirectory    = &Error{Kind: KindNotADirectory}
	ErrPermissions      = &Error{Kind: KindPermissions}
	ErrIO               = &Error{Kind: KindIO}
	ErrEncoding         = &Error{Kind: KindEncoding}
	ErrLabelInvalid     = &Error{Kind: KindLabelInvalid}
)

// Error is the single error type shared by software providers, the hardware
// module session and the key stores.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError returns an error of the given kind for op wrapping cause, which may be nil.
func NewError(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Errorf is NewError with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// mustNotFail panics when a primitive library hands back output that fails our
// own validation. That is a programming defect, not a caller error.
func mustNotFail[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("signature: internal invariant violated: %v", err))
	}
	return v
}
