package billing

import "errors"

// Kind classifies billing errors.
type Kind int

const (
	// KindType marks a value of the wrong type: nil, bool or a non-number.
	KindType Kind = iota + 1
	// KindFormat marks unreadable or unparseable input.
	KindFormat
	// KindSchema marks a missing column or a table left empty after cleaning.
	KindSchema
	// KindDomain marks negative or non-finite values.
	KindDomain
)

func (k Kind) String() string {
	switch k {
	case KindType:
		return "type"
	case KindFormat:
		return "format"
	case KindSchema:
		return "schema"
	case KindDomain:
		return "domain"
	default:
		return "unknown"
	}
}

var (
	// ErrType matches every KindType error.
	ErrType = errors.New("billing: type error")
	// ErrFormat matches every KindFormat error.
	ErrFormat = errors.New("billing: format error")
	// ErrSchema matches every KindSchema error.
	ErrSchema = errors.New("billing: schema error")
	// ErrDomain matches every KindDomain error.
	ErrDomain = errors.New("billing: domain error")
)

// Error is returned by every operation of this package.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "billing: " + e.Msg + ": " + e.Err.Error()
	}
	return "billing: " + e.Msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrType:
		return e.Kind == KindType
	case ErrFormat:
		return e.Kind == KindFormat
	case ErrSchema:
		return e.Kind == KindSchema
	case ErrDomain:
		return e.Kind == KindDomain
	}
	return false
}

// KindOf returns the kind of a billing error, or 0 when err is not one.
func KindOf(err error) Kind {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind
	}
	return 0
}

func typeError(msg string) error   { return &Error{Kind: KindType, Msg: msg} }
func schemaError(msg string) error { return &Error{Kind: KindSchema, Msg: msg} }
func domainError(msg string) error { return &Error{Kind: KindDomain, Msg: msg} }

func formatError(msg string, cause error) error {
	return &Error{Kind: KindFormat, Msg: msg, Err: cause}
}
