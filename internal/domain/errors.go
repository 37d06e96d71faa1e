package domain

import "errors"

// Kind classifies a failure so the transport layer can map it to a status
// code without inspecting messages.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindExternal
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindExternal:
		return "external"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Sentinel errors for kind-level discrimination.
// errors.Is(err, ErrConflict) is true for every *Error of KindConflict.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrExternal     = errors.New("external dependency failure")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindValidation:
		return ErrBadRequest
	case KindExternal:
		return ErrExternal
	case KindUnauthorized:
		return ErrUnauthorized
	default:
		return ErrInternal
	}
}

// Error is a tagged failure. Message is safe to show to clients; Cause is kept
// for logging only.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches the kind sentinel and any *Error with the same kind and message,
// so a named error still matches after WithCause.
func (e *Error) Is(target error) bool {
	if target == e.Kind.sentinel() {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == e.Message
}

// WithCause returns a copy of e carrying cause.
func (e *Error) WithCause(cause error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Cause: cause}
}

// Internal wraps an unexpected failure. Clients only ever see the generic message.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Cause: cause}
}

// KindOf reports the kind of err. Errors that are not *Error are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the client-facing message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

var (
	ErrUserNotFound      = &Error{Kind: KindNotFound, Message: "user not found"}
	ErrDuplicateIdentity = &Error{Kind: KindConflict, Message: "email and phone number already registered"}
	ErrEmailTaken        = &Error{Kind: KindConflict, Message: "email already registered"}
	ErrPhoneTaken        = &Error{Kind: KindConflict, Message: "phone number already registered"}
	ErrAlreadyVerified   = &Error{Kind: KindConflict, Message: "user already verified"}
	ErrInvalidOTP        = &Error{Kind: KindValidation, Message: "invalid OTP"}
	ErrOTPExpired        = &Error{Kind: KindValidation, Message: "OTP expired"}
	ErrNotVerified       = &Error{Kind: KindValidation, Message: "user not verified"}
	ErrInvalidPassword   = &Error{Kind: KindValidation, Message: "invalid password"}
	ErrDeliveryFailed    = &Error{Kind: KindExternal, Message: "failed to send OTP"}
	ErrInvalidToken      = &Error{Kind: KindUnauthorized, Message: "invalid token"}
)
