package domain

var (
	ErrNotFound          = errString("record not found")
	ErrNotAuthorized     = errString("not authorized")
	ErrInvalidState      = errString("invalid state")
	ErrInvalidSignatures = errString("invalid signatures")
	ErrUnknownRequest    = errString("unknown disclosure request")
	ErrRequestExpired    = errString("disclosure request expired")
)

type errString string

func (e errString) Error() string { return string(e) }
