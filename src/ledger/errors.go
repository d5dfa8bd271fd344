package ledger

import "errors"

// Sentinel errors, one per failure kind. Operations wrap them with context;
// match with errors.Is or map with KindOf.
var (
	ErrNotAuthorized     = errors.New("not authorized")
	ErrNotRegistered     = errors.New("not registered")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrInvalidRole       = errors.New("invalid role")
	ErrBatchNotFound     = errors.New("batch not found")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoSuchCommitment  = errors.New("no such commitment")
	ErrAlreadyRevealed   = errors.New("commitment already revealed")
	ErrRevealMismatch    = errors.New("revealed data does not match commitment")
	ErrNonceReused       = errors.New("nonce already used")
	ErrAlreadySubmitted  = errors.New("already submitted")
	ErrInvalidInput      = errors.New("invalid input")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrNotAuthorized, "NotAuthorized"},
	{ErrNotRegistered, "NotRegistered"},
	{ErrAlreadyRegistered, "AlreadyRegistered"},
	{ErrInvalidRole, "InvalidRole"},
	{ErrBatchNotFound, "BatchNotFound"},
	{ErrIndexOutOfRange, "IndexOutOfRange"},
	{ErrInvalidTransition, "InvalidTransition"},
	{ErrNoSuchCommitment, "NoSuchCommitment"},
	{ErrAlreadyRevealed, "AlreadyRevealed"},
	{ErrRevealMismatch, "RevealMismatch"},
	{ErrNonceReused, "NonceReused"},
	{ErrAlreadySubmitted, "AlreadySubmitted"},
	{ErrInvalidInput, "InvalidInput"},
}

// KindOf returns the taxonomy name of err, or "Internal" for errors that did
// not originate in this package.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
