package ledger

import "fmt"

// Error is a business-rule violation raised by the account aggregate's
// command validation, distinct from the engine's errcode.Error: these
// are domain rules, not backend/operational failures.
type Error struct {
	message string
}

func newError(format string, args ...interface{}) *Error {
	return &Error{message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.message }

var (
	ErrInsufficientFunds = newError("insufficient funds")
	ErrAccountExists     = newError("account already exists")
	ErrAccountNotFound   = newError("account not found")
)
