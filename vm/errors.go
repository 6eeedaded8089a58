package vm

import (
	"fmt"

	"github.com/lumen-lang/lumen/object"
)

// ThrownError wraps a Lumen Value that is unwinding the call stack: both
// the `Throw` instruction's operand and every runtime fault this package
// raises (e.g. "Object not callable", a failed DefaultValue, an
// unresolved name) carry their message this way, so a caller can recover
// the original Lumen value with errors.As instead of only seeing a
// formatted Go error string. Errors returned by host built-ins (the
// Context's prototype methods and constructors) pass through as the plain
// Go errors those functions return.
type ThrownError struct {
	Value   object.Value
	Message string
}

func (e *ThrownError) Error() string { return e.Message }

func runtimeErrorf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &ThrownError{Value: object.Str(msg), Message: msg}
}
