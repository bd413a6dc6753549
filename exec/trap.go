package exec

import (
	"errors"
	"runtime"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// A Trap represents a WASM trap.
type Trap string

func (t Trap) Error() string {
	return "wasm trap: " + string(t)
}

// TrapUndefinedElement indicates an attempt to access a table with an index that is out of bounds.
var TrapUndefinedElement = Trap("undefined element")

// TrapUninitializedElement indicates an attempt to use an uninitialized table element.
var TrapUninitializedElement = Trap("uninitialized element")

// TrapIndirectCallTypeMismatch indicates a mismatch between the expected and actual signature of a function.
var TrapIndirectCallTypeMismatch = Trap("indirect call type mismatch")

// TrapOutOfBoundsMemoryAccess indicates an out-of-bounds memory access.
var TrapOutOfBoundsMemoryAccess = Trap("out of bounds memory access")

// TrapOutOfBoundsTableAccess indicates an out-of-bounds table access.
var TrapOutOfBoundsTableAccess = Trap("out of bounds table access")

// TrapIntegerOverflow indicates an integer overflow.
var TrapIntegerOverflow = Trap("integer overflow")

// TrapInvalidConversionToInteger indicates an invalid conversion from a floating-point value to an
// integer.
var TrapInvalidConversionToInteger = Trap("invalid conversion to integer")

// TrapIntegerDivideByZero indicates an attempt to divide by zero.
var TrapIntegerDivideByZero = Trap("integer divide by zero")

// TrapCallStackExhausted indicates call stack exhaustion.
var TrapCallStackExhausted = Trap("call stack exhausted")

// TrapUnreachable indicates execution of unreachable code.
var TrapUnreachable = Trap("unreachable")

// A LinkError is returned when a module's imports cannot be resolved.
type LinkError string

func (e LinkError) Error() string {
	return "wasm link: " + string(e)
}

const (
	trapPrefix = "wasm trap: "
	linkPrefix = "wasm link: "
)

// translateError converts an error raised by the Lua runtime into a Trap or a LinkError if
// possible.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}

	switch {
	case strings.HasPrefix(msg, trapPrefix):
		return Trap(msg[len(trapPrefix):])
	case strings.HasPrefix(msg, linkPrefix):
		return LinkError(msg[len(linkPrefix):])
	case strings.Contains(msg, "stack overflow"), strings.Contains(msg, "registry overflow"):
		return TrapCallStackExhausted
	}
	return err
}

// translateRuntimeError translates between Go runtime errors raised by host functions and WASM
// traps.
func translateRuntimeError(err runtime.Error) (Trap, bool) {
	switch {
	case err == nil:
		return "", false
	case strings.HasPrefix(err.Error(), "runtime error: index out of range"):
		return TrapOutOfBoundsMemoryAccess, true
	case strings.HasPrefix(err.Error(), "runtime error: slice bounds out of range"):
		return TrapOutOfBoundsMemoryAccess, true
	case strings.HasPrefix(err.Error(), "runtime error: integer divide by zero"):
		return TrapIntegerDivideByZero, true
	default:
		return "", false
	}
}

// raise raises the given error inside the Lua runtime. Traps and link errors keep their
// prefixes so that they survive the trip back to the host.
func raise(l *lua.LState, err error) {
	var trap Trap
	var link LinkError
	switch {
	case errors.As(err, &trap):
		l.Error(lua.LString(trap.Error()), 0)
	case errors.As(err, &link):
		l.Error(lua.LString(link.Error()), 0)
	default:
		l.Error(lua.LString(err.Error()), 0)
	}
}
