package capability

import (
	"errors"
	"fmt"

	"github.com/marmos91/grainweb/internal/protocol/rpc"
)

// ExceptionType classifies an RPC failure.
type ExceptionType uint32

const (
	Failed        = ExceptionType(rpc.ExceptionFailed)
	Overloaded    = ExceptionType(rpc.ExceptionOverloaded)
	Disconnected  = ExceptionType(rpc.ExceptionDisconnected)
	Unimplemented = ExceptionType(rpc.ExceptionUnimplemented)
)

func (t ExceptionType) String() string {
	switch t {
	case Failed:
		return "failed"
	case Overloaded:
		return "overloaded"
	case Disconnected:
		return "disconnected"
	case Unimplemented:
		return "unimplemented"
	default:
		return fmt.Sprintf("exception(%d)", uint32(t))
	}
}

// Exception is an error that crosses the connection as an RPC exception.
type Exception struct {
	Type   ExceptionType
	Reason string
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

// Errorf returns a Failed exception with a formatted reason.
func Errorf(format string, args ...any) *Exception {
	return &Exception{Type: Failed, Reason: fmt.Sprintf(format, args...)}
}

// MethodUnimplemented returns the exception for a method a server does not
// handle.
func MethodUnimplemented(m Method) *Exception {
	return &Exception{
		Type:   Unimplemented,
		Reason: fmt.Sprintf("method not implemented: %s", m),
	}
}

// ToException converts any error to an exception. Errors that are not
// already exceptions become Failed with the error text as reason.
func ToException(err error) *Exception {
	var e *Exception
	if errors.As(err, &e) {
		return e
	}
	return &Exception{Type: Failed, Reason: err.Error()}
}

func (e *Exception) toWire() rpc.Exception {
	return rpc.Exception{Type: uint32(e.Type), Reason: e.Reason}
}

func exceptionFromWire(w rpc.Exception) *Exception {
	return &Exception{Type: ExceptionType(w.Type), Reason: w.Reason}
}
