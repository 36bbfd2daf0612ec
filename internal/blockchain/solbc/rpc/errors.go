// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"errors"
	"fmt"
)

// ErrNoEndpoints is returned when a chain is configured without any RPC URL.
var ErrNoEndpoints = errors.New("no RPC endpoints configured")

// Error is an RPC failure annotated with the node and method that produced it.
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(err error, nodeURL, method string) error {
	return &Error{
		Err:     err,
		NodeURL: nodeURL,
		Method:  method,
	}
}

// IsRPCError reports whether err came from the transport rather than from the
// operation itself (a failed swap, a rejected quote).
func IsRPCError(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr)
}
