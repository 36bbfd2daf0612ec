// internal/safety/errors.go
package safety

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("api credential not configured")
	ErrZeroSupply        = errors.New("total supply is zero")
)

// CheckError carries the name of the check whose remote call failed.
type CheckError struct {
	Check string
	Err   error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("safety check %s: %v", e.Check, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}
