// internal/domain/address.go
package domain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

var ErrInvalidAddress = errors.New("invalid address")

// ValidationError reports malformed input rejected before any network call.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidateAddress checks that addr is well formed for the chain kind.
func ValidateAddress(kind ChainKind, addr string) error {
	switch kind {
	case ChainKindEVM:
		if !common.IsHexAddress(addr) {
			return &ValidationError{Field: "address", Value: addr, Err: ErrInvalidAddress}
		}
	case ChainKindSolana:
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return &ValidationError{Field: "address", Value: addr, Err: fmt.Errorf("%w: %v", ErrInvalidAddress, err)}
		}
	default:
		return &ValidationError{Field: "chain kind", Value: string(kind), Err: errors.New("unsupported chain kind")}
	}
	return nil
}

// ValidateCandidate rejects candidates with malformed fields.
func ValidateCandidate(kind ChainKind, c Candidate) error {
	if c.Chain == "" {
		return &ValidationError{Field: "chain", Value: c.Chain, Err: errors.New("empty chain")}
	}
	if c.Venue == "" {
		return &ValidationError{Field: "dex", Value: c.Venue, Err: errors.New("empty venue")}
	}
	return ValidateAddress(kind, c.TokenAddress)
}

// ShortAddress abbreviates an address for log output.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
