// internal/domain/candidate.go
package domain

import (
	"time"
)

// ChainKind separates account-model EVM chains from Solana.
type ChainKind string

const (
	ChainKindEVM    ChainKind = "evm"
	ChainKindSolana ChainKind = "solana"
)

// Candidate is a token offered by the scanner for a single entry pass.
type Candidate struct {
	TokenAddress string        `json:"token_address"`
	Chain        string        `json:"chain"`
	Venue        string        `json:"dex"`
	LiquidityUSD float64       `json:"liquidity_usd"`
	Age          time.Duration `json:"age"`
	PairAddress  string        `json:"pair_address,omitempty"`
	// Volatility is optional; nil means no sizing adjustment.
	Volatility *float64 `json:"volatility,omitempty"`
}

// CheckVerdict is the outcome of one safety check.
type CheckVerdict struct {
	Check     string  `json:"check"`
	Passed    bool    `json:"passed"`
	Skipped   bool    `json:"skipped,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Observed  float64 `json:"observed,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}
