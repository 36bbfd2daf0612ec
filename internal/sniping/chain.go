// internal/sniping/chain.go
package sniping

import (
	"context"
	"strings"

	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain"
	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain/evm"
	solrpc "github.com/rovshanmuradov/chaincrawlr/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/safety"
)

// FeeSource computes EIP-1559 fees. *evm.Client implements it.
type FeeSource interface {
	FeeParams(ctx context.Context, multiplier float64) (evm.Fees, error)
	EmergencyFees() evm.Fees
}

// Chain is everything entry and exit need to trade on one configured chain.
type Chain struct {
	Config config.ChainConfig
	Client blockchain.Client
	// Owner is the primary wallet address on this chain.
	Owner string
	// Fees is set on EVM chains only.
	Fees FeeSource
	// Endpoints is set on Solana chains only.
	Endpoints *solrpc.Endpoints
	Safety    safety.ChainContext
	// Fallback receives tokens when an emergency sale is impossible.
	Fallback string
}

func (c *Chain) Name() string {
	return c.Config.Name
}

func (c *Chain) Kind() domain.ChainKind {
	return c.Config.Kind
}

// Chains indexes chains by lowercase name.
type Chains map[string]*Chain

func NewChains(list ...*Chain) Chains {
	cs := make(Chains, len(list))
	for _, c := range list {
		cs[strings.ToLower(c.Name())] = c
	}
	return cs
}

func (cs Chains) Get(name string) (*Chain, bool) {
	c, ok := cs[strings.ToLower(name)]
	return c, ok
}
