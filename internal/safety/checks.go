// internal/safety/checks.go
package safety

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

// Check names, in evaluation order.
const (
	CheckVerification  = "verification"
	CheckHoneypot      = "honeypot"
	CheckRenounced     = "renounced"
	CheckDevHolding    = "dev_holding"
	CheckHolderCount   = "holder_count"
	CheckLiquidityLock = "liquidity_lock"
)

// Order is the fixed evaluation order.
var Order = []string{
	CheckVerification,
	CheckHoneypot,
	CheckRenounced,
	CheckDevHolding,
	CheckHolderCount,
	CheckLiquidityLock,
}

// volatile checks read state that can change within seconds.
var volatile = map[string]bool{
	CheckHoneypot:      true,
	CheckDevHolding:    true,
	CheckHolderCount:   true,
	CheckLiquidityLock: true,
}

var (
	nullAddress = common.HexToAddress("0x0000000000000000000000000000000000000000")
	deadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	burnAddrs   = []common.Address{nullAddress, deadAddress}
)

func isBurnAddress(a common.Address) bool {
	return a == nullAddress || a == deadAddress
}

// ContractReader is the slice of the EVM client the checks need.
type ContractReader interface {
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	Owner(ctx context.Context, token common.Address) (common.Address, error)
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
}

// ChainContext describes where the token lives.
type ChainContext struct {
	Name        string
	Kind        domain.ChainKind
	ChainID     int64
	ExplorerURL string
	// Reader is nil on chains without EVM contract reads.
	Reader ContractReader
}

func (c ChainContext) evm() bool {
	return c.Kind == domain.ChainKindEVM && c.Reader != nil
}

type checkFunc func(ctx context.Context, token string, chain ChainContext) (domain.CheckVerdict, error)

func pass(check, reason string) domain.CheckVerdict {
	return domain.CheckVerdict{Check: check, Passed: true, Reason: reason}
}

func skip(check, reason string) domain.CheckVerdict {
	return domain.CheckVerdict{Check: check, Passed: true, Skipped: true, Reason: reason}
}

func fail(check, reason string) domain.CheckVerdict {
	return domain.CheckVerdict{Check: check, Reason: reason}
}

func (v *Validator) checkVerification(ctx context.Context, token string, chain ChainContext) (domain.CheckVerdict, error) {
	if !chain.evm() {
		return skip(CheckVerification, "unsupported chain"), nil
	}
	code, err := chain.Reader.Code(ctx, common.HexToAddress(token))
	if err != nil {
		return domain.CheckVerdict{}, err
	}
	if len(code) == 0 {
		return fail(CheckVerification, "no contract code"), nil
	}
	return pass(CheckVerification, "contract code present"), nil
}

func (v *Validator) checkHoneypot(ctx context.Context, token string, chain ChainContext) (domain.CheckVerdict, error) {
	if !v.honeypot.HasCredential() {
		return v.missingCredential(CheckHoneypot, token), nil
	}
	if chain.Kind != domain.ChainKindEVM {
		return skip(CheckHoneypot, "unsupported chain"), nil
	}
	flagged, details, err := v.honeypot.Check(ctx, token, chain.ChainID)
	if err != nil {
		return domain.CheckVerdict{}, err
	}
	if flagged {
		return fail(CheckHoneypot, "flagged as honeypot: "+details), nil
	}
	return pass(CheckHoneypot, "not a honeypot"), nil
}

func (v *Validator) checkRenounced(ctx context.Context, token string, chain ChainContext) (domain.CheckVerdict, error) {
	if !chain.evm() {
		return skip(CheckRenounced, "unsupported chain"), nil
	}
	owner, err := chain.Reader.Owner(ctx, common.HexToAddress(token))
	if err != nil {
		return domain.CheckVerdict{}, err
	}
	if !isBurnAddress(owner) {
		return fail(CheckRenounced, "owner not renounced: "+domain.ShortAddress(owner.Hex())), nil
	}
	return pass(CheckRenounced, "ownership renounced"), nil
}

func (v *Validator) checkDevHolding(ctx context.Context, token string, chain ChainContext) (domain.CheckVerdict, error) {
	if !chain.evm() {
		return skip(CheckDevHolding, "unsupported chain"), nil
	}
	addr := common.HexToAddress(token)
	supply, err := chain.Reader.TotalSupply(ctx, addr)
	if err != nil {
		return domain.CheckVerdict{}, err
	}
	owner, err := chain.Reader.Owner(ctx, addr)
	if err != nil {
		return domain.CheckVerdict{}, err
	}
	balance, err := chain.Reader.BalanceOf(ctx, addr, owner)
	if err != nil {
		return domain.CheckVerdict{}, err
	}
	if supply.Sign() == 0 {
		return fail(CheckDevHolding, ErrZeroSupply.Error()), nil
	}

	share := ratio(balance, supply)
	verdict := domain.CheckVerdict{
		Check:     CheckDevHolding,
		Observed:  share,
		Threshold: v.cfg.MaxDevOwnership,
		Passed:    share <= v.cfg.MaxDevOwnership,
	}
	if verdict.Passed {
		verdict.Reason = fmt.Sprintf("dev holds %.2f%% of supply", share*100)
	} else {
		verdict.Reason = fmt.Sprintf("dev holds %.2f%% of supply, limit %.2f%%", share*100, v.cfg.MaxDevOwnership*100)
	}
	return verdict, nil
}

func (v *Validator) checkHolderCount(ctx context.Context, token string, chain ChainContext) (domain.CheckVerdict, error) {
	if !v.explorer.HasCredential() {
		return v.missingCredential(CheckHolderCount, token), nil
	}
	if chain.Kind != domain.ChainKindEVM || chain.ExplorerURL == "" {
		return skip(CheckHolderCount, "unsupported chain"), nil
	}

	required := v.cfg.MinHolderCount
	count, err := v.explorer.HolderCount(ctx, chain.ExplorerURL, token, required)
	var invalid *errInvalidResponse
	if errors.As(err, &invalid) {
		return domain.CheckVerdict{Check: CheckHolderCount, Threshold: float64(required), Reason: invalid.Error()}, nil
	}
	if err != nil {
		return domain.CheckVerdict{}, err
	}
	return domain.CheckVerdict{
		Check:     CheckHolderCount,
		Passed:    count >= required,
		Observed:  float64(count),
		Threshold: float64(required),
		Reason:    fmt.Sprintf("%d holders, required %d", count, required),
	}, nil
}

func (v *Validator) checkLiquidityLock(ctx context.Context, token string, chain ChainContext) (domain.CheckVerdict, error) {
	lp := v.lpToken(token)
	if lp == "" || !common.IsHexAddress(lp) {
		return skip(CheckLiquidityLock, "no LP token configured"), nil
	}
	if !chain.evm() {
		return skip(CheckLiquidityLock, "unsupported chain"), nil
	}

	lpAddr := common.HexToAddress(lp)
	supply, err := chain.Reader.TotalSupply(ctx, lpAddr)
	if err != nil {
		return domain.CheckVerdict{}, err
	}
	if supply.Sign() == 0 {
		return fail(CheckLiquidityLock, "LP "+ErrZeroSupply.Error()), nil
	}

	locked := new(big.Int)
	for _, holder := range burnAddrs {
		bal, err := chain.Reader.BalanceOf(ctx, lpAddr, holder)
		if err != nil {
			return domain.CheckVerdict{}, err
		}
		locked.Add(locked, bal)
	}

	share := ratio(locked, supply)
	return domain.CheckVerdict{
		Check:     CheckLiquidityLock,
		Passed:    share >= v.cfg.MinLockedLiquidity,
		Observed:  share,
		Threshold: v.cfg.MinLockedLiquidity,
		Reason:    fmt.Sprintf("%.2f%% locked, required %.2f%%", share*100, v.cfg.MinLockedLiquidity*100),
	}, nil
}

// lpToken finds the configured LP token for token. Keys are matched
// case-insensitively because viper lowercases map keys.
func (v *Validator) lpToken(token string) string {
	if lp, ok := v.cfg.LPTokens[token]; ok {
		return lp
	}
	for k, lp := range v.cfg.LPTokens {
		if strings.EqualFold(k, token) {
			return lp
		}
	}
	return ""
}

func ratio(num, den *big.Int) float64 {
	r, _ := new(big.Rat).SetFrac(num, den).Float64()
	return r
}
