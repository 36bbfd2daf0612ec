// internal/dex/uniswap.go
package dex

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain/evm"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

const (
	uniswapDeadline     = 30 * time.Minute
	uniswapSwapGasLimit = 300_000
	DefaultFeeTier      = 3000
)

const quoterV2ABIJSON = `[{"inputs":[{"components":[
	{"name":"tokenIn","type":"address"},
	{"name":"tokenOut","type":"address"},
	{"name":"amountIn","type":"uint256"},
	{"name":"fee","type":"uint24"},
	{"name":"sqrtPriceLimitX96","type":"uint160"}],
	"name":"params","type":"tuple"}],
	"name":"quoteExactInputSingle",
	"outputs":[
	{"name":"amountOut","type":"uint256"},
	{"name":"sqrtPriceX96After","type":"uint160"},
	{"name":"initializedTicksCrossed","type":"uint32"},
	{"name":"gasEstimate","type":"uint256"}],
	"stateMutability":"nonpayable","type":"function"}]`

const swapRouterABIJSON = `[{"inputs":[{"components":[
	{"name":"tokenIn","type":"address"},
	{"name":"tokenOut","type":"address"},
	{"name":"fee","type":"uint24"},
	{"name":"recipient","type":"address"},
	{"name":"deadline","type":"uint256"},
	{"name":"amountIn","type":"uint256"},
	{"name":"amountOutMinimum","type":"uint256"},
	{"name":"sqrtPriceLimitX96","type":"uint160"}],
	"name":"params","type":"tuple"}],
	"name":"exactInputSingle",
	"outputs":[{"name":"amountOut","type":"uint256"}],
	"stateMutability":"payable","type":"function"}]`

const uniswapPoolABIJSON = `[
	{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],
	 "name":"getPool","outputs":[{"name":"pool","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"liquidity","outputs":[{"name":"","type":"uint128"}],"stateMutability":"view","type":"function"}
]`

var (
	quoterV2ABI    = mustABI(quoterV2ABIJSON)
	swapRouterABI  = mustABI(swapRouterABIJSON)
	uniswapPoolABI = mustABI(uniswapPoolABIJSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

type quoteParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// EVMChain is what the Uniswap venue needs from the chain client.
type EVMChain interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	Address() common.Address
	EnsureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int, fees evm.Fees) error
	SendAndConfirm(ctx context.Context, to common.Address, value *big.Int, data []byte, fees evm.Fees, gasLimit uint64) (common.Hash, float64, error)
}

// UniswapConfig holds the contract addresses for one chain.
type UniswapConfig struct {
	Router        string
	Quoter        string
	Factory       string
	WrappedNative string
	FeeTier       uint32
}

// Uniswap is the Uniswap v3 venue.
type Uniswap struct {
	chain   EVMChain
	router  common.Address
	quoter  common.Address
	factory common.Address
	weth    common.Address
	feeTier uint32
	now     func() time.Time
	logger  *zap.Logger
}

func NewUniswap(chain EVMChain, cfg UniswapConfig, logger *zap.Logger) (*Uniswap, error) {
	for name, addr := range map[string]string{
		"router":         cfg.Router,
		"quoter":         cfg.Quoter,
		"factory":        cfg.Factory,
		"wrapped_native": cfg.WrappedNative,
	} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("uniswap %s: %w: %q", name, domain.ErrInvalidAddress, addr)
		}
	}
	fee := cfg.FeeTier
	if fee == 0 {
		fee = DefaultFeeTier
	}
	return &Uniswap{
		chain:   chain,
		router:  common.HexToAddress(cfg.Router),
		quoter:  common.HexToAddress(cfg.Quoter),
		factory: common.HexToAddress(cfg.Factory),
		weth:    common.HexToAddress(cfg.WrappedNative),
		feeTier: fee,
		now:     time.Now,
		logger:  logger.Named("uniswap"),
	}, nil
}

func (u *Uniswap) Name() string {
	return "uniswap"
}

func (u *Uniswap) decimals(ctx context.Context, token common.Address) (uint8, error) {
	if token == u.weth {
		return 18, nil
	}
	return u.chain.Decimals(ctx, token)
}

func (u *Uniswap) quoteRaw(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	data, err := quoterV2ABI.Pack("quoteExactInputSingle", quoteParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(int64(u.feeTier)),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("pack quote: %w", err)
	}
	out, err := u.chain.Call(ctx, u.quoter, data)
	if err != nil {
		return nil, fmt.Errorf("quoteExactInputSingle: %w", err)
	}
	values, err := quoterV2ABI.Unpack("quoteExactInputSingle", out)
	if err != nil || len(values) == 0 {
		return nil, fmt.Errorf("unpack quote: %w", err)
	}
	amountOut, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack quote: unexpected type %T", values[0])
	}
	return amountOut, nil
}

func (u *Uniswap) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (float64, error) {
	if !common.IsHexAddress(tokenIn) || !common.IsHexAddress(tokenOut) {
		return 0, fmt.Errorf("%w: %s/%s", domain.ErrInvalidAddress, tokenIn, tokenOut)
	}
	in, out := common.HexToAddress(tokenIn), common.HexToAddress(tokenOut)

	inDec, err := u.decimals(ctx, in)
	if err != nil {
		return 0, err
	}
	outDec, err := u.decimals(ctx, out)
	if err != nil {
		return 0, err
	}

	raw, err := u.quoteRaw(ctx, in, out, evm.ToBaseUnits(amountIn, inDec))
	if err != nil {
		return 0, err
	}
	return evm.FromBaseUnits(raw, outDec), nil
}

// Swap sends exactInputSingle. Native input is passed as value and wrapped by
// the router; token input is approved first.
func (u *Uniswap) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	if !common.IsHexAddress(req.TokenIn) || !common.IsHexAddress(req.TokenOut) {
		return failed("", fmt.Errorf("%w: %s/%s", domain.ErrInvalidAddress, req.TokenIn, req.TokenOut))
	}
	if req.Fees.EVM == nil {
		return failed("", fmt.Errorf("uniswap swap requires EVM fee params"))
	}
	fees := *req.Fees.EVM
	in, out := common.HexToAddress(req.TokenIn), common.HexToAddress(req.TokenOut)

	inDec, err := u.decimals(ctx, in)
	if err != nil {
		return failed("", err)
	}
	outDec, err := u.decimals(ctx, out)
	if err != nil {
		return failed("", err)
	}
	amountIn := evm.ToBaseUnits(req.AmountIn, inDec)

	minOutRaw := evm.ToBaseUnits(req.MinOut, outDec)
	if req.MinOut <= 0 {
		quoted, err := u.quoteRaw(ctx, in, out, amountIn)
		if err != nil {
			return failed("", fmt.Errorf("%w: %v", ErrSwapFailed, err))
		}
		minOutRaw = evm.ToBaseUnits(minOut(evm.FromBaseUnits(quoted, outDec), req.Slippage), outDec)
	}

	value := new(big.Int)
	if in == u.weth {
		value = amountIn
	} else if err := u.chain.EnsureAllowance(ctx, in, u.router, amountIn, fees); err != nil {
		return failed("", fmt.Errorf("%w: %v", ErrSwapFailed, err))
	}

	data, err := swapRouterABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           in,
		TokenOut:          out,
		Fee:               big.NewInt(int64(u.feeTier)),
		Recipient:         u.chain.Address(),
		Deadline:          big.NewInt(u.now().Add(uniswapDeadline).Unix()),
		AmountIn:          amountIn,
		AmountOutMinimum:  minOutRaw,
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return failed("", fmt.Errorf("pack exactInputSingle: %w", err))
	}

	hash, cost, err := u.chain.SendAndConfirm(ctx, u.router, value, data, fees, uniswapSwapGasLimit)
	if err != nil {
		ref := ""
		if hash != (common.Hash{}) {
			ref = hash.Hex()
		}
		u.logger.Warn("Uniswap swap failed",
			zap.String("token_in", domain.ShortAddress(req.TokenIn)),
			zap.String("token_out", domain.ShortAddress(req.TokenOut)),
			zap.Error(err))
		return failed(ref, fmt.Errorf("%w: %v", ErrSwapFailed, err))
	}

	u.logger.Info("Uniswap swap confirmed",
		zap.String("token_in", domain.ShortAddress(req.TokenIn)),
		zap.String("token_out", domain.ShortAddress(req.TokenOut)),
		zap.Float64("amount_in", req.AmountIn),
		zap.Float64("gas_cost", cost),
		zap.String("tx_hash", hash.Hex()))
	return &SwapResult{Status: StatusConfirmed, TxRef: hash.Hex(), Cost: cost}, nil
}

// PoolLiquidity returns the in-range liquidity of the token/wrapped-native
// pool at fee tier pool (the configured tier when empty).
func (u *Uniswap) PoolLiquidity(ctx context.Context, token, pool string) (float64, error) {
	if !common.IsHexAddress(token) {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidAddress, token)
	}
	fee := uint64(u.feeTier)
	if pool != "" {
		parsed, err := strconv.ParseUint(pool, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid fee tier %q: %w", pool, err)
		}
		fee = parsed
	}

	data, err := uniswapPoolABI.Pack("getPool", common.HexToAddress(token), u.weth, new(big.Int).SetUint64(fee))
	if err != nil {
		return 0, err
	}
	out, err := u.chain.Call(ctx, u.factory, data)
	if err != nil {
		return 0, fmt.Errorf("getPool: %w", err)
	}
	values, err := uniswapPoolABI.Unpack("getPool", out)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("unpack getPool: %w", err)
	}
	poolAddr, _ := values[0].(common.Address)
	if poolAddr == (common.Address{}) {
		return 0, fmt.Errorf("%w: %s fee %d", ErrNoRoute, token, fee)
	}

	data, err = uniswapPoolABI.Pack("liquidity")
	if err != nil {
		return 0, err
	}
	out, err = u.chain.Call(ctx, poolAddr, data)
	if err != nil {
		return 0, fmt.Errorf("liquidity: %w", err)
	}
	values, err = uniswapPoolABI.Unpack("liquidity", out)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("unpack liquidity: %w", err)
	}
	liq, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unpack liquidity: unexpected type %T", values[0])
	}
	return evm.FromBaseUnits(liq, 18), nil
}
