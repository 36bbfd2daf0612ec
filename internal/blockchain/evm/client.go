// internal/blockchain/evm/client.go
package evm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/wallet"
)

var (
	ether = new(big.Float).SetFloat64(1e18)

	// ErrNoBaseFee is returned on chains without EIP-1559 blocks.
	ErrNoBaseFee = errors.New("latest block has no base fee")
)

// GasConfig holds the fee knobs for one chain.
type GasConfig struct {
	Multiplier          float64
	PriorityFeeGwei     float64
	EmergencyMaxFeeGwei float64
	EmergencyTipGwei    float64
}

// Fees are EIP-1559 fee caps in wei.
type Fees struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Client wraps go-ethereum's ethclient for one chain and the primary wallet.
type Client struct {
	eth      *ethclient.Client
	endpoint string
	chainID  *big.Int
	wallet   *wallet.EVMWallet
	gas      GasConfig
	confirm  blockchain.ConfirmOptions
	observe  blockchain.Observer
	logger   *zap.Logger
}

// Dial connects to rpcURL. A zero chainID is read from the node.
func Dial(ctx context.Context, rpcURL string, chainID int64, w *wallet.EVMWallet, gas GasConfig, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}

	id := big.NewInt(chainID)
	if chainID == 0 {
		id, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("failed to read chain id: %w", err)
		}
	}

	return &Client{
		eth:      eth,
		endpoint: rpcURL,
		chainID:  id,
		wallet:   w,
		gas:      gas,
		confirm:  blockchain.DefaultConfirmOptions(),
		logger:   logger.Named("evm-client"),
	}, nil
}

// WithObserver returns a copy that reports RPC latency to o.
func (c *Client) WithObserver(o blockchain.Observer) *Client {
	cp := *c
	cp.observe = o
	return &cp
}

// WithConfirmOptions overrides receipt polling.
func (c *Client) WithConfirmOptions(opts blockchain.ConfirmOptions) *Client {
	cp := *c
	cp.confirm = opts
	return &cp
}

func (c *Client) Kind() domain.ChainKind {
	return domain.ChainKindEVM
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) Wallet() *wallet.EVMWallet {
	return c.wallet
}

// Address is the primary wallet address, or the zero address without a wallet.
func (c *Client) Address() common.Address {
	if c.wallet == nil {
		return common.Address{}
	}
	return c.wallet.Address
}

func (c *Client) Gas() GasConfig {
	return c.gas
}

func (c *Client) Close() {
	c.eth.Close()
}

// NativeBalance returns owner's balance in ether.
func (c *Client) NativeBalance(ctx context.Context, owner string) (float64, error) {
	if !common.IsHexAddress(owner) {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidAddress, owner)
	}
	defer c.observe.Since("eth_getBalance", time.Now())
	wei, err := c.eth.BalanceAt(ctx, common.HexToAddress(owner), nil)
	if err != nil {
		return 0, fmt.Errorf("eth_getBalance: %w", err)
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), ether).Float64()
	return f, nil
}

// Code returns the deployed bytecode at addr.
func (c *Client) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	defer c.observe.Since("eth_getCode", time.Now())
	code, err := c.eth.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_getCode: %w", err)
	}
	return code, nil
}

// Call performs a read-only contract call at the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	defer c.observe.Since("eth_call", time.Now())
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call: %w", err)
	}
	return out, nil
}

// FeeParams returns baseFee*multiplier + tip. The tip is the configured
// priority fee, or the node's suggestion when none is configured.
func (c *Client) FeeParams(ctx context.Context, multiplier float64) (Fees, error) {
	defer c.observe.Since("fee_params", time.Now())
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return Fees{}, fmt.Errorf("failed to fetch latest header: %w", err)
	}
	if header.BaseFee == nil {
		return Fees{}, ErrNoBaseFee
	}

	var tip *big.Int
	if c.gas.PriorityFeeGwei > 0 {
		tip = GweiToWei(c.gas.PriorityFeeGwei)
	} else {
		tip, err = c.eth.SuggestGasTipCap(ctx)
		if err != nil {
			return Fees{}, fmt.Errorf("failed to suggest tip: %w", err)
		}
	}
	return ComputeFees(header.BaseFee, tip, multiplier), nil
}

// EmergencyFees returns the fixed premium fees for emergency exits.
func (c *Client) EmergencyFees() Fees {
	return Fees{
		MaxFeePerGas:         GweiToWei(c.gas.EmergencyMaxFeeGwei),
		MaxPriorityFeePerGas: GweiToWei(c.gas.EmergencyTipGwei),
	}
}

// ComputeFees applies the EIP-1559 formula maxFee = baseFee*multiplier + tip.
// The multiplier is applied in thousandths.
func ComputeFees(baseFee, tip *big.Int, multiplier float64) Fees {
	if multiplier <= 0 {
		multiplier = 1
	}
	permille := big.NewInt(int64(math.Round(multiplier * 1000)))
	scaled := new(big.Int).Mul(baseFee, permille)
	scaled.Quo(scaled, big.NewInt(1000))
	return Fees{
		MaxFeePerGas:         new(big.Int).Add(scaled, tip),
		MaxPriorityFeePerGas: new(big.Int).Set(tip),
	}
}

// GweiToWei converts a gwei amount to wei.
func GweiToWei(v float64) *big.Int {
	return big.NewInt(int64(math.Round(v * 1e9)))
}

// ToBaseUnits converts a whole-token amount to integer units.
func ToBaseUnits(amount float64, decimals uint8) *big.Int {
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	v, _ := new(big.Float).Mul(big.NewFloat(amount), scale).Int(nil)
	return v
}

// FromBaseUnits converts integer units to a whole-token amount.
func FromBaseUnits(v *big.Int, decimals uint8) float64 {
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), scale).Float64()
	return f
}

// SendTx signs and submits a dynamic-fee transaction from the primary wallet.
// A zero gasLimit is estimated.
func (c *Client) SendTx(ctx context.Context, to common.Address, value *big.Int, data []byte, fees Fees, gasLimit uint64) (common.Hash, error) {
	if c.wallet == nil {
		return common.Hash{}, errors.New("evm wallet not configured")
	}
	if value == nil {
		value = new(big.Int)
	}
	from := c.wallet.Address

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	if gasLimit == 0 {
		gasLimit, err = c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:      from,
			To:        &to,
			Value:     value,
			Data:      data,
			GasFeeCap: fees.MaxFeePerGas,
			GasTipCap: fees.MaxPriorityFeePerGas,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: fees.MaxPriorityFeePerGas,
		GasFeeCap: fees.MaxFeePerGas,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.wallet.PrivateKey())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	start := time.Now()
	err = c.eth.SendTransaction(ctx, signed)
	c.observe.Since("eth_sendRawTransaction", start)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Debug("Transaction sent",
		zap.String("hash", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gasLimit))
	return signed.Hash(), nil
}

// WaitMined polls for the receipt of hash until it lands or the confirm bound
// elapses. A reverted transaction returns ErrTransactionFailed.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := blockchain.WaitFor(ctx, c.confirm, func(ctx context.Context) (bool, error) {
		r, err := c.eth.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		if err != nil {
			c.logger.Warn("Error fetching receipt", zap.String("hash", hash.Hex()), zap.Error(err))
			return false, nil
		}
		receipt = r
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", blockchain.ErrTransactionFailed, hash.Hex())
	}
	return receipt, nil
}

// SendAndConfirm is SendTx followed by WaitMined. It returns the effective
// cost in ether alongside the hash.
func (c *Client) SendAndConfirm(ctx context.Context, to common.Address, value *big.Int, data []byte, fees Fees, gasLimit uint64) (common.Hash, float64, error) {
	hash, err := c.SendTx(ctx, to, value, data, fees, gasLimit)
	if err != nil {
		return common.Hash{}, 0, err
	}
	receipt, err := c.WaitMined(ctx, hash)
	if err != nil {
		return hash, 0, err
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receiptPrice(receipt, fees))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(cost), ether).Float64()
	return hash, f, nil
}

func receiptPrice(r *types.Receipt, fees Fees) *big.Int {
	if r.EffectiveGasPrice != nil {
		return r.EffectiveGasPrice
	}
	return fees.MaxFeePerGas
}

var _ blockchain.Client = (*Client)(nil)
