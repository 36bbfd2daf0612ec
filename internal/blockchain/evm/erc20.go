// internal/blockchain/evm/erc20.go
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"owner","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// TransferGasLimit is the fixed gas limit for fallback token transfers.
const TransferGasLimit uint64 = 100_000

// ERC20ABI is the parsed subset of the ERC-20 interface used here.
var ERC20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.Call(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return values, nil
}

// Owner reads owner() from an Ownable contract.
func (c *Client) Owner(ctx context.Context, token common.Address) (common.Address, error) {
	values, err := c.call(ctx, ERC20ABI, token, "owner")
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("owner: unexpected type %T", values[0])
	}
	return owner, nil
}

func (c *Client) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "balanceOf", holder)
}

func (c *Client) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "totalSupply")
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "allowance", owner, spender)
}

func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	values, err := c.call(ctx, ERC20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", values[0])
	}
	return d, nil
}

func (c *Client) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	values, err := c.call(ctx, ERC20ABI, token, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, values[0])
	}
	return v, nil
}

// EnsureAllowance approves spender for amount when the current allowance is lower.
func (c *Client) EnsureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int, fees Fees) error {
	current, err := c.Allowance(ctx, token, c.wallet.Address, spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	data, err := ERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	if _, _, err := c.SendAndConfirm(ctx, token, nil, data, fees, 0); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	return nil
}

// TransferToken sends amount whole tokens to recipient with ERC-20 transfer.
// urgent uses the fixed emergency fees.
func (c *Client) TransferToken(ctx context.Context, tokenAddr, recipient string, amount float64, urgent bool) (string, error) {
	if !common.IsHexAddress(tokenAddr) || !common.IsHexAddress(recipient) {
		return "", fmt.Errorf("%w: transfer %s to %s", domain.ErrInvalidAddress, tokenAddr, recipient)
	}
	token := common.HexToAddress(tokenAddr)
	to := common.HexToAddress(recipient)

	decimals, err := c.Decimals(ctx, token)
	if err != nil {
		return "", err
	}
	data, err := ERC20ABI.Pack("transfer", to, ToBaseUnits(amount, decimals))
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}

	fees := c.EmergencyFees()
	if !urgent {
		fees, err = c.FeeParams(ctx, c.gas.Multiplier)
		if err != nil {
			return "", err
		}
	}

	hash, _, err := c.SendAndConfirm(ctx, token, nil, data, fees, TransferGasLimit)
	if err != nil {
		return hash.Hex(), err
	}
	c.logger.Info("Token transferred",
		zap.String("token", domain.ShortAddress(tokenAddr)),
		zap.String("recipient", domain.ShortAddress(recipient)),
		zap.Float64("amount", amount),
		zap.String("tx", hash.Hex()))
	return hash.Hex(), nil
}
