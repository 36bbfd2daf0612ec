// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain"
	solrpc "github.com/rovshanmuradov/chaincrawlr/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/wallet"
)

const lamportsPerSOL = 1e9

// Client – thin adapter over solana-go bound to one RPC node and the primary wallet.
type Client struct {
	rpc      *rpc.Client
	endpoint string
	wallet   *wallet.SolanaWallet
	budget   BudgetConfig
	confirm  blockchain.ConfirmOptions
	observe  blockchain.Observer
	logger   *zap.Logger
}

// NewClient creates a client for rpcURL. wallet may be nil for read-only use.
func NewClient(rpcURL string, w *wallet.SolanaWallet, budget BudgetConfig, logger *zap.Logger) *Client {
	return &Client{
		rpc:      rpc.New(rpcURL),
		endpoint: rpcURL,
		wallet:   w,
		budget:   budget,
		confirm:  blockchain.DefaultConfirmOptions(),
		logger:   logger.Named("solbc-client"),
	}
}

// WithEndpoint returns a copy of the client talking to another node.
func (c *Client) WithEndpoint(rpcURL string) *Client {
	if rpcURL == "" || rpcURL == c.endpoint {
		return c
	}
	cp := *c
	cp.rpc = rpc.New(rpcURL)
	cp.endpoint = rpcURL
	return &cp
}

// WithObserver returns a copy that reports RPC latency to o.
func (c *Client) WithObserver(o blockchain.Observer) *Client {
	cp := *c
	cp.observe = o
	return &cp
}

// WithConfirmOptions overrides confirmation polling.
func (c *Client) WithConfirmOptions(opts blockchain.ConfirmOptions) *Client {
	cp := *c
	cp.confirm = opts
	return &cp
}

func (c *Client) Kind() domain.ChainKind {
	return domain.ChainKindSolana
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) Wallet() *wallet.SolanaWallet {
	return c.wallet
}

// Owner is the primary wallet's public key, or the zero key without a wallet.
func (c *Client) Owner() solana.PublicKey {
	if c.wallet == nil {
		return solana.PublicKey{}
	}
	return c.wallet.PublicKey
}

func (c *Client) wrap(err error, method string) error {
	if err == nil {
		return nil
	}
	return solrpc.NewError(err, c.endpoint, method)
}

// NativeBalance returns the SOL balance of owner.
func (c *Client) NativeBalance(ctx context.Context, owner string) (float64, error) {
	pubkey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return 0, fmt.Errorf("invalid owner: %w", err)
	}
	defer c.observe.Since("getBalance", time.Now())
	result, err := c.rpc.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		c.logger.Error("GetBalance error", zap.Error(err))
		return 0, c.wrap(err, "getBalance")
	}
	return float64(result.Value) / lamportsPerSOL, nil
}

// TokenDecimals reads the mint's decimals from its supply.
func (c *Client) TokenDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	defer c.observe.Since("getTokenSupply", time.Now())
	supply, err := c.rpc.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, c.wrap(err, "getTokenSupply")
	}
	if supply == nil || supply.Value == nil {
		return 0, fmt.Errorf("empty token supply for %s", mint)
	}
	return supply.Value.Decimals, nil
}

// TokenBalance returns owner's balance of mint in whole tokens. A missing
// token account counts as zero.
func (c *Client) TokenBalance(ctx context.Context, mint, owner solana.PublicKey) (float64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, err
	}
	defer c.observe.Since("getTokenAccountBalance", time.Now())
	res, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if IsAccountNotFoundError(err) {
			return 0, nil
		}
		return 0, c.wrap(err, "getTokenAccountBalance")
	}
	if res == nil || res.Value == nil || res.Value.UiAmount == nil {
		return 0, nil
	}
	return *res.Value.UiAmount, nil
}

// IsAccountNotFoundError reports whether err means the account does not exist.
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find account")
}

func (c *Client) RecentBlockhash(ctx context.Context) (solana.Hash, error) {
	defer c.observe.Since("getLatestBlockhash", time.Now())
	result, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		c.logger.Error("GetRecentBlockhash error", zap.Error(err))
		return solana.Hash{}, c.wrap(err, "getLatestBlockhash")
	}
	return result.Value.Blockhash, nil
}

// SendTransaction submits a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	defer c.observe.Since("sendTransaction", time.Now())
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		c.logger.Error("SendTransaction error", zap.Error(err))
		return solana.Signature{}, c.wrap(err, "sendTransaction")
	}
	return sig, nil
}

// WaitForConfirmation polls signature status until confirmed or finalized.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	return blockchain.WaitFor(ctx, c.confirm, func(ctx context.Context) (bool, error) {
		statuses, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			c.logger.Warn("Error getting signature statuses", zap.Error(err))
			return false, nil
		}
		if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
			return false, nil
		}
		status := statuses.Value[0]
		if status.Err != nil {
			return false, fmt.Errorf("%w: %v", blockchain.ErrTransactionFailed, status.Err)
		}
		return status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			status.ConfirmationStatus == rpc.ConfirmationStatusFinalized, nil
	})
}

// SignAndSend signs tx with the primary wallet, sends it and waits for confirmation.
func (c *Client) SignAndSend(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if c.wallet == nil {
		return solana.Signature{}, fmt.Errorf("solana wallet not configured")
	}
	if err := c.wallet.SignTransaction(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	sig, err := c.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}

	start := time.Now()
	if err := c.WaitForConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	c.logger.Debug("Transaction confirmed",
		zap.String("signature", sig.String()),
		zap.Duration("elapsed", time.Since(start)))
	return sig, nil
}

// TransferToken moves amount of mint token to recipient, creating the
// recipient's token account if needed.
func (c *Client) TransferToken(ctx context.Context, tokenMint, recipient string, amount float64, urgent bool) (string, error) {
	if c.wallet == nil {
		return "", fmt.Errorf("solana wallet not configured")
	}
	mint, err := solana.PublicKeyFromBase58(tokenMint)
	if err != nil {
		return "", fmt.Errorf("invalid mint: %w", err)
	}
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("invalid recipient: %w", err)
	}

	held, err := c.TokenBalance(ctx, mint, c.wallet.PublicKey)
	if err != nil {
		return "", err
	}
	if held < amount {
		c.logger.Warn("Transfer capped at held balance",
			zap.String("mint", domain.ShortAddress(tokenMint)),
			zap.Float64("requested", amount),
			zap.Float64("held", held))
		amount = held
	}

	decimals, err := c.TokenDecimals(ctx, mint)
	if err != nil {
		return "", err
	}
	raw := uint64(math.Floor(amount * math.Pow10(int(decimals))))
	if raw == 0 {
		return "", fmt.Errorf("transfer amount rounds to zero")
	}

	source, err := c.wallet.ATA(mint)
	if err != nil {
		return "", err
	}
	createATA, dest, err := wallet.CreateATAIdempotentInstruction(c.wallet.PublicKey, to, mint)
	if err != nil {
		return "", err
	}

	budget := c.budget
	if urgent {
		budget = budget.Urgent()
	}
	instructions, err := BuildBudgetInstructions(budget)
	if err != nil {
		return "", err
	}
	instructions = append(instructions,
		createATA,
		token.NewTransferCheckedInstruction(raw, decimals, source, mint, dest, c.wallet.PublicKey, nil).Build(),
	)

	blockhash, err := c.RecentBlockhash(ctx)
	if err != nil {
		return "", err
	}
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(c.wallet.PublicKey))
	if err != nil {
		return "", fmt.Errorf("failed to build transfer: %w", err)
	}

	sig, err := c.SignAndSend(ctx, tx)
	if err != nil {
		return sig.String(), err
	}
	c.logger.Info("Token transferred",
		zap.String("mint", domain.ShortAddress(tokenMint)),
		zap.String("recipient", domain.ShortAddress(recipient)),
		zap.Float64("amount", amount),
		zap.String("signature", sig.String()))
	return sig.String(), nil
}

var _ blockchain.Client = (*Client)(nil)
