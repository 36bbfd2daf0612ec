// internal/blockchain/blockchain.go
package blockchain

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

var (
	// ErrConfirmationTimeout is returned when a sent transaction is not
	// confirmed within the polling bound. Callers treat it as a failure.
	ErrConfirmationTimeout = errors.New("transaction confirmation timeout")

	// ErrTransactionFailed is returned when a transaction landed but reverted.
	ErrTransactionFailed = errors.New("transaction failed on chain")
)

const (
	DefaultConfirmPoll    = 2 * time.Second
	DefaultConfirmTimeout = 20 * time.Second
)

// Client is the chain RPC surface shared by the EVM and Solana clients.
type Client interface {
	Kind() domain.ChainKind
	// NativeBalance returns the balance of owner in whole native units (ETH, SOL).
	NativeBalance(ctx context.Context, owner string) (float64, error)
	// TransferToken sends amount whole tokens from the primary wallet to
	// recipient and waits for confirmation. urgent selects premium fees.
	TransferToken(ctx context.Context, token, recipient string, amount float64, urgent bool) (string, error)
}

// LatencyRecorder receives RPC round-trip times; *metrics.Collector satisfies it.
type LatencyRecorder interface {
	RecordRPCLatency(chain, method string, duration time.Duration)
}

// Observer times RPC calls for one chain. The zero value records nothing.
type Observer struct {
	Chain    string
	Recorder LatencyRecorder
}

// Since records the time elapsed since start under method.
func (o Observer) Since(method string, start time.Time) {
	if o.Recorder == nil {
		return
	}
	o.Recorder.RecordRPCLatency(o.Chain, method, time.Since(start))
}

// ConfirmOptions bounds confirmation polling.
type ConfirmOptions struct {
	Poll    time.Duration
	Timeout time.Duration
}

// DefaultConfirmOptions polls every 2s for up to 20s.
func DefaultConfirmOptions() ConfirmOptions {
	return ConfirmOptions{Poll: DefaultConfirmPoll, Timeout: DefaultConfirmTimeout}
}

// WaitFor calls check every opts.Poll until it reports done, returns an
// error, or opts.Timeout elapses.
func WaitFor(ctx context.Context, opts ConfirmOptions, check func(ctx context.Context) (bool, error)) error {
	if opts.Poll <= 0 {
		opts.Poll = DefaultConfirmPoll
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultConfirmTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.Poll)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrConfirmationTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
