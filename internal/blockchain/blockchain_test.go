package blockchain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitForConfirms(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), ConfirmOptions{Poll: time.Millisecond, Timeout: time.Second}, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 polls, got %d", calls)
	}
}

func TestWaitForTimeout(t *testing.T) {
	err := WaitFor(context.Background(), ConfirmOptions{Poll: time.Millisecond, Timeout: 20 * time.Millisecond}, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected ErrConfirmationTimeout, got %v", err)
	}
}

func TestWaitForCheckError(t *testing.T) {
	boom := errors.New("reverted")
	err := WaitFor(context.Background(), ConfirmOptions{Poll: time.Millisecond, Timeout: time.Second}, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected check error, got %v", err)
	}
}

type recordedCall struct {
	chain, method string
}

type recorder struct {
	calls []recordedCall
}

func (r *recorder) RecordRPCLatency(chain, method string, _ time.Duration) {
	r.calls = append(r.calls, recordedCall{chain, method})
}

func TestObserverRecords(t *testing.T) {
	var zero Observer
	zero.Since("eth_call", time.Now())

	r := &recorder{}
	o := Observer{Chain: "ethereum", Recorder: r}
	o.Since("eth_getBalance", time.Now())
	if len(r.calls) != 1 || r.calls[0] != (recordedCall{"ethereum", "eth_getBalance"}) {
		t.Fatalf("unexpected calls: %+v", r.calls)
	}
}
