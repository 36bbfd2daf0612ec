// internal/bot/shutdown_test.go
package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func TestShutdownClosesInReverseOrder(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop())
	var order []string
	for _, name := range []string{"store", "journal", "notifier"} {
		name := name
		sh.AddFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Equal(t, []string{"notifier", "journal", "store"}, order)
}

func TestShutdownCollectsErrors(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop())
	errStore := errors.New("store close failed")
	errArchive := errors.New("archive close failed")
	closedLast := false

	sh.AddFunc("last", func() error {
		closedLast = true
		return nil
	})
	sh.AddFunc("store", func() error { return errStore })
	sh.AddFunc("archive", func() error { return errArchive })

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errStore)
	assert.ErrorIs(t, err, errArchive)
	assert.Len(t, multierr.Errors(err), 2)
	assert.True(t, closedLast, "a failing service must not stop the rest")
}

func TestShutdownTimeout(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop())
	release := make(chan struct{})
	defer close(release)
	sh.AddFunc("stuck", func() error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sh.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "stuck")
}

func TestShutdownRunsOnce(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop())
	calls := 0
	sh.AddFunc("svc", func() error {
		calls++
		return nil
	})

	require.NoError(t, sh.Shutdown(context.Background()))
	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}
