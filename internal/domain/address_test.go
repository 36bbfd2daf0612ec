package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		kind    ChainKind
		addr    string
		wantErr bool
	}{
		{"evm ok", ChainKindEVM, "0x6B175474E89094C44Da98b954EedeAC495271d0F", false},
		{"evm short", ChainKindEVM, "0x1234", true},
		{"solana ok", ChainKindSolana, "So11111111111111111111111111111111111111112", false},
		{"solana garbage", ChainKindSolana, "not-a-key", true},
		{"unknown kind", ChainKind("cosmos"), "abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.kind, tt.addr)
			if tt.wantErr {
				var vErr *ValidationError
				assert.True(t, errors.As(err, &vErr))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPositionMath(t *testing.T) {
	p := &Position{EntryPrice: 1.0, HighPrice: 1.0, EntryTime: time.Unix(0, 0)}

	assert.InDelta(t, -15.0, p.ProfitPercent(0.85), 1e-9)
	assert.InDelta(t, 150.0, p.DrawdownPercent(0.40), 1e-9)
	assert.Equal(t, time.Hour, p.HoldTime(time.Unix(3600, 0)))
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0x6B17...1d0F", ShortAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"))
	assert.Equal(t, "abc", ShortAddress("abc"))
}
