package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers JSON-RPC calls from a method table.
func fakeNode(t *testing.T, handlers map[string]func(params []json.RawMessage) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h, ok := handlers[req.Method]
		if !ok {
			t.Errorf("unexpected method %s", req.Method)
			http.Error(w, "unknown method", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  h(req.Params),
		})
	}))
}

func dialFake(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), srv.URL, 1, nil, GasConfig{Multiplier: 1.3, EmergencyMaxFeeGwei: 200, EmergencyTipGwei: 5}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNativeBalance(t *testing.T) {
	srv := fakeNode(t, map[string]func([]json.RawMessage) interface{}{
		"eth_getBalance": func([]json.RawMessage) interface{} {
			return hexutil.EncodeBig(big.NewInt(1_500_000_000_000_000_000))
		},
	})
	defer srv.Close()

	bal, err := dialFake(t, srv).NativeBalance(context.Background(), "0x000000000000000000000000000000000000dEaD")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, bal, 1e-12)
}

func TestNativeBalanceRejectsBadAddress(t *testing.T) {
	srv := fakeNode(t, nil)
	defer srv.Close()

	_, err := dialFake(t, srv).NativeBalance(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestERC20Reads(t *testing.T) {
	owner := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	supply := big.NewInt(1_000_000)

	srv := fakeNode(t, map[string]func([]json.RawMessage) interface{}{
		"eth_call": func(params []json.RawMessage) interface{} {
			var msg struct {
				Input hexutil.Bytes `json:"input"`
				Data  hexutil.Bytes `json:"data"`
			}
			require.NoError(t, json.Unmarshal(params[0], &msg))
			input := msg.Input
			if len(input) == 0 {
				input = msg.Data
			}
			method, err := ERC20ABI.MethodById(input[:4])
			require.NoError(t, err)

			var out []byte
			switch method.Name {
			case "owner":
				out, err = method.Outputs.Pack(owner)
			case "totalSupply":
				out, err = method.Outputs.Pack(supply)
			case "balanceOf":
				out, err = method.Outputs.Pack(big.NewInt(50_000))
			case "decimals":
				out, err = method.Outputs.Pack(uint8(18))
			}
			require.NoError(t, err)
			return hexutil.Encode(out)
		},
	})
	defer srv.Close()

	c := dialFake(t, srv)
	ctx := context.Background()
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")

	gotOwner, err := c.Owner(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, owner, gotOwner)

	gotSupply, err := c.TotalSupply(ctx, token)
	require.NoError(t, err)
	assert.Zero(t, supply.Cmp(gotSupply))

	bal, err := c.BalanceOf(ctx, token, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 50_000, bal.Int64())

	dec, err := c.Decimals(ctx, token)
	require.NoError(t, err)
	assert.EqualValues(t, 18, dec)
}

func TestComputeFees(t *testing.T) {
	fees := ComputeFees(GweiToWei(10), GweiToWei(2), 1.3)
	assert.Zero(t, GweiToWei(15).Cmp(fees.MaxFeePerGas), "got %s", fees.MaxFeePerGas)
	assert.Zero(t, GweiToWei(2).Cmp(fees.MaxPriorityFeePerGas))

	fees = ComputeFees(GweiToWei(10), GweiToWei(1), 0)
	assert.Zero(t, GweiToWei(11).Cmp(fees.MaxFeePerGas))
}

func TestEmergencyFees(t *testing.T) {
	srv := fakeNode(t, nil)
	defer srv.Close()

	fees := dialFake(t, srv).EmergencyFees()
	assert.Zero(t, GweiToWei(200).Cmp(fees.MaxFeePerGas))
	assert.Zero(t, GweiToWei(5).Cmp(fees.MaxPriorityFeePerGas))
}

func TestBaseUnits(t *testing.T) {
	v := ToBaseUnits(1.25, 6)
	assert.EqualValues(t, 1_250_000, v.Int64())
	assert.InDelta(t, 1.25, FromBaseUnits(v, 6), 1e-12)
}
