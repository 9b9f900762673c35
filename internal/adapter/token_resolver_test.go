package adapter

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holdings-tracker/internal/circuitbreaker"
	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

// fakeCaller answers eth_call by method selector
type fakeCaller struct {
	parsed  abi.ABI
	results map[string][]byte
	errs    map[string]error
	calls   int
}

func newFakeCaller(t *testing.T) *fakeCaller {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	require.NoError(t, err)
	return &fakeCaller{parsed: parsed, results: map[string][]byte{}, errs: map[string]error{}}
}

func (f *fakeCaller) returns(t *testing.T, method string, value interface{}) {
	t.Helper()
	out, err := f.parsed.Methods[method].Outputs.Pack(value)
	require.NoError(t, err)
	f.results[method] = out
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls++
	m, err := f.parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	if err := f.errs[m.Name]; err != nil {
		return nil, err
	}
	return f.results[m.Name], nil
}

func newTestResolver(t *testing.T, caller ContractCaller) *TokenResolver {
	t.Helper()
	r, err := NewTokenResolver(nil, circuitbreaker.NewManager(nil))
	require.NoError(t, err)
	r.SetCaller(types.ChainPolygon, caller)
	return r
}

func TestTokenResolver_Resolve(t *testing.T) {
	caller := newFakeCaller(t)
	caller.returns(t, "name", "USD Coin (PoS)")
	caller.returns(t, "symbol", "USDC")
	caller.returns(t, "decimals", uint8(6))

	meta, err := newTestResolver(t, caller).Resolve(context.Background(), types.ChainPolygon, testToken)
	require.NoError(t, err)
	assert.Equal(t, "0x2791bca1f2de4661ed88a30c99a7a9449aa84174", meta.ContractAddress)
	assert.Equal(t, "USD Coin (PoS)", meta.TokenName)
	assert.Equal(t, "USDC", meta.Ticker)
	assert.Equal(t, "6", meta.Decimal)
	assert.Equal(t, types.ChainPolygon, meta.Blockchain)
}

func TestTokenResolver_Bytes32Symbol(t *testing.T) {
	caller := newFakeCaller(t)
	word := make([]byte, 32)
	copy(word, "MKR")
	caller.results["symbol"] = word
	caller.results["name"] = word
	caller.returns(t, "decimals", uint8(18))

	meta, err := newTestResolver(t, caller).Resolve(context.Background(), types.ChainPolygon, testToken)
	require.NoError(t, err)
	assert.Equal(t, "MKR", meta.Ticker)
	assert.Equal(t, "18", meta.Decimal)
}

func TestTokenResolver_RevertLeavesFieldBlank(t *testing.T) {
	caller := newFakeCaller(t)
	caller.returns(t, "symbol", "LP")
	caller.returns(t, "decimals", uint8(18))
	caller.errs["name"] = errors.New("execution reverted")

	r := newTestResolver(t, caller)
	meta, err := r.Resolve(context.Background(), types.ChainPolygon, testToken)
	require.NoError(t, err)
	assert.Equal(t, "", meta.TokenName)
	assert.Equal(t, "LP", meta.Ticker)
	assert.Equal(t, circuitbreaker.StateClosed, r.breakers.Get(string(types.ChainPolygon)).State())
}

func TestTokenResolver_TransportFailureOpensBreaker(t *testing.T) {
	caller := newFakeCaller(t)
	caller.errs["name"] = errors.New("connection refused")

	r := newTestResolver(t, caller)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := r.Resolve(ctx, types.ChainPolygon, testToken)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.CategoryProvider))
	}

	calls := caller.calls
	_, err := r.Resolve(ctx, types.ChainPolygon, testToken)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, calls, caller.calls)
}

func TestTokenResolver_InvalidInput(t *testing.T) {
	r := newTestResolver(t, newFakeCaller(t))

	_, err := r.Resolve(context.Background(), types.ChainPolygon, "not-an-address")
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))

	_, err = r.Resolve(context.Background(), types.ChainFantom, testToken)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation), "no RPC endpoint configured")
}
