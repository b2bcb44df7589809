package quote

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
)

var (
	cake = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")
	usdc = common.HexToAddress("0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d")
)

// fakeChain answers ERC20 metadata and getAmountsOut at a fixed rate.
type fakeChain struct {
	mu    sync.Mutex
	calls map[string]int
	rate  int64 // output per unit input
	fail  bool
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}

	erc20 := autonomy.ParsedERC20ABI()
	router := autonomy.ParsedRouterABI()

	method, err := erc20.MethodById(msg.Data[:4])
	if err == nil {
		f.calls[method.Name]++
		switch method.Name {
		case "decimals":
			if *msg.To == usdc {
				return method.Outputs.Pack(uint8(6))
			}
			return method.Outputs.Pack(uint8(18))
		case "symbol":
			if *msg.To == usdc {
				return nil, errors.New("execution reverted")
			}
			return method.Outputs.Pack(" CAKE ")
		}
	}

	method, err = router.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	f.calls[method.Name]++
	if f.fail {
		return nil, errors.New("execution reverted: INSUFFICIENT_LIQUIDITY")
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	in := args[0].(*big.Int)
	path := args[1].([]common.Address)
	amounts := make([]*big.Int, len(path))
	amounts[0] = in
	for i := 1; i < len(path); i++ {
		amounts[i] = new(big.Int).Mul(amounts[i-1], big.NewInt(f.rate))
	}
	return method.Outputs.Pack(amounts)
}

func newTestQuoter(chain *fakeChain) *Quoter {
	reg := autonomy.NewRegistry(autonomy.Config{Network: autonomy.BSC})
	return New(chain, reg)
}

func TestTokenMetadataCached(t *testing.T) {
	chain := &fakeChain{}
	q := newTestQuoter(chain)
	ctx := context.Background()

	tok, err := q.Token(ctx, cake, "BNB")
	require.NoError(t, err)
	assert.Equal(t, "CAKE", tok.Symbol)
	assert.Equal(t, uint8(18), tok.Decimals)
	assert.Equal(t, cake, tok.Address)

	_, err = q.Token(ctx, cake, "BNB")
	require.NoError(t, err)
	assert.Equal(t, 1, chain.calls["decimals"])
	assert.Equal(t, 1, chain.calls["symbol"])

	// symbol failure falls back to a shortened address
	tok, err = q.Token(ctx, usdc, "BNB")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), tok.Decimals)
	assert.Equal(t, usdc.Hex()[:8], tok.Symbol)

	native, err := q.Token(ctx, common.Address{}, "BNB")
	require.NoError(t, err)
	assert.True(t, native.IsNative())
	assert.Equal(t, "BNB", native.Symbol)
}

func TestNativeValue(t *testing.T) {
	chain := &fakeChain{rate: 3}
	q := newTestQuoter(chain)
	ctx := context.Background()

	v, err := q.NativeValue(ctx, cake, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, int64(300), v.Int64())

	// cached
	v.SetInt64(0)
	v, err = q.NativeValue(ctx, cake, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, int64(300), v.Int64())
	assert.Equal(t, 1, chain.calls["getAmountsOut"])

	// native and wrapped native are worth themselves
	wbnb := autonomy.NewRegistry(autonomy.Config{Network: autonomy.BSC}).WrappedNative()
	for _, tok := range []common.Address{{}, wbnb} {
		v, err = q.NativeValue(ctx, tok, big.NewInt(42))
		require.NoError(t, err)
		assert.Equal(t, int64(42), v.Int64())
	}
	assert.Equal(t, 1, chain.calls["getAmountsOut"])
}

func TestAmountOut(t *testing.T) {
	chain := &fakeChain{rate: 2}
	q := newTestQuoter(chain)

	out, err := q.AmountOut(context.Background(), big.NewInt(5), []common.Address{cake, usdc, cake})
	require.NoError(t, err)
	assert.Equal(t, int64(20), out.Int64())

	_, err = q.AmountOut(context.Background(), big.NewInt(5), []common.Address{cake})
	assert.Error(t, err)

	chain.fail = true
	_, err = q.NativeValue(context.Background(), usdc, big.NewInt(5))
	assert.ErrorContains(t, err, "INSUFFICIENT_LIQUIDITY")
}
