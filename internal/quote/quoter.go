package quote

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
	"github.com/meltingclock/autonomy-orders/internal/planner"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

const (
	metaCacheSize  = 1024
	quoteCacheSize = 256
	quoteTTL       = 15 * time.Second
)

// ContractCaller is the read-only slice of *ethclient.Client used here.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type quoteKey struct {
	token  common.Address
	amount string
}

// Quoter reads token metadata and router prices. Metadata never changes and
// is cached for the process lifetime; quotes expire after a few seconds.
type Quoter struct {
	caller ContractCaller
	reg    *autonomy.Registry

	routerABI abi.ABI
	erc20ABI  abi.ABI

	meta   *lru.Cache[common.Address, planner.Token]
	quotes *expirable.LRU[quoteKey, *big.Int]
}

func New(caller ContractCaller, reg *autonomy.Registry) *Quoter {
	meta, err := lru.New[common.Address, planner.Token](metaCacheSize)
	if err != nil {
		panic("quote: " + err.Error())
	}
	return &Quoter{
		caller:    caller,
		reg:       reg,
		routerABI: autonomy.ParsedRouterABI(),
		erc20ABI:  autonomy.ParsedERC20ABI(),
		meta:      meta,
		quotes:    expirable.NewLRU[quoteKey, *big.Int](quoteCacheSize, nil, quoteTTL),
	}
}

// Token resolves symbol and decimals for addr. The zero address is the
// chain's native currency.
func (q *Quoter) Token(ctx context.Context, addr common.Address, nativeSymbol string) (planner.Token, error) {
	if addr == (common.Address{}) {
		return planner.NativeToken(nativeSymbol), nil
	}
	if t, ok := q.meta.Get(addr); ok {
		return t, nil
	}

	t := planner.Token{Address: addr}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := q.call(gctx, q.erc20ABI, addr, "decimals")
		if err != nil {
			return errors.Wrapf(err, "decimals of %s", addr.Hex())
		}
		t.Decimals = out[0].(uint8)
		return nil
	})
	g.Go(func() error {
		out, err := q.call(gctx, q.erc20ABI, addr, "symbol")
		if err != nil {
			// Some tokens return bytes32 or nothing; the symbol is cosmetic.
			telemetry.Debugf("[quote] symbol of %s: %v", addr.Hex(), err)
			t.Symbol = addr.Hex()[:8]
			return nil
		}
		t.Symbol = strings.TrimSpace(out[0].(string))
		return nil
	})
	if err := g.Wait(); err != nil {
		return planner.Token{}, err
	}

	q.meta.Add(addr, t)
	return t, nil
}

// AmountOut quotes amountIn along path on the configured router.
func (q *Quoter) AmountOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	if len(path) < 2 {
		return nil, errors.New("path needs at least two tokens")
	}
	out, err := q.call(ctx, q.routerABI, q.reg.Router(), "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, errors.Wrap(err, "getAmountsOut")
	}
	amounts := out[0].([]*big.Int)
	if len(amounts) != len(path) {
		return nil, errors.Errorf("getAmountsOut returned %d amounts for %d hops", len(amounts), len(path))
	}
	return amounts[len(amounts)-1], nil
}

// NativeValue prices amount of token in wrapped native through the router.
func (q *Quoter) NativeValue(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	wrapped := q.reg.WrappedNative()
	if token == (common.Address{}) || token == wrapped {
		return new(big.Int).Set(amount), nil
	}

	key := quoteKey{token: token, amount: amount.String()}
	if v, ok := q.quotes.Get(key); ok {
		return new(big.Int).Set(v), nil
	}

	v, err := q.AmountOut(ctx, amount, []common.Address{token, wrapped})
	if err != nil {
		return nil, err
	}
	q.quotes.Add(key, v)
	return new(big.Int).Set(v), nil
}

func (q *Quoter) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := q.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s: empty result", method)
	}
	return out, nil
}
