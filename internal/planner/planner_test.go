package planner

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
)

var (
	midRouter = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	registry  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	requester = common.HexToAddress("0x1111111111111111111111111111111111111111")
	cake      = Token{Address: common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82"), Symbol: "CAKE", Decimals: 18}
	usdc      = Token{Address: common.HexToAddress("0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"), Symbol: "USDC", Decimals: 6}
	bnb       = NativeToken("BNB")

	fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newTestPlanner(opts ...Option) *Planner {
	reg := autonomy.NewRegistry(autonomy.Config{
		Network:   autonomy.BSC,
		MidRouter: midRouter,
		Registry:  registry,
	})
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(reg, opts...)
}

func intent(in, out Token, amount, bound string, kind autonomy.OrderKind, fee autonomy.FeeMode) TradeIntent {
	return TradeIntent{
		Input:        in,
		Output:       out,
		InputAmount:  decimal.RequireFromString(amount),
		OutputBound:  decimal.RequireFromString(bound),
		SlippageBips: 50,
		Requester:    requester,
		Deadline:     fixedNow.Add(20 * time.Minute),
		Kind:         kind,
		FeeMode:      fee,
	}
}

func decodeInner(t *testing.T, c CallCandidate) (autonomy.Method, autonomy.Values) {
	t.Helper()
	m, v, err := autonomy.DecodeCall(c.Inner)
	require.NoError(t, err)
	return m, v
}

func TestNativeInPrepaidLimitEndToEnd(t *testing.T) {
	p := newTestPlanner()
	plan, err := p.Plan(intent(bnb, cake, "1", "250", autonomy.KindLimit, autonomy.FeePrepaid))
	require.NoError(t, err)
	require.Len(t, plan.Candidates, 1)

	c := plan.Candidates[0]
	want := new(big.Int).Add(big.NewInt(1e18), big.NewInt(1e16))
	assert.Zero(t, want.Cmp(c.Value), "value %s", c.Value)
	assert.Equal(t, registry, c.Target)

	req, err := autonomy.DecodeRequest(c.Payload)
	require.NoError(t, err)
	assert.True(t, req.VerifySender)
	assert.False(t, req.InsertFeeAmount)
	assert.False(t, req.PayWithAUTO)
	assert.Equal(t, midRouter, req.Target)
	assert.Zero(t, big.NewInt(1e18).Cmp(req.EthForCall))
	assert.Equal(t, c.Inner, req.CallData)

	m, v := decodeInner(t, c)
	assert.Equal(t, "ethToTokenLimitOrder", m.Name)
	router, _ := v.Address(m.Slots.Router)
	assert.Equal(t, common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E"), router)
	path, _ := v.Path(m.Slots.Path)
	assert.Equal(t, []common.Address{common.HexToAddress("0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"), cake.Address}, path)
	to, _ := v.Address(m.Slots.To)
	assert.Equal(t, requester, to)

	assert.Equal(t, "Swap 1 BNB for 250 CAKE", plan.Summary())
}

func TestBoundsByKind(t *testing.T) {
	p := newTestPlanner()
	bound, _ := new(big.Int).SetString("250000000000000000000", 10)

	dirs := []struct {
		name    string
		in, out Token
	}{
		{"native-in", bnb, cake},
		{"token-native", cake, bnb},
		{"token-token", cake, usdc},
	}
	for _, d := range dirs {
		out := bound
		if d.out.Decimals == 6 {
			out = big.NewInt(250_000_000)
		}
		for _, fee := range []autonomy.FeeMode{autonomy.FeePrepaid, autonomy.FeePayFromProceeds} {
			t.Run(d.name+"/limit/"+fee.String(), func(t *testing.T) {
				plan, err := p.Plan(intent(d.in, d.out, "1", "250", autonomy.KindLimit, fee))
				require.NoError(t, err)
				c := plan.Candidates[0]
				m, v := decodeInner(t, c)

				lower, ok := v.Uint(m.Slots.Lower)
				require.True(t, ok)
				assert.Zero(t, out.Cmp(lower))
				assert.Zero(t, math.MaxBig256.Cmp(c.Bounds.Upper))
				if m.Slots.Upper >= 0 {
					upper, _ := v.Uint(m.Slots.Upper)
					assert.Zero(t, math.MaxBig256.Cmp(upper))
				}
			})
			t.Run(d.name+"/stop/"+fee.String(), func(t *testing.T) {
				plan, err := p.Plan(intent(d.in, d.out, "1", "250", autonomy.KindStop, fee))
				require.NoError(t, err)
				c := plan.Candidates[0]
				m, v := decodeInner(t, c)
				assert.Equal(t, autonomy.KindStop, m.Kind)

				lower, _ := v.Uint(m.Slots.Lower)
				upper, _ := v.Uint(m.Slots.Upper)
				assert.Zero(t, lower.Sign())
				assert.Zero(t, out.Cmp(upper))
			})
		}
	}
}

func TestFeeAmount(t *testing.T) {
	for _, a := range []int64{1, 7, 1e6, 1e18} {
		amount := big.NewInt(a)
		want := new(big.Int).Quo(math.MaxBig256, new(big.Int).Mul(amount, big.NewInt(10)))
		assert.Zero(t, want.Cmp(FeeAmount(amount)), "A=%d", a)
	}
}

func TestPayFromProceedsSlots(t *testing.T) {
	p := newTestPlanner()
	plan, err := p.Plan(intent(usdc, cake, "2.5", "10", autonomy.KindLimit, autonomy.FeePayFromProceeds))
	require.NoError(t, err)
	require.Len(t, plan.Candidates, 1)
	c := plan.Candidates[0]

	assert.Zero(t, big.NewInt(2_500_000).Cmp(plan.InputAmount))
	assert.Zero(t, c.Value.Sign(), "no surcharge and no native input")

	m, v := decodeInner(t, c)
	assert.Equal(t, "tokenToTokenLimitOrderPayDefault", m.Name)
	fee, _ := v.Uint(m.Slots.FeeAmount)
	assert.Zero(t, FeeAmount(big.NewInt(2_500_000)).Cmp(fee))
	user, _ := v.Address(m.Slots.User)
	assert.Equal(t, requester, user)

	req, err := autonomy.DecodeRequest(c.Payload)
	require.NoError(t, err)
	assert.False(t, req.VerifySender)
	assert.True(t, req.InsertFeeAmount)
	assert.Zero(t, req.EthForCall.Sign())
}

func TestInfeasibleAmount(t *testing.T) {
	p := newTestPlanner()

	_, err := p.Plan(intent(cake, bnb, "0", "1", autonomy.KindLimit, autonomy.FeePayFromProceeds))
	assert.ErrorIs(t, err, ErrInfeasibleAmount)

	// below one base unit of a 6-decimal token
	_, err = p.Plan(intent(usdc, bnb, "0.0000001", "1", autonomy.KindLimit, autonomy.FeePayFromProceeds))
	assert.ErrorIs(t, err, ErrInfeasibleAmount)

	_, err = p.Plan(intent(cake, bnb, "1", "0", autonomy.KindStop, autonomy.FeePrepaid))
	assert.ErrorIs(t, err, ErrInfeasibleAmount)
}

func TestFeeOnTransfer(t *testing.T) {
	p := newTestPlanner(WithFeeOnTransfer(NewTokenSet(cake.Address.Hex())))

	_, err := p.Plan(intent(cake, bnb, "1", "1", autonomy.KindLimit, autonomy.FeePayFromProceeds))
	assert.ErrorIs(t, err, ErrUnsupportedToken)

	plan, err := p.Plan(intent(bnb, cake, "1", "1", autonomy.KindLimit, autonomy.FeePrepaid))
	require.NoError(t, err)
	require.Len(t, plan.Candidates, 2)
	assert.Equal(t, 0, plan.Candidates[0].Rank)
	assert.Equal(t, 1, plan.Candidates[1].Rank)
	assert.Equal(t, "swapExactETHForTokens", plan.Candidates[0].RouterVariant)
	assert.Equal(t, "swapExactETHForTokensSupportingFeeOnTransferTokens", plan.Candidates[1].RouterVariant)
	assert.Equal(t, plan.Candidates[0].Payload, plan.Candidates[1].Payload)
}

func TestPlanIsDeterministic(t *testing.T) {
	p := newTestPlanner(WithFeeOnTransfer(NewTokenSet(usdc.Address.Hex())))
	in := intent(usdc, cake, "12.345678", "3", autonomy.KindStop, autonomy.FeePrepaid)

	a, err := p.Plan(in)
	require.NoError(t, err)
	b, err := p.Plan(in)
	require.NoError(t, err)

	require.Len(t, b.Candidates, len(a.Candidates))
	for i := range a.Candidates {
		assert.Equal(t, a.Candidates[i].Payload, b.Candidates[i].Payload)
		assert.Zero(t, a.Candidates[i].Value.Cmp(b.Candidates[i].Value))
	}
}

func TestValidation(t *testing.T) {
	p := newTestPlanner()
	base := intent(bnb, cake, "1", "1", autonomy.KindLimit, autonomy.FeePrepaid)

	cases := map[string]func(in *TradeIntent){
		"same token":     func(in *TradeIntent) { in.Output = in.Input },
		"slippage":       func(in *TradeIntent) { in.SlippageBips = 6000 },
		"deadline":       func(in *TradeIntent) { in.Deadline = fixedNow.Add(-time.Second) },
		"no requester":   func(in *TradeIntent) { in.Requester = common.Address{} },
		"unclassified":   func(in *TradeIntent) { in.Kind = autonomy.KindUnclassified },
		"negative bound": func(in *TradeIntent) { in.OutputBound = decimal.NewFromInt(-1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			_, err := p.Plan(in)
			assert.ErrorIs(t, err, ErrInvalidIntent)
		})
	}
}

func TestSummaryWithRecipient(t *testing.T) {
	p := newTestPlanner()
	in := intent(cake, usdc, "1.5", "3.25", autonomy.KindLimit, autonomy.FeePrepaid)
	in.Recipient = common.HexToAddress("0x2222222222222222222222222222222222222222")

	plan, err := p.Plan(in)
	require.NoError(t, err)
	assert.Equal(t, "Swap 1.5 CAKE for 3.25 USDC to 0x2222...2222", plan.Summary())
	assert.Zero(t, big.NewInt(3_233_750).Cmp(plan.MinReceived))
}
