package planner

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
	"github.com/meltingclock/autonomy-orders/internal/helpers"
	"github.com/meltingclock/autonomy-orders/internal/metrics"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

var (
	ErrUnsupportedToken = errors.New("unsupported token")
	ErrInfeasibleAmount = errors.New("infeasible amount")
	ErrInvalidIntent    = errors.New("invalid intent")
)

// DefaultSurcharge is the keeper prepayment attached to prepaid orders (0.01 native).
var DefaultSurcharge = big.NewInt(1e16)

// Bounds are the trigger bounds in output token base units.
type Bounds struct {
	Lower *big.Int
	Upper *big.Int
}

// CallCandidate is one registry call that would place the order.
type CallCandidate struct {
	Target  common.Address // keeper registry
	Payload []byte         // newReq(...) call
	Value   *big.Int
	Rank    int

	Method        autonomy.Method
	Inner         []byte // mid-router order call wrapped by Payload
	Request       autonomy.Request
	Bounds        Bounds
	FeeAmount     *big.Int // nil unless paying from proceeds
	// RouterVariant is the router swap the keeper will perform. The
	// fee-on-transfer fallback shares Payload and Value with the primary,
	// since the mid-router exposes one entry point for both swaps; it is kept
	// for parity with the dual-method probe and never changes which payload
	// the pipeline submits.
	RouterVariant string
}

// Plan is the ordered candidate list for one intent, most preferred first.
type Plan struct {
	Intent      TradeIntent
	Direction   autonomy.SwapDirection
	InputAmount *big.Int // input token base units
	OutputBound *big.Int // output token base units
	MinReceived *big.Int // OutputBound less slippage; display only
	Candidates  []CallCandidate
}

// Summary renders "Swap 1 BNB for 250 CAKE", with the recipient appended
// when it is not the requester.
func (p *Plan) Summary() string {
	in, out := p.Intent.Input, p.Intent.Output
	s := fmt.Sprintf("Swap %s %s for %s %s",
		helpers.FormatTokenAmount(p.InputAmount, in.Decimals), in.Symbol,
		helpers.FormatTokenAmount(p.OutputBound, out.Decimals), out.Symbol)
	if r := p.Intent.recipient(); r != p.Intent.Requester {
		s += " to " + helpers.FormatAddress(r)
	}
	return s
}

type Option func(*Planner)

// WithSurcharge overrides the prepaid keeper surcharge.
func WithSurcharge(wei *big.Int) Option {
	return func(p *Planner) {
		if wei != nil && wei.Sign() >= 0 {
			p.surcharge = new(big.Int).Set(wei)
		}
	}
}

func WithFeeOnTransfer(list FeeOnTransferList) Option {
	return func(p *Planner) { p.fot = list }
}

func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

type Planner struct {
	reg       *autonomy.Registry
	fot       FeeOnTransferList
	surcharge *big.Int
	now       func() time.Time
}

func New(reg *autonomy.Registry, opts ...Option) *Planner {
	p := &Planner{
		reg:       reg,
		fot:       TokenSet{},
		surcharge: new(big.Int).Set(DefaultSurcharge),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan turns an intent into call candidates. It performs no network calls and
// is deterministic: the same intent always yields byte-identical payloads.
func (p *Planner) Plan(in TradeIntent) (*Plan, error) {
	plan, err := p.plan(in)
	if err != nil {
		metrics.RecordPlanningError(errorLabel(err))
		telemetry.Warnf("[planner] rejected %s %s -> %s: %v", in.Kind, in.Input.Symbol, in.Output.Symbol, err)
		return nil, err
	}
	metrics.RecordPlan(in.Kind.String(), in.FeeMode.String())
	telemetry.Debugf("[planner] %s via %s: %d candidate(s)", plan.Summary(), plan.Candidates[0].Method.Name, len(plan.Candidates))
	return plan, nil
}

func (p *Planner) plan(in TradeIntent) (*Plan, error) {
	if err := p.validate(in); err != nil {
		return nil, err
	}
	dir := in.Direction()

	amountIn, err := helpers.DecimalToUnits(in.InputAmount, in.Input.Decimals)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidIntent, err.Error())
	}
	if amountIn.Sign() == 0 {
		return nil, errors.Wrapf(ErrInfeasibleAmount, "%s %s scales to zero base units",
			in.InputAmount, in.Input.Symbol)
	}
	bound, err := helpers.DecimalToUnits(in.OutputBound, in.Output.Decimals)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidIntent, err.Error())
	}

	var bounds Bounds
	switch in.Kind {
	case autonomy.KindLimit:
		bounds = Bounds{Lower: bound, Upper: new(big.Int).Set(math.MaxBig256)}
	case autonomy.KindStop:
		if bound.Sign() == 0 {
			return nil, errors.Wrap(ErrInfeasibleAmount, "stop bound scales to zero")
		}
		bounds = Bounds{Lower: new(big.Int), Upper: bound}
	}

	var feeAmount *big.Int
	if in.FeeMode == autonomy.FeePayFromProceeds {
		if !in.Input.IsNative() && p.fot.IsFeeOnTransfer(in.Input.Address) {
			return nil, errors.Wrapf(ErrUnsupportedToken,
				"%s takes a fee on transfer; pay from proceeds is not possible", in.Input.Symbol)
		}
		feeAmount = FeeAmount(amountIn)
	}

	method, err := autonomy.MethodFor(dir, in.Kind, in.FeeMode)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidIntent, err.Error())
	}

	inner, err := autonomy.EncodeCall(method, p.orderArgs(method, in, amountIn, bounds, feeAmount))
	if err != nil {
		return nil, err
	}

	ethForCall := new(big.Int)
	if dir == autonomy.NativeToToken {
		ethForCall.Set(amountIn)
	}
	req := autonomy.Request{
		Target:          p.reg.MidRouter(),
		Referer:         p.reg.Referer(),
		CallData:        inner,
		EthForCall:      ethForCall,
		VerifySender:    in.FeeMode == autonomy.FeePrepaid,
		InsertFeeAmount: in.FeeMode == autonomy.FeePayFromProceeds,
	}
	payload, err := autonomy.EncodeRequest(req)
	if err != nil {
		if errors.Is(err, autonomy.ErrSchemaMismatch) {
			return nil, errors.Wrapf(ErrInfeasibleAmount, "native amount does not fit the registry: %v", err)
		}
		return nil, err
	}

	value := new(big.Int).Set(ethForCall)
	if in.FeeMode == autonomy.FeePrepaid {
		value.Add(value, p.surcharge)
	}

	primary := CallCandidate{
		Target:        p.reg.Registry(),
		Payload:       payload,
		Value:         value,
		Rank:          0,
		Method:        method,
		Inner:         inner,
		Request:       req,
		Bounds:        bounds,
		FeeAmount:     feeAmount,
		RouterVariant: routerVariant(dir, false),
	}
	candidates := []CallCandidate{primary}

	// The mid-router entry point is the same for both router variants, so the
	// fallback differs only in the swap the keeper is told to expect.
	if in.FeeMode == autonomy.FeePrepaid && p.touchesFeeOnTransfer(in) {
		fallback := primary
		fallback.Rank = 1
		fallback.RouterVariant = routerVariant(dir, true)
		candidates = append(candidates, fallback)
	}

	return &Plan{
		Intent:      in,
		Direction:   dir,
		InputAmount: amountIn,
		OutputBound: bound,
		MinReceived: helpers.ApplySlippageBips(bound, in.SlippageBips),
		Candidates:  candidates,
	}, nil
}

func (p *Planner) validate(in TradeIntent) error {
	if err := helpers.ValidateTokenPair(in.Input.Address, in.Output.Address); err != nil {
		return errors.Wrap(ErrInvalidIntent, err.Error())
	}
	if err := helpers.ValidateSlippageBips(in.SlippageBips); err != nil {
		return errors.Wrap(ErrInvalidIntent, err.Error())
	}
	if err := helpers.ValidateDeadline(in.Deadline, p.now()); err != nil {
		return errors.Wrap(ErrInvalidIntent, err.Error())
	}
	if in.Requester == (common.Address{}) {
		return errors.Wrap(ErrInvalidIntent, "requester must be set")
	}
	if in.Kind != autonomy.KindLimit && in.Kind != autonomy.KindStop {
		return errors.Wrapf(ErrInvalidIntent, "order kind %s", in.Kind)
	}
	if in.InputAmount.IsNegative() || in.OutputBound.IsNegative() {
		return errors.Wrap(ErrInvalidIntent, "amounts must not be negative")
	}
	return nil
}

func (p *Planner) orderArgs(m autonomy.Method, in TradeIntent, amountIn *big.Int, b Bounds, fee *big.Int) autonomy.Values {
	v := make(autonomy.Values, len(m.Schema))
	set := func(slot int, val any) {
		if slot >= 0 {
			v[slot] = val
		}
	}
	set(m.Slots.User, in.Requester)
	set(m.Slots.FeeAmount, fee)
	set(m.Slots.Router, p.reg.Router())
	set(m.Slots.InputAmount, amountIn)
	set(m.Slots.Lower, b.Lower)
	set(m.Slots.Upper, b.Upper)
	set(m.Slots.Path, p.path(in))
	set(m.Slots.To, in.recipient())
	set(m.Slots.Deadline, big.NewInt(in.Deadline.Unix()))
	return v
}

func (p *Planner) path(in TradeIntent) []common.Address {
	wrap := func(t Token) common.Address {
		if t.IsNative() {
			return p.reg.WrappedNative()
		}
		return t.Address
	}
	return []common.Address{wrap(in.Input), wrap(in.Output)}
}

func (p *Planner) touchesFeeOnTransfer(in TradeIntent) bool {
	return (!in.Input.IsNative() && p.fot.IsFeeOnTransfer(in.Input.Address)) ||
		(!in.Output.IsNative() && p.fot.IsFeeOnTransfer(in.Output.Address))
}

// FeeAmount is the placeholder written into the fee slot of pay-from-proceeds
// orders: floor(MaxUint256 / (10 * amountIn)). The registry replaces it with
// the real fee at execution time.
func FeeAmount(amountIn *big.Int) *big.Int {
	den := new(big.Int).Mul(amountIn, big.NewInt(10))
	return den.Quo(math.MaxBig256, den)
}

func routerVariant(dir autonomy.SwapDirection, feeOnTransfer bool) string {
	var name string
	switch dir {
	case autonomy.NativeToToken:
		name = "swapExactETHForTokens"
	case autonomy.TokenToNative:
		name = "swapExactTokensForETH"
	default:
		name = "swapExactTokensForTokens"
	}
	if feeOnTransfer {
		name += "SupportingFeeOnTransferTokens"
	}
	return name
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedToken):
		return "unsupported_token"
	case errors.Is(err, ErrInfeasibleAmount):
		return "infeasible_amount"
	case errors.Is(err, ErrInvalidIntent):
		return "invalid_intent"
	}
	return "encode"
}
