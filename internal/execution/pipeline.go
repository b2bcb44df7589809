package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
	"github.com/meltingclock/autonomy-orders/internal/helpers"
	"github.com/meltingclock/autonomy-orders/internal/metrics"
	"github.com/meltingclock/autonomy-orders/internal/planner"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

// AssumedExecutionGas is the gas a keeper is assumed to burn executing one order.
const AssumedExecutionGas = 300000

// Call is one contract invocation handed to a Channel.
type Call struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int // nil or zero means no value attached
}

// Channel simulates and submits calls.
type Channel interface {
	EstimateGas(ctx context.Context, call Call) (uint64, error)
	StaticCall(ctx context.Context, call Call) ([]byte, error)
	Submit(ctx context.Context, call Call, gasLimit uint64, gasPrice *big.Int) (common.Hash, error)
}

// GasPricer is implemented by channels that can suggest a gas price.
type GasPricer interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// ValueQuoter prices an amount of token in native currency.
type ValueQuoter interface {
	NativeValue(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error)
}

type Options struct {
	GasPrice  *big.Int // nil: ask the channel
	PlainSwap bool     // immediate swap path; skips the keeper cost check
}

type Pipeline struct {
	ch     Channel
	quoter ValueQuoter
	txLog  TxLog
}

func NewPipeline(ch Channel, quoter ValueQuoter, txLog TxLog) *Pipeline {
	if txLog == nil {
		txLog = LogTxLog{}
	}
	return &Pipeline{ch: ch, quoter: quoter, txLog: txLog}
}

type simResult struct {
	gas    uint64
	ok     bool
	reason string
	// transport is set when the channel failed before the call could be
	// evaluated; reason then carries the raw error text.
	transport bool
}

// Execute simulates every candidate of plan, picks one and submits it.
// The returned error is reserved for pre-flight failures; everything after
// simulation starts is reported through the Outcome.
func (p *Pipeline) Execute(ctx context.Context, plan *planner.Plan, opts Options) (Outcome, error) {
	if plan == nil || len(plan.Candidates) == 0 {
		return Outcome{}, errors.New("plan has no candidates")
	}

	gasPrice := opts.GasPrice
	if gasPrice == nil {
		if gp, ok := p.ch.(GasPricer); ok {
			var err error
			if gasPrice, err = gp.GasPrice(ctx); err != nil {
				return Outcome{}, errors.Wrap(err, "gas price")
			}
		}
	}

	if plan.Intent.FeeMode == autonomy.FeePayFromProceeds && !opts.PlainSwap {
		if err := p.checkEligibility(ctx, plan, gasPrice); err != nil {
			metrics.RecordPlanningError("below_execution_cost")
			return Outcome{}, err
		}
	}

	return p.Run(ctx, plan.Intent.Requester, plan.Candidates, gasPrice, plan.Summary()), nil
}

// Run is the simulate/select/submit protocol over an arbitrary candidate
// list. summary is passed to the TxLog on success.
func (p *Pipeline) Run(ctx context.Context, from common.Address, candidates []planner.CallCandidate, gasPrice *big.Int, summary string) Outcome {
	runID := uuid.NewString()
	results := p.simulate(ctx, from, candidates)

	idx := selectCandidate(results)
	if idx < 0 {
		out := Outcome{Kind: OutcomeSimulationFailed, Reason: lastReason(results), RunID: runID}
		if msg, ok := transportFailure(results); ok {
			out.Kind, out.Reason = OutcomeFatal, fmt.Sprintf(msgSwapFailed, msg)
		}
		metrics.RecordOutcome(out.Kind.String())
		telemetry.Warnf("[execution] run %s: no candidate qualified: %s", runID, out.Reason)
		return out
	}

	c := candidates[idx]
	gasLimit := results[idx].gas * 12 / 10
	call := toCall(from, c)

	hash, err := p.ch.Submit(ctx, call, gasLimit, gasPrice)
	out := classify(hash, err)
	out.Candidate = &c
	out.GasLimit = gasLimit
	out.RunID = runID
	metrics.RecordOutcome(out.Kind.String())

	if out.Kind != OutcomeSuccess {
		telemetry.Errorf("[execution] run %s: %s (%s): %s", runID, c.Method.Name, out.Kind, out.Reason)
		return out
	}

	telemetry.Infof("[execution] run %s: submitted %s rank=%d gas=%d tx=%s",
		runID, c.Method.Name, c.Rank, gasLimit, helpers.FormatTxHash(hash))
	if err := p.txLog.Record(hash, summary); err != nil {
		telemetry.Warnf("[execution] tx log: %v", err)
	}
	return out
}

func (p *Pipeline) simulate(ctx context.Context, from common.Address, candidates []planner.CallCandidate) []simResult {
	results := make([]simResult, len(candidates))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := range candidates {
		g.Go(func() error {
			results[i] = p.simulateOne(gctx, toCall(from, candidates[i]))
			return nil
		})
	}
	_ = g.Wait()
	metrics.ObserveFanOut(time.Since(start))

	for i, r := range results {
		if r.ok {
			metrics.RecordSimulation("ok")
			telemetry.Debugf("[execution] candidate %d: gas=%d", i, r.gas)
		} else {
			metrics.RecordSimulation("fail")
			telemetry.Debugf("[execution] candidate %d: %s", i, r.reason)
		}
	}
	return results
}

func (p *Pipeline) simulateOne(ctx context.Context, call Call) simResult {
	gas, err := p.ch.EstimateGas(ctx, call)
	if err == nil {
		return simResult{gas: gas, ok: true}
	}
	telemetry.Debugf("[execution] estimate failed, trying static call: %v", err)

	_, callErr := p.ch.StaticCall(ctx, call)
	switch {
	case ctx.Err() != nil:
		return simResult{reason: ctx.Err().Error(), transport: true}
	case callErr == nil:
		return simResult{reason: msgUnexpectedEstim}
	case !IsRevert(callErr):
		return simResult{reason: callErr.Error(), transport: true}
	}
	return simResult{reason: fmt.Sprintf(msgCannotSucceed, RevertReason(callErr))}
}

// transportFailure reports whether every failed candidate failed in the
// channel itself, returning the last such error text.
func transportFailure(results []simResult) (string, bool) {
	msg := ""
	for _, r := range results {
		if r.ok {
			continue
		}
		if !r.transport {
			return "", false
		}
		msg = r.reason
	}
	return msg, msg != ""
}

// selectCandidate returns the first success that is followed by another
// success or is the last entry, or -1.
func selectCandidate(results []simResult) int {
	for i, r := range results {
		if !r.ok {
			continue
		}
		if i == len(results)-1 || results[i+1].ok {
			return i
		}
	}
	return -1
}

func lastReason(results []simResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if !results[i].ok && !results[i].transport && results[i].reason != "" {
			return results[i].reason
		}
	}
	return ErrPlanningExhausted.Error()
}

func (p *Pipeline) checkEligibility(ctx context.Context, plan *planner.Plan, gasPrice *big.Int) error {
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		return errors.New("gas price unavailable for the keeper cost check")
	}
	cost := new(big.Int).Mul(big.NewInt(AssumedExecutionGas), gasPrice)

	value := plan.InputAmount
	if !plan.Intent.Input.IsNative() {
		if p.quoter == nil {
			return errors.New("no quoter configured for the keeper cost check")
		}
		var err error
		value, err = p.quoter.NativeValue(ctx, plan.Intent.Input.Address, plan.InputAmount)
		if err != nil {
			return errors.Wrap(err, "quote input value")
		}
	}
	if value.Cmp(cost) < 0 {
		return errors.Wrapf(ErrBelowExecutionCost, "input worth %s, execution needs %s",
			helpers.FormatEth(value), helpers.FormatEth(cost))
	}
	return nil
}

func toCall(from common.Address, c planner.CallCandidate) Call {
	call := Call{From: from, To: c.Target, Data: c.Payload}
	if c.Value != nil && c.Value.Sign() > 0 {
		call.Value = c.Value
	}
	return call
}

func classify(hash common.Hash, err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeSuccess, TxHash: hash}
	case IsUserRejected(err):
		return Outcome{Kind: OutcomeRejected, Reason: msgRejected}
	default:
		return Outcome{Kind: OutcomeFatal, Reason: fmt.Sprintf(msgSwapFailed, err.Error())}
	}
}

// IsUserRejected reports a signer-level decline (EIP-1193 code 4001).
func IsUserRejected(err error) bool {
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 4001
}

// IsRevert reports whether err came from evaluating the call, as opposed to
// failing to reach the node.
func IsRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 { // geth: execution reverted
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

// RevertReason extracts the Error(string) reason from JSON-RPC error data,
// falling back to the error text.
func RevertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}
