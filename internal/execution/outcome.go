package execution

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/meltingclock/autonomy-orders/internal/planner"
)

var (
	// ErrPlanningExhausted is reported when no candidate qualified and none
	// recorded a failure reason either.
	ErrPlanningExhausted = errors.New("Unexpected error. Please contact support: none of the calls threw an error")

	// ErrBelowExecutionCost rejects pay-from-proceeds orders whose input
	// cannot cover the keeper's gas.
	ErrBelowExecutionCost = errors.Wrap(planner.ErrInfeasibleAmount, "input value is below the keeper execution cost")

	// ErrUserRejected may be returned by a Channel when the signer declines.
	ErrUserRejected = errors.New("user rejected the transaction")
)

const (
	msgRejected        = "Transaction rejected."
	msgUnexpectedEstim = "Unexpected issue with estimating the gas. Please try again."
	msgCannotSucceed   = "The transaction cannot succeed due to error: %s."
	msgSwapFailed      = "Swap failed: %s"
)

type OutcomeKind uint8

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeSimulationFailed
	OutcomeRejected
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSimulationFailed:
		return "simulation_failed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome is the single result of running a plan through the pipeline.
type Outcome struct {
	Kind      OutcomeKind
	TxHash    common.Hash // Success only
	Reason    string      // human readable; empty on Success
	Candidate *planner.CallCandidate
	GasLimit  uint64
	RunID     string // correlates the outcome with its log lines
}

func (o Outcome) Succeeded() bool { return o.Kind == OutcomeSuccess }

// Err returns the outcome as an error, nil on success.
func (o Outcome) Err() error {
	if o.Kind == OutcomeSuccess {
		return nil
	}
	return errors.New(o.Reason)
}
