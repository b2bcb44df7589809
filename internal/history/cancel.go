package history

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
	"github.com/meltingclock/autonomy-orders/internal/planner"
)

var ErrNotCancellable = errors.New("order cannot be cancelled")

// hashedRequest mirrors the registry's Request tuple; field names follow the
// ABI component names.
type hashedRequest struct {
	Requester       common.Address
	Target          common.Address
	Referer         common.Address
	CallData        []byte
	InitEthSent     *big.Int
	EthForCall      *big.Int
	VerifySender    bool
	InsertFeeAmount bool
	PayWithAUTO     bool
}

// CancelCandidate builds the cancelHashedReq call for an open order. The
// registry stores only the request hash, so every field must match the
// original request exactly.
func CancelCandidate(o Order, registry common.Address) (planner.CallCandidate, error) {
	if o.Status != StatusOpen {
		return planner.CallCandidate{}, errors.Wrapf(ErrNotCancellable, "order %s is %s", o.ID, o.Status)
	}
	if registry == (common.Address{}) {
		return planner.CallCandidate{}, errors.New("registry address not configured")
	}
	id, ok := parseID(o.ID)
	if !ok {
		return planner.CallCandidate{}, errors.Errorf("order id %q is not a number", o.ID)
	}

	req := hashedRequest{
		Requester:   o.Requester,
		Target:      o.Target,
		Referer:     o.Referer,
		CallData:    o.CallData,
		InitEthSent: orZero(o.InitEthSent),
		EthForCall:  orZero(o.EthForCall),
		// Not indexed by the subgraph; pay-default orders are always placed
		// with it set.
		InsertFeeAmount: o.Fee == autonomy.FeePayFromProceeds && o.Classified(),
		VerifySender:    o.VerifySender,
		PayWithAUTO:     o.PayWithAUTO,
	}

	registryABI := autonomy.ParsedRegistryABI()
	payload, err := registryABI.Pack("cancelHashedReq", id, req)
	if err != nil {
		return planner.CallCandidate{}, errors.Wrap(err, "pack cancelHashedReq")
	}
	return planner.CallCandidate{
		Target:  registry,
		Payload: payload,
		Value:   new(big.Int),
		Request: autonomy.Request{
			Target:          req.Target,
			Referer:         req.Referer,
			CallData:        req.CallData,
			EthForCall:      req.EthForCall,
			VerifySender:    req.VerifySender,
			InsertFeeAmount: req.InsertFeeAmount,
			PayWithAUTO:     req.PayWithAUTO,
		},
	}, nil
}

// parseID accepts decimal and 0x-prefixed hex ids.
func parseID(id string) (*big.Int, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(id, 0)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
