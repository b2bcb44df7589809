package history

import (
	"bytes"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

// RawOrderRecord is one registry request as reported by the history source.
type RawOrderRecord struct {
	ID           string
	Timestamp    time.Time
	Requester    common.Address
	Target       common.Address
	Referer      common.Address
	CallData     []byte
	InitEthSent  *big.Int
	EthForCall   *big.Int
	VerifySender bool
	PayWithAUTO  bool
}

// Cancellation marks a request as removed from the registry, either by the
// requester (WasExecuted false) or by a keeper executing it.
type Cancellation struct {
	ID          string
	Timestamp   time.Time
	WasExecuted bool
}

type Status uint8

const (
	StatusOpen Status = iota
	StatusCancelled
	StatusExecuted
)

func (s Status) String() string {
	switch s {
	case StatusCancelled:
		return "cancelled"
	case StatusExecuted:
		return "executed"
	default:
		return "open"
	}
}

// Order is a decoded historical request. Token and amount fields are zero
// for unclassified orders.
type Order struct {
	ID        string
	Requester common.Address
	Target    common.Address
	Referer   common.Address
	CallData  []byte
	PlacedAt  time.Time

	Method    string
	Kind      autonomy.OrderKind
	Direction autonomy.SwapDirection
	Fee       autonomy.FeeMode

	InputToken   common.Address
	OutputToken  common.Address
	InputAmount  *big.Int
	OutputAmount *big.Int
	Recipient    common.Address

	InitEthSent  *big.Int
	EthForCall   *big.Int
	VerifySender bool
	PayWithAUTO  bool

	Status Status
}

// Time renders PlacedAt the way history listings show it.
func (o Order) Time() string {
	return o.PlacedAt.Local().Format("2 Jan 2006 15:04:05")
}

func (o Order) Classified() bool { return o.Kind != autonomy.KindUnclassified }

// Reconstruct decodes records into orders and assigns each a status from
// cancels. Orders that do not reference router are dropped; a zero router
// disables the filter. The result depends only on its arguments.
func Reconstruct(records []RawOrderRecord, cancels []Cancellation, router common.Address) []Order {
	cancelled := make(map[string]struct{}, len(cancels))
	executed := make(map[string]struct{}, len(cancels))
	for _, c := range cancels {
		if c.WasExecuted {
			executed[c.ID] = struct{}{}
		} else {
			cancelled[c.ID] = struct{}{}
		}
	}

	orders := make([]Order, 0, len(records))
	for _, rec := range records {
		o, m, values := decodeRecord(rec)
		if router != (common.Address{}) && !referencesRouter(o, m, values, router) {
			continue
		}

		if _, ok := cancelled[o.ID]; ok {
			o.Status = StatusCancelled
		} else if _, ok := executed[o.ID]; ok {
			o.Status = StatusExecuted
		}
		orders = append(orders, o)
	}
	return orders
}

// Counts tallies orders by status name.
func Counts(orders []Order) map[string]int {
	counts := map[string]int{
		StatusOpen.String():      0,
		StatusCancelled.String(): 0,
		StatusExecuted.String():  0,
	}
	for _, o := range orders {
		counts[o.Status.String()]++
	}
	return counts
}

func decodeRecord(rec RawOrderRecord) (Order, autonomy.Method, autonomy.Values) {
	o := Order{
		ID:           rec.ID,
		Requester:    rec.Requester,
		Target:       rec.Target,
		Referer:      rec.Referer,
		CallData:     bytes.Clone(rec.CallData),
		PlacedAt:     rec.Timestamp,
		Method:       "Unclassified",
		Kind:         autonomy.KindUnclassified,
		InitEthSent:  cloneInt(rec.InitEthSent),
		EthForCall:   cloneInt(rec.EthForCall),
		VerifySender: rec.VerifySender,
		PayWithAUTO:  rec.PayWithAUTO,
	}

	m, values, err := autonomy.DecodeCall(rec.CallData)
	if err != nil {
		telemetry.Debugf("[history] order %s unclassified: %v", rec.ID, err)
		return o, autonomy.Method{}, nil
	}

	o.Method = m.Label()
	o.Kind = m.Kind
	o.Direction = m.Direction
	o.Fee = m.Fee

	if path, ok := values.Path(m.Slots.Path); ok && len(path) > 0 {
		o.InputToken = path[0]
		o.OutputToken = path[len(path)-1]
	}
	if to, ok := values.Address(m.Slots.To); ok {
		o.Recipient = to
	}

	if m.Direction == autonomy.NativeToToken {
		o.InputAmount = cloneInt(rec.EthForCall)
	} else if amt, ok := values.Uint(m.Slots.InputAmount); ok {
		o.InputAmount = amt
	}

	// Limit orders report the minimum they accept, stop orders the ceiling
	// that triggers them.
	outSlot := m.Slots.Lower
	if m.Kind == autonomy.KindStop {
		outSlot = m.Slots.Upper
	}
	if amt, ok := values.Uint(outSlot); ok {
		o.OutputAmount = amt
	}
	return o, m, values
}

// referencesRouter checks the decoded router slot, or the raw bytes when the
// payload could not be decoded.
func referencesRouter(o Order, m autonomy.Method, values autonomy.Values, router common.Address) bool {
	if values != nil {
		if addr, ok := values.Address(m.Slots.Router); ok {
			return addr == router
		}
	}
	return bytes.Contains(o.CallData, router.Bytes())
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
