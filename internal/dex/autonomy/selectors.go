package autonomy

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Selector is the 4-byte method identifier leading every call payload.
type Selector [4]byte

func (s Selector) Hex() string    { return "0x" + hex.EncodeToString(s[:]) }
func (s Selector) String() string { return s.Hex() }

// SelectorFromHex parses "0xfa089c19" or "fa089c19".
func SelectorFromHex(h string) (Selector, error) {
	var sel Selector
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(h), "0x"))
	if err != nil {
		return sel, errors.Wrapf(err, "selector %q", h)
	}
	if len(b) != 4 {
		return sel, errors.Errorf("selector %q: want 4 bytes, got %d", h, len(b))
	}
	copy(sel[:], b)
	return sel, nil
}

// OrderKind is derived from the selector; it is never stored on its own.
type OrderKind uint8

const (
	KindUnclassified OrderKind = iota
	KindLimit
	KindStop
)

func (k OrderKind) String() string {
	switch k {
	case KindLimit:
		return "Limit"
	case KindStop:
		return "Stop"
	default:
		return "Unclassified"
	}
}

// ParseOrderKind accepts "limit", "limit-order", "stop" and "stop-loss".
func ParseOrderKind(s string) (OrderKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "limit", "limit-order":
		return KindLimit, nil
	case "stop", "stop-loss":
		return KindStop, nil
	}
	return KindUnclassified, errors.Errorf("unknown order kind %q", s)
}

// SwapDirection decides the argument layout and which amount is native currency.
type SwapDirection uint8

const (
	DirectionUnknown SwapDirection = iota
	NativeToToken
	TokenToNative
	TokenToToken
)

func (d SwapDirection) String() string {
	switch d {
	case NativeToToken:
		return "Native for Tokens"
	case TokenToNative:
		return "Tokens for Native"
	case TokenToToken:
		return "Tokens for Tokens"
	default:
		return "Unknown"
	}
}

// FeeMode selects how the keeper's execution cost is paid.
type FeeMode uint8

const (
	FeePrepaid FeeMode = iota
	FeePayFromProceeds
)

func (f FeeMode) String() string {
	if f == FeePayFromProceeds {
		return "pay-from-proceeds"
	}
	return "prepaid"
}

// ParseFeeMode accepts "prepaid" and "proceeds"/"pay-from-proceeds".
func ParseFeeMode(s string) (FeeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prepaid":
		return FeePrepaid, nil
	case "proceeds", "pay-from-proceeds", "paydefault":
		return FeePayFromProceeds, nil
	}
	return FeePrepaid, errors.Errorf("unknown fee mode %q", s)
}

// Slots locates the semantic fields inside a method's argument list.
// A negative index means the method has no such field.
type Slots struct {
	User        int
	FeeAmount   int
	Router      int
	InputAmount int
	Lower       int // amountOutMin
	Upper       int // amountOutMax
	Path        int
	To          int
	Deadline    int
}

// Method is one mid-router order entry point.
type Method struct {
	Name      string
	Selector  Selector
	Kind      OrderKind
	Direction SwapDirection
	Fee       FeeMode
	Schema    Schema
	Slots     Slots
}

// Signature returns the canonical "name(type,...)" form hashed into the selector.
func (m Method) Signature() string {
	return m.Name + "(" + m.Schema.String() + ")"
}

// Label is the human readable description used in history listings.
func (m Method) Label() string {
	return m.Kind.String() + " -> " + m.Direction.String()
}

var (
	ErrNotFound = errors.New("selector not found")
)

// -----------------------------------------------------------------------------
// Method table
// -----------------------------------------------------------------------------

type param struct {
	name string
	typ  ArgType
}

var (
	pUser      = param{"user", TypeAddress}
	pFeeAmount = param{"feeAmount", TypeUint256}
	pRouter    = param{"uniRouter", TypeAddress}
	pAmountIn  = param{"inputAmount", TypeUint256}
	pOutMin    = param{"amountOutMin", TypeUint256}
	pOutMax    = param{"amountOutMax", TypeUint256}
	pPath      = param{"path", TypeAddressArray}
	pTo        = param{"to", TypeAddress}
	pDeadline  = param{"deadline", TypeUint256}
)

type methodSpec struct {
	name   string
	kind   OrderKind
	dir    SwapDirection
	fee    FeeMode
	params []param
}

var methodList = []methodSpec{
	// Prepaid: the requester funds the keeper up front.
	{"ethToTokenLimitOrder", KindLimit, NativeToToken, FeePrepaid,
		[]param{pRouter, pOutMin, pPath, pTo, pDeadline}},
	{"tokenToEthLimitOrder", KindLimit, TokenToNative, FeePrepaid,
		[]param{pUser, pRouter, pAmountIn, pOutMin, pPath, pTo, pDeadline}},
	{"tokenToTokenLimitOrder", KindLimit, TokenToToken, FeePrepaid,
		[]param{pUser, pRouter, pAmountIn, pOutMin, pPath, pTo, pDeadline}},
	{"ethToTokenStopLoss", KindStop, NativeToToken, FeePrepaid,
		[]param{pRouter, pOutMin, pOutMax, pPath, pTo, pDeadline}},
	{"tokenToEthStopLoss", KindStop, TokenToNative, FeePrepaid,
		[]param{pUser, pRouter, pAmountIn, pOutMin, pOutMax, pPath, pTo, pDeadline}},
	{"tokenToTokenStopLoss", KindStop, TokenToToken, FeePrepaid,
		[]param{pUser, pRouter, pAmountIn, pOutMin, pOutMax, pPath, pTo, pDeadline}},

	// Pay-default: the keeper deducts its cost from the proceeds. The registry
	// overwrites feeAmount at execution time (insertFeeAmount).
	{"ethToTokenLimitOrderPayDefault", KindLimit, NativeToToken, FeePayFromProceeds,
		[]param{pUser, pFeeAmount, pRouter, pOutMin, pPath, pTo, pDeadline}},
	{"tokenToEthLimitOrderPayDefault", KindLimit, TokenToNative, FeePayFromProceeds,
		[]param{pUser, pFeeAmount, pRouter, pAmountIn, pOutMin, pPath, pTo, pDeadline}},
	{"tokenToTokenLimitOrderPayDefault", KindLimit, TokenToToken, FeePayFromProceeds,
		[]param{pUser, pFeeAmount, pRouter, pAmountIn, pOutMin, pPath, pTo, pDeadline}},
	{"ethToTokenStopLossPayDefault", KindStop, NativeToToken, FeePayFromProceeds,
		[]param{pUser, pFeeAmount, pRouter, pOutMin, pOutMax, pPath, pTo, pDeadline}},
	{"tokenToEthStopLossPayDefault", KindStop, TokenToNative, FeePayFromProceeds,
		[]param{pUser, pFeeAmount, pRouter, pAmountIn, pOutMin, pOutMax, pPath, pTo, pDeadline}},
	{"tokenToTokenStopLossPayDefault", KindStop, TokenToToken, FeePayFromProceeds,
		[]param{pUser, pFeeAmount, pRouter, pAmountIn, pOutMin, pOutMax, pPath, pTo, pDeadline}},
}

type shape struct {
	dir  SwapDirection
	kind OrderKind
	fee  FeeMode
}

// Read-only after init; safe for concurrent lookups.
var (
	methods    []Method
	bySelector map[Selector]Method
	byShape    map[shape]Method
)

func init() {
	initMethodTable()
}

func initMethodTable() {
	methods = make([]Method, 0, len(methodList))
	bySelector = make(map[Selector]Method, len(methodList))
	byShape = make(map[shape]Method, len(methodList))

	for _, spec := range methodList {
		m := Method{
			Name:      spec.name,
			Kind:      spec.kind,
			Direction: spec.dir,
			Fee:       spec.fee,
			Schema:    make(Schema, len(spec.params)),
			Slots:     slotsFor(spec.params),
		}
		for i, p := range spec.params {
			m.Schema[i] = p.typ
		}
		m.Selector = keccak4(m.Signature())

		if _, dup := bySelector[m.Selector]; dup {
			panic("autonomy: duplicate selector for " + m.Signature())
		}
		methods = append(methods, m)
		bySelector[m.Selector] = m
		byShape[shape{m.Direction, m.Kind, m.Fee}] = m
	}
}

func slotsFor(params []param) Slots {
	s := Slots{-1, -1, -1, -1, -1, -1, -1, -1, -1}
	for i, p := range params {
		switch p.name {
		case pUser.name:
			s.User = i
		case pFeeAmount.name:
			s.FeeAmount = i
		case pRouter.name:
			s.Router = i
		case pAmountIn.name:
			s.InputAmount = i
		case pOutMin.name:
			s.Lower = i
		case pOutMax.name:
			s.Upper = i
		case pPath.name:
			s.Path = i
		case pTo.name:
			s.To = i
		case pDeadline.name:
			s.Deadline = i
		}
	}
	return s
}

func keccak4(signature string) Selector {
	var sel Selector
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// Lookup returns the method registered for sel.
func Lookup(sel Selector) (Method, error) {
	m, ok := bySelector[sel]
	if !ok {
		return Method{}, errors.Wrapf(ErrNotFound, "%s", sel.Hex())
	}
	return m, nil
}

func SchemaFor(sel Selector) (Schema, error) {
	m, err := Lookup(sel)
	if err != nil {
		return nil, err
	}
	return m.Schema, nil
}

func KindFor(sel Selector) (OrderKind, error) {
	m, err := Lookup(sel)
	if err != nil {
		return KindUnclassified, err
	}
	return m.Kind, nil
}

func DirectionFor(sel Selector) (SwapDirection, error) {
	m, err := Lookup(sel)
	if err != nil {
		return DirectionUnknown, err
	}
	return m.Direction, nil
}

// MethodFor picks the entry point for a direction, order kind and fee mode.
func MethodFor(dir SwapDirection, kind OrderKind, fee FeeMode) (Method, error) {
	m, ok := byShape[shape{dir, kind, fee}]
	if !ok {
		return Method{}, errors.Wrapf(ErrNotFound, "no method for %s %s %s", kind, dir, fee)
	}
	return m, nil
}

// Methods returns every registered method in table order.
func Methods() []Method {
	out := make([]Method, len(methods))
	copy(out, methods)
	return out
}

// Classify returns the method for a full call payload (hot path, no decoding).
func Classify(payload []byte) (Method, bool) {
	if len(payload) < 4 {
		return Method{}, false
	}
	var sel Selector
	copy(sel[:], payload[:4])
	m, ok := bySelector[sel]
	return m, ok
}
