package planner

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
)

// Token describes one side of a trade. The zero address is the native currency.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

func (t Token) IsNative() bool { return t.Address == (common.Address{}) }

// NativeToken returns the native currency descriptor for a chain.
func NativeToken(symbol string) Token {
	return Token{Symbol: symbol, Decimals: 18}
}

// TradeIntent is what the user asked for. Amounts are human decimals.
type TradeIntent struct {
	Input        Token
	Output       Token
	InputAmount  decimal.Decimal
	OutputBound  decimal.Decimal // limit: minimum out; stop: trigger maximum
	SlippageBips int
	Requester    common.Address
	Recipient    common.Address // defaults to Requester
	Deadline     time.Time
	Kind         autonomy.OrderKind
	FeeMode      autonomy.FeeMode
}

// Direction derives the swap direction from the token pair.
func (in TradeIntent) Direction() autonomy.SwapDirection {
	switch {
	case in.Input.IsNative() && !in.Output.IsNative():
		return autonomy.NativeToToken
	case !in.Input.IsNative() && in.Output.IsNative():
		return autonomy.TokenToNative
	case !in.Input.IsNative() && !in.Output.IsNative():
		return autonomy.TokenToToken
	}
	return autonomy.DirectionUnknown
}

func (in TradeIntent) recipient() common.Address {
	if in.Recipient == (common.Address{}) {
		return in.Requester
	}
	return in.Recipient
}

// FeeOnTransferList reports tokens that take a cut on every transfer.
type FeeOnTransferList interface {
	IsFeeOnTransfer(token common.Address) bool
}

// TokenSet is a static FeeOnTransferList.
type TokenSet map[common.Address]struct{}

func NewTokenSet(addrs ...string) TokenSet {
	s := make(TokenSet, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if common.IsHexAddress(a) {
			s[common.HexToAddress(a)] = struct{}{}
		}
	}
	return s
}

func (s TokenSet) IsFeeOnTransfer(token common.Address) bool {
	_, ok := s[token]
	return ok
}
