package helpers

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ReferenceDecimals is the precision human amounts are parsed at before
// being scaled down to a token's own decimals.
const ReferenceDecimals = 18

var ten = big.NewInt(10)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// ParseUnits converts a human amount ("1.5") to base units of a token with
// the given decimals. The amount is first fixed at 18 decimals, then scaled
// down by truncating integer division, so precision beyond the token's
// decimals is dropped rather than rounded.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, errors.New("empty amount")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount: %s", amount)
	}
	return DecimalToUnits(d, decimals)
}

// DecimalToUnits is ParseUnits for an already parsed amount.
func DecimalToUnits(d decimal.Decimal, decimals uint8) (*big.Int, error) {
	if d.IsNegative() {
		return nil, errors.Errorf("amount must not be negative: %s", d)
	}
	ref := d.Shift(ReferenceDecimals).Truncate(0).BigInt()
	dec := int(decimals)
	if dec >= ReferenceDecimals {
		return ref.Mul(ref, pow10(dec-ReferenceDecimals)), nil
	}
	return ref.Quo(ref, pow10(ReferenceDecimals-dec)), nil
}

// UnitsToDecimal converts base units back to a human amount.
func UnitsToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// ETH to Wei conversion
func EthToWei(ethStr string) (*big.Int, error) {
	ethStr = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(ethStr), "eth"))
	wei, err := ParseUnits(ethStr, 18)
	if err != nil {
		return nil, err
	}
	if wei.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return wei, nil
}

// Wei to ETH formatting
func FormatEth(wei *big.Int) string {
	return FormatTokenAmount(wei, 18)
}

// Gwei conversions
func GweiToWei(gweiStr string) (*big.Int, error) {
	gweiStr = strings.TrimSpace(gweiStr)
	if gweiStr == "" {
		return nil, errors.New("empty gwei amount")
	}
	d, err := decimal.NewFromString(gweiStr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid gwei amount: %s", gweiStr)
	}
	return d.Shift(9).Truncate(0).BigInt(), nil
}

func WeiToGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -9).String()
}

// Token amount formatting with decimals. Precision shrinks as the amount
// grows; trailing zeros are trimmed.
func FormatTokenAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	d := UnitsToDecimal(amount, decimals)
	abs := d.Abs()
	places := int32(2)
	switch {
	case abs.LessThan(decimal.New(1, -4)):
		places = 8
	case abs.LessThan(decimal.NewFromInt(1)):
		places = 6
	case abs.LessThan(decimal.NewFromInt(100)):
		places = 4
	}
	if int32(decimals) < places {
		places = int32(decimals)
	}
	return d.Truncate(places).String()
}

// ApplySlippageBips returns amount * (10000 - bips) / 10000.
func ApplySlippageBips(amount *big.Int, bips int) *big.Int {
	if amount == nil || bips < 0 || bips > 10000 {
		return amount
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(10000-bips)))
	return out.Quo(out, big.NewInt(10000))
}

// Format address for display
func FormatAddress(addr common.Address) string {
	hex := addr.Hex()
	if len(hex) > 10 {
		return hex[:6] + "..." + hex[len(hex)-4:]
	}
	return hex
}

// Format transaction hash for display
func FormatTxHash(hash common.Hash) string {
	hex := hash.Hex()
	if len(hex) > 12 {
		return hex[:10] + "..." + hex[len(hex)-6:]
	}
	return hex
}

var (
	// Common amounts in wei
	Wei1ETH       = big.NewInt(1e18)
	WeiCentiETH   = big.NewInt(1e16) // 0.01
	GWei1         = big.NewInt(1e9)
	MaxUint256, _ = new(big.Int).SetString("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", 16)
)
