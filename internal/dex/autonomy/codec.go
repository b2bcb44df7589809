package autonomy

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ArgType is one primitive slot of a schema.
type ArgType uint8

const (
	TypeAddress ArgType = iota + 1
	TypeUint256
	TypeUint112
	TypeBool
	TypeBytes
	TypeAddressArray
)

func (t ArgType) String() string {
	switch t {
	case TypeAddress:
		return "address"
	case TypeUint256:
		return "uint256"
	case TypeUint112:
		return "uint112"
	case TypeBool:
		return "bool"
	case TypeBytes:
		return "bytes"
	case TypeAddressArray:
		return "address[]"
	default:
		return "invalid"
	}
}

func (t ArgType) dynamic() bool {
	return t == TypeBytes || t == TypeAddressArray
}

func (t ArgType) bits() int {
	switch t {
	case TypeUint112:
		return 112
	case TypeUint256:
		return 256
	}
	return 0
}

// Schema is the ordered argument layout of a method.
type Schema []ArgType

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}

// Values holds decoded (or to-be-encoded) arguments in schema order:
// common.Address, *big.Int, bool, []byte, []common.Address.
type Values []any

func (v Values) Address(i int) (common.Address, bool) {
	if i < 0 || i >= len(v) {
		return common.Address{}, false
	}
	a, ok := v[i].(common.Address)
	return a, ok
}

func (v Values) Uint(i int) (*big.Int, bool) {
	if i < 0 || i >= len(v) {
		return nil, false
	}
	n, ok := v[i].(*big.Int)
	return n, ok && n != nil
}

func (v Values) Path(i int) ([]common.Address, bool) {
	if i < 0 || i >= len(v) {
		return nil, false
	}
	p, ok := v[i].([]common.Address)
	return p, ok
}

var (
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrTruncated      = errors.New("truncated input")
	ErrInvalidOffset  = errors.New("invalid offset")
	ErrTooShort       = errors.New("payload shorter than selector")
)

// abi.Type per slot kind, built once.
var abiTypes = map[ArgType]abi.Type{}

func init() {
	for _, t := range []ArgType{TypeAddress, TypeUint256, TypeUint112, TypeBool, TypeBytes, TypeAddressArray} {
		at, err := abi.NewType(t.String(), "", nil)
		if err != nil {
			panic("autonomy: abi type " + t.String() + ": " + err.Error())
		}
		abiTypes[t] = at
	}
}

func (s Schema) arguments() (abi.Arguments, error) {
	args := make(abi.Arguments, len(s))
	for i, t := range s {
		at, ok := abiTypes[t]
		if !ok {
			return nil, errors.Wrapf(ErrSchemaMismatch, "slot %d: unknown type %d", i, t)
		}
		args[i] = abi.Argument{Type: at}
	}
	return args, nil
}

// Encode serializes values with the standard head/tail ABI layout.
func Encode(schema Schema, values Values) ([]byte, error) {
	if len(values) != len(schema) {
		return nil, errors.Wrapf(ErrSchemaMismatch, "schema (%s) wants %d values, got %d",
			schema, len(schema), len(values))
	}
	for i, t := range schema {
		if err := checkValue(t, values[i]); err != nil {
			return nil, errors.Wrapf(ErrSchemaMismatch, "slot %d (%s): %v", i, t, err)
		}
	}
	args, err := schema.arguments()
	if err != nil {
		return nil, err
	}
	out, err := args.Pack(values...)
	if err != nil {
		return nil, errors.Wrapf(ErrSchemaMismatch, "pack: %v", err)
	}
	return out, nil
}

func checkValue(t ArgType, v any) error {
	switch t {
	case TypeAddress:
		if _, ok := v.(common.Address); !ok {
			return errors.Errorf("want common.Address, got %T", v)
		}
	case TypeUint256, TypeUint112:
		n, ok := v.(*big.Int)
		if !ok || n == nil {
			return errors.Errorf("want *big.Int, got %T", v)
		}
		if n.Sign() < 0 {
			return errors.New("negative integer")
		}
		if n.BitLen() > t.bits() {
			return errors.Errorf("integer overflows %s", t)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return errors.Errorf("want bool, got %T", v)
		}
	case TypeBytes:
		if _, ok := v.([]byte); !ok {
			return errors.Errorf("want []byte, got %T", v)
		}
	case TypeAddressArray:
		if _, ok := v.([]common.Address); !ok {
			return errors.Errorf("want []common.Address, got %T", v)
		}
	default:
		return errors.Errorf("unknown type %d", t)
	}
	return nil
}

// Decode is the inverse of Encode. Layout bounds are checked before the
// values are unpacked, so malformed input returns an error and never panics.
func Decode(schema Schema, data []byte) (Values, error) {
	if err := checkLayout(schema, data); err != nil {
		return nil, err
	}
	args, err := schema.arguments()
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return Values{}, nil
	}
	out, err := args.Unpack(data)
	if err != nil {
		return nil, errors.Wrapf(ErrSchemaMismatch, "unpack: %v", err)
	}
	return Values(out), nil
}

func checkLayout(schema Schema, data []byte) error {
	head := 32 * len(schema)
	if len(data) < head {
		return errors.Wrapf(ErrTruncated, "need %d head bytes, have %d", head, len(data))
	}
	for i, t := range schema {
		if !t.dynamic() {
			continue
		}
		off, ok := readInt(data, 32*i)
		if !ok || off+32 > len(data) {
			return errors.Wrapf(ErrInvalidOffset, "slot %d (%s)", i, t)
		}
		n, ok := readInt(data, off)
		if !ok {
			return errors.Wrapf(ErrTruncated, "slot %d (%s): bad length", i, t)
		}
		size := n
		if t == TypeAddressArray {
			if n > len(data)/32 {
				return errors.Wrapf(ErrTruncated, "slot %d (%s): %d elements", i, t, n)
			}
			size = 32 * n
		}
		if off+32+size > len(data) {
			return errors.Wrapf(ErrTruncated, "slot %d (%s): need %d bytes, have %d",
				i, t, off+32+size, len(data))
		}
	}
	return nil
}

// readInt reads the word at pos as a non-negative int that fits the buffer scale.
func readInt(data []byte, pos int) (int, bool) {
	if pos < 0 || pos+32 > len(data) {
		return 0, false
	}
	n := new(big.Int).SetBytes(data[pos : pos+32])
	if !n.IsInt64() || n.Int64() > int64(len(data)) {
		return 0, false
	}
	return int(n.Int64()), true
}

// SplitSelector separates the 4-byte selector from the argument block.
func SplitSelector(payload []byte) (Selector, []byte, error) {
	var sel Selector
	if len(payload) < 4 {
		return sel, nil, errors.Wrapf(ErrTooShort, "%d bytes", len(payload))
	}
	copy(sel[:], payload[:4])
	return sel, payload[4:], nil
}

// EncodeCall prefixes the encoded arguments with the method selector.
func EncodeCall(m Method, values Values) ([]byte, error) {
	body, err := Encode(m.Schema, values)
	if err != nil {
		return nil, errors.Wrap(err, m.Name)
	}
	out := make([]byte, 0, 4+len(body))
	out = append(out, m.Selector[:]...)
	return append(out, body...), nil
}

// DecodeCall resolves the selector through the method table and decodes the body.
func DecodeCall(payload []byte) (Method, Values, error) {
	sel, body, err := SplitSelector(payload)
	if err != nil {
		return Method{}, nil, err
	}
	m, err := Lookup(sel)
	if err != nil {
		return Method{}, nil, err
	}
	values, err := Decode(m.Schema, body)
	if err != nil {
		return m, nil, errors.Wrap(err, m.Name)
	}
	return m, values, nil
}
