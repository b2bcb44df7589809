package autonomy

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownSelectors(t *testing.T) {
	cases := []struct {
		hex    string
		name   string
		kind   OrderKind
		dir    SwapDirection
		schema string
	}{
		{"0xbc63cf67", "ethToTokenLimitOrder", KindLimit, NativeToToken, "address,uint256,address[],address,uint256"},
		{"0xfa089c19", "tokenToEthLimitOrder", KindLimit, TokenToNative, "address,address,uint256,uint256,address[],address,uint256"},
		{"0x9078cf66", "tokenToTokenLimitOrder", KindLimit, TokenToToken, "address,address,uint256,uint256,address[],address,uint256"},
		{"0xe2c691a8", "ethToTokenStopLoss", KindStop, NativeToToken, "address,uint256,uint256,address[],address,uint256"},
		{"0x4632bf0d", "tokenToEthStopLoss", KindStop, TokenToNative, "address,address,uint256,uint256,uint256,address[],address,uint256"},
		{"0x503bd854", "tokenToTokenStopLoss", KindStop, TokenToToken, "address,address,uint256,uint256,uint256,address[],address,uint256"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel, err := SelectorFromHex(tc.hex)
			require.NoError(t, err)

			m, err := Lookup(sel)
			require.NoError(t, err)
			assert.Equal(t, tc.name, m.Name)
			assert.Equal(t, FeePrepaid, m.Fee)

			schema, err := SchemaFor(sel)
			require.NoError(t, err)
			assert.Equal(t, tc.schema, schema.String())

			kind, err := KindFor(sel)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, kind)

			dir, err := DirectionFor(sel)
			require.NoError(t, err)
			assert.Equal(t, tc.dir, dir)
		})
	}
}

func TestUnknownSelectorNotFound(t *testing.T) {
	for i := 0; i < 256; i++ {
		var sel Selector
		_, err := rand.Read(sel[:])
		require.NoError(t, err)
		if _, known := bySelector[sel]; known {
			continue
		}

		_, err = SchemaFor(sel)
		assert.ErrorIs(t, err, ErrNotFound)
		kind, err := KindFor(sel)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, KindUnclassified, kind)
		_, err = DirectionFor(sel)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestMethodForCoversEveryShape(t *testing.T) {
	for _, dir := range []SwapDirection{NativeToToken, TokenToNative, TokenToToken} {
		for _, kind := range []OrderKind{KindLimit, KindStop} {
			for _, fee := range []FeeMode{FeePrepaid, FeePayFromProceeds} {
				m, err := MethodFor(dir, kind, fee)
				require.NoError(t, err, "%s %s %s", dir, kind, fee)
				assert.Equal(t, dir, m.Direction)
				assert.Equal(t, kind, m.Kind)
				assert.Equal(t, fee, m.Fee)

				got, err := Lookup(m.Selector)
				require.NoError(t, err)
				assert.Equal(t, m.Name, got.Name)
			}
		}
	}

	_, err := MethodFor(DirectionUnknown, KindLimit, FeePrepaid)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSlotLayout(t *testing.T) {
	for _, m := range Methods() {
		s := m.Slots
		assert.GreaterOrEqual(t, s.Router, 0, m.Name)
		assert.GreaterOrEqual(t, s.Lower, 0, m.Name)
		assert.GreaterOrEqual(t, s.Path, 0, m.Name)
		assert.Equal(t, TypeAddressArray, m.Schema[s.Path], m.Name)
		assert.Equal(t, len(m.Schema)-1, s.Deadline, m.Name)

		if m.Kind == KindStop {
			assert.Equal(t, s.Lower+1, s.Upper, m.Name)
		} else {
			assert.Equal(t, -1, s.Upper, m.Name)
		}
		if m.Direction == NativeToToken {
			assert.Equal(t, -1, s.InputAmount, m.Name)
		} else {
			assert.Equal(t, s.Router+1, s.InputAmount, m.Name)
		}
		if m.Fee == FeePayFromProceeds {
			assert.Equal(t, 0, s.User, m.Name)
			assert.Equal(t, 1, s.FeeAmount, m.Name)
		} else {
			assert.Equal(t, -1, s.FeeAmount, m.Name)
		}
	}
}

func TestClassify(t *testing.T) {
	_, ok := Classify([]byte{0xfa, 0x08})
	assert.False(t, ok)

	m, ok := Classify([]byte{0xfa, 0x08, 0x9c, 0x19, 0x00})
	require.True(t, ok)
	assert.Equal(t, "tokenToEthLimitOrder", m.Name)
	assert.Equal(t, "Limit -> Tokens for Native", m.Label())

	_, ok = Classify([]byte{0, 0, 0, 0})
	assert.False(t, ok)
}

func TestParseKindAndFee(t *testing.T) {
	k, err := ParseOrderKind("Stop-Loss")
	require.NoError(t, err)
	assert.Equal(t, KindStop, k)
	_, err = ParseOrderKind("market")
	assert.Error(t, err)

	f, err := ParseFeeMode("proceeds")
	require.NoError(t, err)
	assert.Equal(t, FeePayFromProceeds, f)
	f, err = ParseFeeMode("")
	require.NoError(t, err)
	assert.Equal(t, FeePrepaid, f)
}

func TestEnvelopeSelector(t *testing.T) {
	assert.Equal(t, "0xc1e9e7bc", Envelope.Selector.Hex())
	assert.Equal(t, "newReq(address,address,bytes,uint112,bool,bool,bool)", Envelope.Signature())
}
