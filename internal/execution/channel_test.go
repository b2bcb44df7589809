package execution

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	chainID   *big.Int
	nonce     uint64
	gasPrice  *big.Int
	estimate  uint64
	callOut   []byte
	callErr   error
	sent      []*types.Transaction
	lastCalls []ethereum.CallMsg
}

func (f *fakeClient) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }
func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }
func (f *fakeClient) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.lastCalls = append(f.lastCalls, msg)
	return f.estimate, nil
}
func (f *fakeClient) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastCalls = append(f.lastCalls, msg)
	return f.callOut, f.callErr
}
func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}
func (f *fakeClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(7), nil
}

func newTestChannel(t *testing.T, client *fakeClient, gas GasConfig) *EthChannel {
	t.Helper()
	key, err := crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	ch, err := NewEthChannel(context.Background(), client, key, gas)
	require.NoError(t, err)
	return ch
}

func TestEthChannelSubmitSigns(t *testing.T) {
	client := &fakeClient{chainID: big.NewInt(56), nonce: 9, gasPrice: big.NewInt(3e9)}
	ch := newTestChannel(t, client, GasConfig{})

	call := Call{From: ch.Address(), To: target, Data: []byte{1, 2, 3}, Value: big.NewInt(1e16)}
	hash, err := ch.Submit(context.Background(), call, 120_000, big.NewInt(5e9))
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint64(9), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, target, *tx.To())
	assert.Zero(t, big.NewInt(1e16).Cmp(tx.Value()))
	assert.Zero(t, big.NewInt(5e9).Cmp(tx.GasPrice()))

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(56)), tx)
	require.NoError(t, err)
	assert.Equal(t, ch.Address(), sender)
}

func TestEthChannelRefusesForeignSender(t *testing.T) {
	client := &fakeClient{chainID: big.NewInt(56), gasPrice: big.NewInt(1)}
	ch := newTestChannel(t, client, GasConfig{})
	_, err := ch.Submit(context.Background(), Call{From: from, To: target}, 21_000, big.NewInt(1))
	assert.Error(t, err)
	assert.Empty(t, client.sent)
}

func TestEthChannelGasPrice(t *testing.T) {
	client := &fakeClient{chainID: big.NewInt(56), gasPrice: big.NewInt(10e9)}

	ch := newTestChannel(t, client, GasConfig{GasBoostPercent: 20})
	gp, err := ch.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12000000000", gp.String())

	capped := newTestChannel(t, client, GasConfig{GasBoostPercent: 20, MaxGasPrice: big.NewInt(11e9)})
	_, err = capped.GasPrice(context.Background())
	assert.Error(t, err)

	// nil price on Submit falls back to the boosted suggestion
	_, err = ch.Submit(context.Background(), Call{To: target}, 21_000, nil)
	require.NoError(t, err)
	assert.Equal(t, "12000000000", client.sent[0].GasPrice().String())
}

func TestEthChannelEnsureAllowance(t *testing.T) {
	token := common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")
	spender := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	t.Run("sufficient", func(t *testing.T) {
		client := &fakeClient{chainID: big.NewInt(56), gasPrice: big.NewInt(1), callOut: common.LeftPadBytes(big.NewInt(1000).Bytes(), 32)}
		ch := newTestChannel(t, client, GasConfig{})
		hash, err := ch.EnsureAllowance(context.Background(), token, spender, big.NewInt(1000))
		require.NoError(t, err)
		assert.Equal(t, common.Hash{}, hash)
		assert.Empty(t, client.sent)
	})

	t.Run("approves max", func(t *testing.T) {
		client := &fakeClient{chainID: big.NewInt(56), gasPrice: big.NewInt(1), estimate: 50_000, callOut: common.LeftPadBytes(big.NewInt(5).Bytes(), 32)}
		ch := newTestChannel(t, client, GasConfig{})
		hash, err := ch.EnsureAllowance(context.Background(), token, spender, big.NewInt(1000))
		require.NoError(t, err)

		require.Len(t, client.sent, 1)
		tx := client.sent[0]
		assert.Equal(t, hash, tx.Hash())
		assert.Equal(t, token, *tx.To())
		assert.Equal(t, uint64(60_000), tx.Gas())
		assert.Equal(t, []byte{0x09, 0x5e, 0xa7, 0xb3}, tx.Data()[:4])
		assert.Zero(t, math.MaxBig256.Cmp(new(big.Int).SetBytes(tx.Data()[36:68])))
	})
}

func TestEthChannelBalances(t *testing.T) {
	client := &fakeClient{chainID: big.NewInt(56), callOut: common.LeftPadBytes(big.NewInt(42).Bytes(), 32)}
	ch := newTestChannel(t, client, GasConfig{})

	bal, err := ch.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal.Int64())

	tok, err := ch.TokenBalance(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, int64(42), tok.Int64())
}
