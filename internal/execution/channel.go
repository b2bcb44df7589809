package execution

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
	"github.com/meltingclock/autonomy-orders/internal/helpers"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

// ChainClient is the subset of *ethclient.Client the channel needs.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// GasConfig mirrors the trade gas settings.
type GasConfig struct {
	GasBoostPercent int      // Percentage to boost gas price
	MaxGasPrice     *big.Int // Maximum gas price in wei; nil for no cap
}

// EthChannel signs and sends calls with a local key.
type EthChannel struct {
	client     ChainClient
	privateKey *ecdsa.PrivateKey
	walletAddr common.Address
	chainID    *big.Int
	gas        GasConfig
	erc20ABI   abi.ABI

	// serialises nonce fetch + send for this wallet
	sendMu sync.Mutex
}

func NewEthChannel(ctx context.Context, client ChainClient, privateKey *ecdsa.PrivateKey, gas GasConfig) (*EthChannel, error) {
	if privateKey == nil {
		return nil, errors.New("private key is required")
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get chain ID")
	}
	return &EthChannel{
		client:     client,
		privateKey: privateKey,
		walletAddr: crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    chainID,
		gas:        gas,
		erc20ABI:   autonomy.ParsedERC20ABI(),
	}, nil
}

func (c *EthChannel) Address() common.Address { return c.walletAddr }
func (c *EthChannel) ChainID() *big.Int       { return new(big.Int).Set(c.chainID) }

func (c *EthChannel) msg(call Call) ethereum.CallMsg {
	from := call.From
	if from == (common.Address{}) {
		from = c.walletAddr
	}
	to := call.To
	return ethereum.CallMsg{From: from, To: &to, Value: call.Value, Data: call.Data}
}

func (c *EthChannel) EstimateGas(ctx context.Context, call Call) (uint64, error) {
	return c.client.EstimateGas(ctx, c.msg(call))
}

func (c *EthChannel) StaticCall(ctx context.Context, call Call) ([]byte, error) {
	return c.client.CallContract(ctx, c.msg(call), nil)
}

// Submit signs call with the channel key and broadcasts it. A nil gasPrice
// uses the boosted network suggestion.
func (c *EthChannel) Submit(ctx context.Context, call Call, gasLimit uint64, gasPrice *big.Int) (common.Hash, error) {
	if call.From != (common.Address{}) && call.From != c.walletAddr {
		return common.Hash{}, errors.Errorf("channel wallet %s cannot send for %s", c.walletAddr.Hex(), call.From.Hex())
	}
	if gasPrice == nil {
		var err error
		if gasPrice, err = c.GasPrice(ctx); err != nil {
			return common.Hash{}, errors.Wrap(err, "calculate gas price")
		}
	}
	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.client.PendingNonceAt(ctx, c.walletAddr)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pending nonce")
	}

	tx := types.NewTransaction(nonce, call.To, value, gasLimit, gasPrice, call.Data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, err
	}

	telemetry.Debugf("[channel] sent nonce=%d to=%s value=%s gas=%d price=%s gwei",
		nonce, call.To.Hex(), helpers.FormatEth(value), gasLimit, helpers.WeiToGwei(gasPrice))
	return signedTx.Hash(), nil
}

// GasPrice calculates the gas price: network suggestion plus boost, capped.
func (c *EthChannel) GasPrice(ctx context.Context) (*big.Int, error) {
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	if c.gas.GasBoostPercent > 0 {
		boost := big.NewInt(100 + int64(c.gas.GasBoostPercent))
		gasPrice = new(big.Int).Mul(gasPrice, boost)
		gasPrice = new(big.Int).Div(gasPrice, big.NewInt(100))
	}

	if c.gas.MaxGasPrice != nil && c.gas.MaxGasPrice.Sign() > 0 && gasPrice.Cmp(c.gas.MaxGasPrice) > 0 {
		return nil, errors.Errorf("gas price %s exceeds max %s",
			helpers.WeiToGwei(gasPrice), helpers.WeiToGwei(c.gas.MaxGasPrice))
	}
	return gasPrice, nil
}

// Balance returns the wallet's native balance.
func (c *EthChannel) Balance(ctx context.Context) (*big.Int, error) {
	return c.client.BalanceAt(ctx, c.walletAddr, nil)
}

func (c *EthChannel) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "balanceOf", c.walletAddr)
}

func (c *EthChannel) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "allowance", c.walletAddr, spender)
}

// EnsureAllowance approves spender for max uint256 when the current allowance
// is below amount. Returns the zero hash when no approval was needed.
func (c *EthChannel) EnsureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	allowance, err := c.Allowance(ctx, token, spender)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "read allowance")
	}
	if allowance.Cmp(amount) >= 0 {
		return common.Hash{}, nil
	}

	data, err := c.erc20ABI.Pack("approve", spender, math.MaxBig256)
	if err != nil {
		return common.Hash{}, err
	}
	call := Call{From: c.walletAddr, To: token, Data: data}
	gas, err := c.EstimateGas(ctx, call)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "estimate approve")
	}
	hash, err := c.Submit(ctx, call, gas*12/10, nil)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "approve")
	}
	telemetry.Infof("[channel] approved %s for %s tx=%s",
		helpers.FormatAddress(spender), helpers.FormatAddress(token), helpers.FormatTxHash(hash))
	return hash, nil
}

func (c *EthChannel) callUint(ctx context.Context, token common.Address, method string, args ...any) (*big.Int, error) {
	data, err := c.erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(result), nil
}
