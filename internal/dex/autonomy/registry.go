package autonomy

import (
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type Network string

const (
	Ethereum Network = "ethereum"
	BSC      Network = "bsc"
)

// Preset holds the well-known DEX addresses of a network. Keeper contracts
// (mid-router, registry) are deployment specific and always come from config.
type Preset struct {
	ChainID       int64
	Router        common.Address
	WrappedNative common.Address
	NativeSymbol  string
}

var presets = map[Network]Preset{
	BSC: {
		ChainID:       56,
		Router:        common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E"),
		WrappedNative: common.HexToAddress("0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"),
		NativeSymbol:  "BNB",
	},
	Ethereum: {
		ChainID:       1,
		Router:        common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
		WrappedNative: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		NativeSymbol:  "ETH",
	},
}

// PresetFor returns the preset of a known network.
func PresetFor(n Network) (Preset, bool) {
	p, ok := presets[Network(strings.ToLower(string(n)))]
	return p, ok
}

type Config struct {
	Network       Network
	Router        common.Address // DEX router the mid-router swaps through
	MidRouter     common.Address // order entry points
	Registry      common.Address // keeper request registry
	WrappedNative common.Address
	Referer       common.Address
}

func (cfg Config) Validate() error {
	zero := common.Address{}
	switch {
	case cfg.Router == zero:
		return errors.New("autonomy.Config: router must be set")
	case cfg.MidRouter == zero:
		return errors.New("autonomy.Config: mid-router must be set")
	case cfg.Registry == zero:
		return errors.New("autonomy.Config: registry must be set")
	case cfg.WrappedNative == zero:
		return errors.New("autonomy.Config: wrapped native must be set")
	}
	return nil
}

// WithPreset fills unset router and wrapped-native addresses from the network preset.
func (cfg Config) WithPreset() Config {
	p, ok := PresetFor(cfg.Network)
	if !ok {
		return cfg
	}
	if cfg.Router == (common.Address{}) {
		cfg.Router = p.Router
	}
	if cfg.WrappedNative == (common.Address{}) {
		cfg.WrappedNative = p.WrappedNative
	}
	return cfg
}

type Registry struct {
	mu  sync.RWMutex
	cfg Config
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg.WithPreset()}
}

func (r *Registry) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Registry) Router() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Router
}

func (r *Registry) MidRouter() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.MidRouter
}

func (r *Registry) Registry() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Registry
}

func (r *Registry) WrappedNative() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.WrappedNative
}

func (r *Registry) Referer() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Referer
}

func (r *Registry) Update(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.WithPreset()
	r.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Registry envelope
// -----------------------------------------------------------------------------

// Request is the registry-side wrapper around an inner order call.
type Request struct {
	Target          common.Address
	Referer         common.Address
	CallData        []byte
	EthForCall      *big.Int
	VerifySender    bool
	InsertFeeAmount bool
	PayWithAUTO     bool
}

// Envelope is newReq(address,address,bytes,uint112,bool,bool,bool).
var Envelope = Method{
	Name:   "newReq",
	Schema: Schema{TypeAddress, TypeAddress, TypeBytes, TypeUint112, TypeBool, TypeBool, TypeBool},
}

func init() {
	Envelope.Selector = keccak4(Envelope.Signature())
}

// EncodeRequest builds the newReq payload for req.
func EncodeRequest(req Request) ([]byte, error) {
	eth := req.EthForCall
	if eth == nil {
		eth = new(big.Int)
	}
	return EncodeCall(Envelope, Values{
		req.Target, req.Referer, req.CallData, eth,
		req.VerifySender, req.InsertFeeAmount, req.PayWithAUTO,
	})
}

// DecodeRequest is the inverse of EncodeRequest.
func DecodeRequest(payload []byte) (Request, error) {
	sel, body, err := SplitSelector(payload)
	if err != nil {
		return Request{}, err
	}
	if sel != Envelope.Selector {
		return Request{}, errors.Wrapf(ErrNotFound, "%s is not newReq", sel.Hex())
	}
	v, err := Decode(Envelope.Schema, body)
	if err != nil {
		return Request{}, errors.Wrap(err, "newReq")
	}
	target, _ := v.Address(0)
	referer, _ := v.Address(1)
	eth, _ := v.Uint(3)
	return Request{
		Target:          target,
		Referer:         referer,
		CallData:        v[2].([]byte),
		EthForCall:      eth,
		VerifySender:    v[4].(bool),
		InsertFeeAmount: v[5].(bool),
		PayWithAUTO:     v[6].(bool),
	}, nil
}

// ABIs (minimal fragments)
const (
	RegistryABI = `[
		{"inputs":[
			{"internalType":"address","name":"target","type":"address"},
			{"internalType":"address payable","name":"referer","type":"address"},
			{"internalType":"bytes","name":"callData","type":"bytes"},
			{"internalType":"uint112","name":"ethForCall","type":"uint112"},
			{"internalType":"bool","name":"verifySender","type":"bool"},
			{"internalType":"bool","name":"insertFeeAmount","type":"bool"},
			{"internalType":"bool","name":"payWithAUTO","type":"bool"}],
		 "name":"newReq","outputs":[{"internalType":"uint256","name":"id","type":"uint256"}],
		 "stateMutability":"payable","type":"function"},

		{"inputs":[
			{"internalType":"uint256","name":"id","type":"uint256"},
			{"components":[
				{"internalType":"address payable","name":"requester","type":"address"},
				{"internalType":"address","name":"target","type":"address"},
				{"internalType":"address payable","name":"referer","type":"address"},
				{"internalType":"bytes","name":"callData","type":"bytes"},
				{"internalType":"uint112","name":"initEthSent","type":"uint112"},
				{"internalType":"uint112","name":"ethForCall","type":"uint112"},
				{"internalType":"bool","name":"verifySender","type":"bool"},
				{"internalType":"bool","name":"insertFeeAmount","type":"bool"},
				{"internalType":"bool","name":"payWithAUTO","type":"bool"}],
			 "internalType":"struct IRegistry.Request","name":"r","type":"tuple"}],
		 "name":"cancelHashedReq","outputs":[],"stateMutability":"nonpayable","type":"function"}
	]`

	RouterABI = `[
		{"inputs":[
			{"internalType":"uint256","name":"amountIn","type":"uint256"},
			{"internalType":"address[]","name":"path","type":"address[]"}],
		 "name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],
		 "stateMutability":"view","type":"function"}
	]`

	ERC20ABI = `[
		{"inputs":[],"name":"decimals","outputs":[{"type":"uint8"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"symbol","outputs":[{"type":"string"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],
		 "name":"allowance","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],
		 "name":"approve","outputs":[{"type":"bool"}],"stateMutability":"nonpayable","type":"function"}
	]`
)

var (
	registryABI abi.ABI
	routerABI   abi.ABI
	erc20ABI    abi.ABI
)

func init() {
	registryABI = mustABI(RegistryABI)
	routerABI = mustABI(RouterABI)
	erc20ABI = mustABI(ERC20ABI)
}

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("autonomy: parse abi: " + err.Error())
	}
	return parsed
}

func ParsedRegistryABI() abi.ABI { return registryABI }
func ParsedRouterABI() abi.ABI   { return routerABI }
func ParsedERC20ABI() abi.ABI    { return erc20ABI }
