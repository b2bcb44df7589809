package helpers

import (
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// MaxSlippageBips caps user supplied slippage at 50%.
const MaxSlippageBips = 5000

// ValidateAddress checks if an address is valid
func ValidateAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, errors.Errorf("invalid address format: %s", address)
	}

	addr := common.HexToAddress(address)
	if addr == (common.Address{}) {
		return common.Address{}, errors.New("zero address not allowed")
	}
	return addr, nil
}

// ValidateAmount checks if amount is positive
func ValidateAmount(amount *big.Int) error {
	if amount == nil {
		return errors.New("amount is nil")
	}
	if amount.Sign() <= 0 {
		return errors.New("amount must be positive")
	}
	return nil
}

// ValidatePrivateKey validates and returns the private key
func ValidatePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	if privateKeyHex == "" {
		return nil, common.Address{}, errors.New("private key is empty")
	}

	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	if len(privateKeyHex) != 64 {
		return nil, common.Address{}, errors.New("invalid private key length")
	}

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, common.Address{}, errors.Wrap(err, "invalid private key")
	}

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, common.Address{}, errors.New("invalid public key type")
	}
	return privateKey, crypto.PubkeyToAddress(*publicKeyECDSA), nil
}

// ValidateTokenPair ensures tokens differ. The zero address stands for the
// native currency, so at most one side may be zero.
func ValidateTokenPair(tokenIn, tokenOut common.Address) error {
	if tokenIn == tokenOut {
		if tokenIn == (common.Address{}) {
			return errors.New("native to native is not a swap")
		}
		return errors.New("token addresses must be different")
	}
	return nil
}

// ValidateGasPrice ensures gas price is within reasonable bounds
func ValidateGasPrice(gasPrice *big.Int, maxGasPrice *big.Int) error {
	if gasPrice == nil {
		return errors.New("gas price is nil")
	}
	if gasPrice.Sign() <= 0 {
		return errors.New("gas price must be positive")
	}
	if maxGasPrice != nil && maxGasPrice.Sign() > 0 && gasPrice.Cmp(maxGasPrice) > 0 {
		return errors.Errorf("gas price exceeds maximum: %s > %s", gasPrice, maxGasPrice)
	}
	return nil
}

// ValidateSlippageBips ensures slippage is reasonable
func ValidateSlippageBips(bips int) error {
	if bips < 0 || bips > MaxSlippageBips {
		return errors.Errorf("slippage must be between 0 and %d bips", MaxSlippageBips)
	}
	return nil
}

func ValidateDeadline(deadline, now time.Time) error {
	if !deadline.After(now) {
		return errors.Errorf("deadline %s is not in the future", deadline.UTC().Format(time.RFC3339))
	}
	return nil
}

// IsWrappedNativePair checks if one of the tokens is the wrapped native token
func IsWrappedNativePair(token0, token1, wrapped common.Address) bool {
	return token0 == wrapped || token1 == wrapped
}
