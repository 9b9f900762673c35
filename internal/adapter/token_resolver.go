package adapter

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holdings-tracker/internal/circuitbreaker"
	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/logging"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
)

// ERC20 metadata ABI
const erc20MetadataABI = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// ContractCaller is the subset of ethclient.Client the resolver needs
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenResolver reads name, symbol and decimals straight from ERC20
// contracts over each chain's JSON-RPC endpoint.
type TokenResolver struct {
	parsedABI abi.ABI
	rpcURLs   map[types.ChainID]string
	breakers  *circuitbreaker.Manager

	mu      sync.Mutex
	callers map[types.ChainID]ContractCaller
}

// NewTokenResolver creates a resolver for the given chain endpoints
func NewTokenResolver(rpcURLs map[types.ChainID]string, breakers *circuitbreaker.Manager) (*TokenResolver, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(nil)
	}
	return &TokenResolver{
		parsedABI: parsed,
		rpcURLs:   rpcURLs,
		breakers:  breakers,
		callers:   make(map[types.ChainID]ContractCaller),
	}, nil
}

// SetCaller installs a caller for chain instead of dialing its RPC URL
func (r *TokenResolver) SetCaller(chain types.ChainID, caller ContractCaller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers[chain] = caller
}

func (r *TokenResolver) caller(ctx context.Context, chain types.ChainID) (ContractCaller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.callers[chain]; ok {
		return c, nil
	}

	rpcURL := r.rpcURLs[chain]
	if rpcURL == "" {
		return nil, apperrors.NewInvalidParameterError("rpc_url", fmt.Sprintf("no RPC endpoint configured for %s", chain))
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, apperrors.NewProviderError("rpc:"+string(chain), err)
	}
	r.callers[chain] = client
	return client, nil
}

// Resolve reads the ERC20 metadata of contract. A call that reverts leaves
// that field blank; a transport failure fails the lookup.
func (r *TokenResolver) Resolve(ctx context.Context, chain types.ChainID, contract string) (models.ContractMetadata, error) {
	meta := models.ContractMetadata{
		ContractAddress: types.NormalizeAddress(contract),
		Blockchain:      chain,
	}
	if !common.IsHexAddress(contract) {
		return meta, apperrors.NewInvalidParameterError("contract_address", fmt.Sprintf("%q is not a hex address", contract))
	}

	caller, err := r.caller(ctx, chain)
	if err != nil {
		return meta, err
	}

	breaker := r.breakers.Get(string(chain))
	to := common.HexToAddress(contract)
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{"chain": chain, "contract": meta.ContractAddress})

	for _, method := range []string{"name", "symbol", "decimals"} {
		var (
			out      []byte
			reverted bool
		)
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			data, err := r.parsedABI.Pack(method)
			if err != nil {
				return err
			}
			out, err = caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
			if err != nil && isRevert(err) {
				// the endpoint answered; the contract just lacks the method
				reverted = true
				return nil
			}
			return err
		})
		if err != nil {
			return meta, apperrors.NewProviderError("rpc:"+string(chain), fmt.Errorf("%s(): %w", method, err))
		}
		if reverted {
			logger.Debugf("ERC20 %s() reverted", method)
			continue
		}

		value, err := r.decode(method, out)
		if err != nil {
			logger.WithError(err).Debugf("ERC20 %s() returned undecodable data", method)
			continue
		}
		switch method {
		case "name":
			meta.TokenName = value
		case "symbol":
			meta.Ticker = value
		case "decimals":
			meta.Decimal = value
		}
	}
	return meta, nil
}

// decode unpacks a metadata call result. Older tokens return bytes32 for
// name and symbol instead of string.
func (r *TokenResolver) decode(method string, out []byte) (string, error) {
	if len(out) == 0 {
		return "", fmt.Errorf("empty result")
	}

	values, err := r.parsedABI.Unpack(method, out)
	if err == nil && len(values) == 1 {
		switch v := values[0].(type) {
		case string:
			return strings.TrimSpace(v), nil
		case uint8:
			return fmt.Sprintf("%d", v), nil
		}
	}

	if method != "decimals" && len(out) == 32 {
		return strings.TrimSpace(string(bytes.TrimRight(out, "\x00"))), nil
	}
	if err == nil {
		err = fmt.Errorf("unexpected %s() result", method)
	}
	return "", err
}

func isRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}
