package web3

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// usdcDecimals is the fixed-point scale of the collateral token.
const usdcDecimals = 6

// ABI shapes are fixed external interface data owned by the deployed
// contracts, embedded here as strings.
const (
	erc20ABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"faucet","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]}
	]`

	factoryABI = `[
		{"name":"createMarket","type":"function","stateMutability":"nonpayable","inputs":[{"name":"oracle","type":"address"},{"name":"tradingDeadline","type":"uint256"},{"name":"resolveTime","type":"uint256"},{"name":"b","type":"uint256"},{"name":"metadataURI","type":"string"}],"outputs":[{"name":"market","type":"address"}]},
		{"name":"marketCount","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`

	marketABI = `[
		{"name":"buyYes","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"buyNo","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"resolve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"outcome","type":"uint8"}],"outputs":[]},
		{"name":"redeem","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
		{"name":"metadataURI","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"tradingDeadline","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"yesPool","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"noPool","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"version","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"userCount","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`
)

var (
	parsedERC20ABI   = mustParseABI(erc20ABI)
	parsedFactoryABI = mustParseABI(factoryABI)
	parsedMarketABI  = mustParseABI(marketABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("web3: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

func (c *Client) boundToken(addr common.Address) *bind.BoundContract {
	return bind.NewBoundContract(addr, parsedERC20ABI, c.eth, c.eth, c.eth)
}

func (c *Client) boundFactory(addr common.Address) *bind.BoundContract {
	return bind.NewBoundContract(addr, parsedFactoryABI, c.eth, c.eth, c.eth)
}

func (c *Client) boundMarket(addr common.Address) *bind.BoundContract {
	return bind.NewBoundContract(addr, parsedMarketABI, c.eth, c.eth, c.eth)
}

// transact submits a state-changing call under the submission lock.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...any) (*types.Transaction, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return tx, nil
}

func (c *Client) callUint256(ctx context.Context, contract *bind.BoundContract, method string, args ...any) (*big.Int, error) {
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return v, nil
}

func (c *Client) callString(ctx context.Context, contract *bind.BoundContract, method string) (string, error) {
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	v, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return v, nil
}

func (c *Client) callUint8(ctx context.Context, contract *bind.BoundContract, method string) (uint8, error) {
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return v, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
