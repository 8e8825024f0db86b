package web3

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// minUserCountVersion is the first market contract version exposing the
// userCount reader. Older deployments never had it; the capability is
// reported explicitly instead of silently defaulting to zero.
const minUserCountVersion = 2

// TokenBalance returns the agent account's collateral balance as a human
// decimal string.
func (c *Client) TokenBalance(ctx context.Context, token, account string) (string, error) {
	tokenAddr, err := parseAddress(token)
	if err != nil {
		return "", err
	}
	accountAddr, err := parseAddress(account)
	if err != nil {
		return "", err
	}

	bound := c.boundToken(tokenAddr)
	raw, err := c.callUint256(ctx, bound, "balanceOf", accountAddr)
	if err != nil {
		return "", err
	}
	decimals, err := c.callUint8(ctx, bound, "decimals")
	if err != nil {
		return "", err
	}

	return formatBaseUnits(raw, int(decimals)), nil
}

// MarketState is a read-only snapshot of one market contract.
type MarketState struct {
	Address         string `json:"address"`
	MetadataURI     string `json:"metadataUri"`
	TradingDeadline int64  `json:"tradingDeadline"`
	YesPool         string `json:"yesPool"`
	NoPool          string `json:"noPool"`
	UserCount       uint64 `json:"userCount"`
	// UserCountSupported is false for pre-v2 contracts that never exposed
	// the reader; UserCount is then meaningless, not zero participants.
	UserCountSupported bool `json:"userCountSupported"`
}

// MarketSnapshot reads the public state of a market contract.
func (c *Client) MarketSnapshot(ctx context.Context, market string) (*MarketState, error) {
	addr, err := parseAddress(market)
	if err != nil {
		return nil, err
	}
	bound := c.boundMarket(addr)

	uri, err := c.callString(ctx, bound, "metadataURI")
	if err != nil {
		return nil, err
	}
	deadline, err := c.callUint256(ctx, bound, "tradingDeadline")
	if err != nil {
		return nil, err
	}
	yes, err := c.callUint256(ctx, bound, "yesPool")
	if err != nil {
		return nil, err
	}
	no, err := c.callUint256(ctx, bound, "noPool")
	if err != nil {
		return nil, err
	}

	state := &MarketState{
		Address:         addr.Hex(),
		MetadataURI:     uri,
		TradingDeadline: deadline.Int64(),
		YesPool:         formatBaseUnits(yes, usdcDecimals),
		NoPool:          formatBaseUnits(no, usdcDecimals),
	}

	count, supported, err := c.marketUserCount(ctx, addr)
	if err != nil {
		return nil, err
	}
	state.UserCount = count
	state.UserCountSupported = supported

	return state, nil
}

// marketUserCount reads userCount where the contract version supports it.
// The version probe itself failing means a v1 contract without version(),
// which also predates userCount.
func (c *Client) marketUserCount(ctx context.Context, marketAddr common.Address) (uint64, bool, error) {
	bound := c.boundMarket(marketAddr)

	version, err := c.callUint8(ctx, bound, "version")
	if err != nil {
		return 0, false, nil
	}
	if version < minUserCountVersion {
		return 0, false, nil
	}

	count, err := c.callUint256(ctx, bound, "userCount")
	if err != nil {
		return 0, true, fmt.Errorf("userCount on v%d market: %w", version, err)
	}
	return count.Uint64(), true, nil
}

// MarketCount returns the number of markets the factory has deployed.
func (c *Client) MarketCount(ctx context.Context, factory string) (uint64, error) {
	addr, err := parseAddress(factory)
	if err != nil {
		return 0, err
	}
	count, err := c.callUint256(ctx, c.boundFactory(addr), "marketCount")
	if err != nil {
		return 0, err
	}
	return count.Uint64(), nil
}

// formatBaseUnits renders base units as a decimal string, trimming trailing
// zeros in the fractional part.
func formatBaseUnits(v *big.Int, decimals int) string {
	if decimals <= 0 {
		return v.String()
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(v, scale, new(big.Int))

	fracStr := fmt.Sprintf("%0*d", decimals, frac)
	fracStr = trimRightZeros(fracStr)
	if fracStr == "" {
		return whole.String()
	}
	return whole.String() + "." + fracStr
}

func trimRightZeros(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	return s[:i]
}
