package web3

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// msTimestampFloor is the heuristic cutoff between second and millisecond
// timestamps: values at or above it are treated as milliseconds.
const msTimestampFloor = 100_000_000_000

// placeholderOracle stands in for the signer address the UI substitutes
// before the user signs the creation transaction.
const placeholderOracle = "0x0000000000000000000000000000000000000000"

// MarketProposal is a prepared createMarket transaction handed back to the
// caller for signing. The agent's own key never submits market creation.
type MarketProposal struct {
	Type        string            `json:"type"`
	Description string            `json:"description"`
	ChainID     int64             `json:"chainId"`
	Contracts   ProposalContracts `json:"contracts"`
	Params      ProposalParams    `json:"params"`
	// RawArgs is the ordered createMarket argument tuple:
	// oracle, tradingDeadline, resolveTime, b, metadataURI.
	RawArgs []any `json:"rawArgs"`
}

// ProposalContracts names the contracts the proposal targets.
type ProposalContracts struct {
	Factory         string `json:"factory"`
	CollateralToken string `json:"collateralToken"`
}

// ProposalParams carries the createMarket parameters in display form.
type ProposalParams struct {
	Oracle          string `json:"oracle"`
	TradingDeadline int64  `json:"tradingDeadline"`
	ResolveTime     int64  `json:"resolveTime"`
	LiquidityParam  string `json:"liquidityParam"`
	MetadataURI     string `json:"metadataUri"`
	CreationFee     string `json:"creationFee"`
}

// NewMarketProposal builds a proposal from raw action parameters. Dates are
// accepted as numeric timestamps (seconds or milliseconds) or parseable
// calendar strings and normalized to whole Unix seconds.
func NewMarketProposal(cfg DispatcherConfig, metadataURI, description string, tradingDeadline, resolveTime any) (*MarketProposal, error) {
	deadline, err := NormalizeUnixSeconds(tradingDeadline)
	if err != nil {
		return nil, fmt.Errorf("invalid tradingDeadline: %w", err)
	}
	resolve, err := NormalizeUnixSeconds(resolveTime)
	if err != nil {
		return nil, fmt.Errorf("invalid resolveTime: %w", err)
	}
	if deadline >= resolve {
		return nil, fmt.Errorf("tradingDeadline (%d) must be before resolveTime (%d)", deadline, resolve)
	}

	liquidity, err := ToBaseUnits(cfg.DefaultLiquidity, usdcDecimals)
	if err != nil {
		return nil, fmt.Errorf("invalid default liquidity param: %w", err)
	}

	return &MarketProposal{
		Type:        "create_market",
		Description: description,
		ChainID:     cfg.ChainID,
		Contracts: ProposalContracts{
			Factory:         cfg.Factory,
			CollateralToken: cfg.CollateralToken,
		},
		Params: ProposalParams{
			Oracle:          placeholderOracle,
			TradingDeadline: deadline,
			ResolveTime:     resolve,
			LiquidityParam:  cfg.DefaultLiquidity,
			MetadataURI:     metadataURI,
			CreationFee:     cfg.DefaultFee,
		},
		RawArgs: []any{
			placeholderOracle,
			deadline,
			resolve,
			liquidity.String(),
			metadataURI,
		},
	}, nil
}

// NormalizeUnixSeconds converts a timestamp or date string to whole Unix
// seconds. Numeric values at or above 1e11 are treated as milliseconds.
func NormalizeUnixSeconds(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing date value")
	case int64:
		return secondsFromNumeric(t), nil
	case int:
		return secondsFromNumeric(int64(t)), nil
	case float64:
		return secondsFromNumeric(int64(t)), nil
	case string:
		return parseDateString(t)
	default:
		return 0, fmt.Errorf("unsupported date value type %T", v)
	}
}

func secondsFromNumeric(n int64) int64 {
	if n >= msTimestampFloor {
		return n / 1000
	}
	return n
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDateString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty date string")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return secondsFromNumeric(n), nil
	}

	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC().Unix(), nil
		}
	}
	return 0, fmt.Errorf("unparseable date %q", s)
}

// ToBaseUnits converts a human amount (number or decimal string) to token
// base units with the given number of decimals.
func ToBaseUnits(v any, decimals int) (*big.Int, error) {
	var text string
	switch t := v.(type) {
	case string:
		text = strings.TrimSpace(t)
	case float64:
		text = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		text = strconv.Itoa(t)
	case int64:
		text = strconv.FormatInt(t, 10)
	default:
		return nil, fmt.Errorf("unsupported amount type %T", v)
	}

	r, ok := new(big.Rat).SetString(text)
	if !ok {
		return nil, fmt.Errorf("unparseable amount %q", text)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", text)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		// Truncate sub-unit precision rather than reject.
		return new(big.Int).Quo(r.Num(), r.Denom()), nil
	}
	return r.Num(), nil
}
