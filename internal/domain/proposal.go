package domain

import (
	"time"
)

// Proposal status values.
const (
	ProposalStatusPending = "pending"
	ProposalStatusSigned  = "signed"
	ProposalStatusExpired = "expired"
)

// Proposal is a persisted market-creation proposal awaiting a user signature.
// The agent never submits market creation itself; it hands the prepared
// transaction back to the caller and records it here until the caller reports
// the signed transaction hash.
type Proposal struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	Description     string    `json:"description"`
	MetadataURI     string    `json:"metadata_uri"`
	TradingDeadline int64     `json:"trading_deadline"`
	ResolveTime     int64     `json:"resolve_time"`
	LiquidityParam  string    `json:"liquidity_param"`
	CreationFee     string    `json:"creation_fee"`
	ChainID         int64     `json:"chain_id"`
	Factory         string    `json:"factory"`
	Collateral      string    `json:"collateral"`
	Oracle          string    `json:"oracle"`
	Status          string    `json:"status"`
	TxHash          string    `json:"tx_hash,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsPending returns true if the proposal is still awaiting a signature.
func (p *Proposal) IsPending() bool {
	return p.Status == ProposalStatusPending
}
