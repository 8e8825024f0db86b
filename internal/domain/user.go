// Package domain contains core domain types for the BizMart agent service.
package domain

import (
	"time"
)

// User represents an anonymous user of the agent service.
type User struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasWallet returns true if the user has linked a wallet address.
func (u *User) HasWallet() bool {
	return u.WalletAddress != ""
}
