// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/CryptoSmartNow/bizmart-agent/internal/domain"
)

// Repository defines the interface for persisting users, chat sessions,
// and pending market proposals.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetAgentSession retrieves chat transcript state for a tab session.
	GetAgentSession(ctx context.Context, userID, sessionID string) (*domain.AgentSession, error)

	// UpsertAgentSession creates or updates chat transcript state.
	UpsertAgentSession(ctx context.Context, session *domain.AgentSession) error

	// DeleteAgentSession removes chat transcript state for a tab session.
	DeleteAgentSession(ctx context.Context, userID, sessionID string) error

	// CleanupExpiredSessions removes sessions older than TTL.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// SaveProposal persists a pending market proposal and returns its ID.
	SaveProposal(ctx context.Context, p *domain.Proposal) (int64, error)

	// GetProposal retrieves a proposal by ID.
	GetProposal(ctx context.Context, id int64) (*domain.Proposal, error)

	// ListProposals returns a user's proposals, newest first.
	ListProposals(ctx context.Context, userID string) ([]*domain.Proposal, error)

	// MarkProposalSigned records the tx hash for a signed proposal. The
	// update only happens while the proposal is still pending.
	MarkProposalSigned(ctx context.Context, id int64, txHash string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
