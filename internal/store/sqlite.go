package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CryptoSmartNow/bizmart-agent/internal/domain"
	"github.com/CryptoSmartNow/bizmart-agent/internal/shared"
	_ "modernc.org/sqlite"
)

// ErrProposalNotPending is returned when marking a proposal signed after it
// already left the pending state.
var ErrProposalNotPending = errors.New("proposal is not pending")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes agent session writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		wallet_address TEXT,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		messages_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_updated ON agent_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS proposals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		description TEXT NOT NULL,
		metadata_uri TEXT NOT NULL,
		trading_deadline INTEGER NOT NULL,
		resolve_time INTEGER NOT NULL,
		liquidity_param TEXT NOT NULL,
		creation_fee TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		factory TEXT NOT NULL,
		collateral TEXT NOT NULL,
		oracle TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		tx_hash TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proposals_user ON proposals(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, wallet_address, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var wallet sql.NullString
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &wallet, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.WalletAddress = wallet.String
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (user_id, username, wallet_address, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			wallet_address = excluded.wallet_address,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, nullable(user.WalletAddress),
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`,
		lastSeen.Unix(), time.Now().Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	return nil
}

// GetAgentSession retrieves chat transcript state for a tab session.
func (s *SQLiteStore) GetAgentSession(ctx context.Context, userID, sessionID string) (*domain.AgentSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, session_id, messages_json, created_at, updated_at
		 FROM agent_sessions WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	)

	var sess domain.AgentSession
	var messages sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&sess.UserID, &sess.SessionID, &messages, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent session row: %w", err)
	}

	sess.MessagesJSON = messages.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// UpsertAgentSession creates or updates chat transcript state.
func (s *SQLiteStore) UpsertAgentSession(ctx context.Context, session *domain.AgentSession) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	return shared.RetrySQLite(3, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agent_sessions (user_id, session_id, messages_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id, session_id) DO UPDATE SET
				messages_json = excluded.messages_json,
				updated_at = excluded.updated_at`,
			session.UserID, session.SessionID, session.MessagesJSON,
			session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert agent session: %w", err)
		}
		return nil
	})
}

// DeleteAgentSession removes chat transcript state for a tab session.
func (s *SQLiteStore) DeleteAgentSession(ctx context.Context, userID, sessionID string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_sessions WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("delete agent session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes sessions older than TTL.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_sessions WHERE updated_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// SaveProposal persists a pending market proposal and returns its ID.
func (s *SQLiteStore) SaveProposal(ctx context.Context, p *domain.Proposal) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (
			user_id, session_id, description, metadata_uri,
			trading_deadline, resolve_time, liquidity_param, creation_fee,
			chain_id, factory, collateral, oracle, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.SessionID, p.Description, p.MetadataURI,
		p.TradingDeadline, p.ResolveTime, p.LiquidityParam, p.CreationFee,
		p.ChainID, p.Factory, p.Collateral, p.Oracle,
		domain.ProposalStatusPending, p.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert proposal: %w", err)
	}
	return res.LastInsertId()
}

// GetProposal retrieves a proposal by ID.
func (s *SQLiteStore) GetProposal(ctx context.Context, id int64) (*domain.Proposal, error) {
	row := s.db.QueryRowContext(ctx, proposalSelect+` WHERE id = ?`, id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProposals returns a user's proposals, newest first.
func (s *SQLiteStore) ListProposals(ctx context.Context, userID string) ([]*domain.Proposal, error) {
	rows, err := s.db.QueryContext(ctx,
		proposalSelect+` WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var proposals []*domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// MarkProposalSigned records the tx hash for a signed proposal.
func (s *SQLiteStore) MarkProposalSigned(ctx context.Context, id int64, txHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = ?, tx_hash = ? WHERE id = ? AND status = ?`,
		domain.ProposalStatusSigned, txHash, id, domain.ProposalStatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark proposal signed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark proposal signed: %w", err)
	}
	if affected == 0 {
		return ErrProposalNotPending
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const proposalSelect = `
	SELECT id, user_id, session_id, description, metadata_uri,
	       trading_deadline, resolve_time, liquidity_param, creation_fee,
	       chain_id, factory, collateral, oracle, status, tx_hash, created_at
	FROM proposals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*domain.Proposal, error) {
	var p domain.Proposal
	var txHash sql.NullString
	var createdAt int64

	err := row.Scan(
		&p.ID, &p.UserID, &p.SessionID, &p.Description, &p.MetadataURI,
		&p.TradingDeadline, &p.ResolveTime, &p.LiquidityParam, &p.CreationFee,
		&p.ChainID, &p.Factory, &p.Collateral, &p.Oracle, &p.Status,
		&txHash, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan proposal row: %w", err)
	}

	p.TxHash = txHash.String
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
