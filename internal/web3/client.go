// Package web3 maps agent actions onto the prediction-market contracts.
package web3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrWalletNotConfigured is returned by mutating actions when no signing
	// key was provided at startup.
	ErrWalletNotConfigured = errors.New("agent wallet not configured: set AGENT_PRIVATE_KEY")

	// ErrRPCNotConfigured is returned when no RPC endpoint was provided.
	ErrRPCNotConfigured = errors.New("chain RPC not configured: set RPC_URL")
)

// Client wraps the Ethereum RPC client with the agent's signing account.
// Transaction submission is serialized so nonces on the shared hot key stay
// ordered under concurrent dispatch calls.
type Client struct {
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	txMu    sync.Mutex
}

// Dial connects to the RPC endpoint and loads the optional signing key.
// An empty privKeyHex leaves the client read-only; mutating actions then
// fail fast with ErrWalletNotConfigured.
func Dial(ctx context.Context, rpcURL, privKeyHex string, chainID int64) (*Client, error) {
	if rpcURL == "" {
		return nil, ErrRPCNotConfigured
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", rpcURL, err)
	}

	c := &Client{
		eth:     eth,
		chainID: big.NewInt(chainID),
	}

	if privKeyHex != "" {
		key, err := parsePrivateKey(privKeyHex)
		if err != nil {
			return nil, err
		}
		c.key = key
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) >= 2 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse agent private key: %w", err)
	}
	return key, nil
}

// HasSigner reports whether a signing key is configured.
func (c *Client) HasSigner() bool {
	return c != nil && c.key != nil
}

// Address returns the agent's signing address, or the zero address when no
// key is configured.
func (c *Client) Address() common.Address {
	if c == nil {
		return common.Address{}
	}
	return c.address
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() int64 {
	if c == nil {
		return 0
	}
	return c.chainID.Int64()
}

// transactOpts builds signed transaction options bound to ctx.
func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if !c.HasSigner() {
		return nil, ErrWalletNotConfigured
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Reachable reports whether the RPC endpoint answers a chain ID query.
func (c *Client) Reachable(ctx context.Context) bool {
	if c == nil || c.eth == nil {
		return false
	}
	_, err := c.eth.ChainID(ctx)
	return err == nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c != nil && c.eth != nil {
		c.eth.Close()
	}
}
