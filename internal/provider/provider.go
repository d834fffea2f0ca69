// Package provider talks to the wallet provider: the JSON-RPC endpoint that
// holds accounts, answers chain queries and signs transactions.
//
// Three flavours are supported. RPCProvider forwards everything, including
// signing, to the endpoint (eth_requestAccounts / eth_sendTransaction), which
// is how a browser wallet extension behaves. LocalProvider reuses an
// RPCProvider for chain access but owns the keys itself, either a single hex
// private key or accounts derived from a BIP39 mnemonic.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected = 4001
	CodeUnauthorized = 4100
)

// Errors returned by providers. Transport failures are returned wrapped as-is.
var (
	ErrUserRejected   = errors.New("user rejected the request")
	ErrUnauthorized   = errors.New("account not authorized by provider")
	ErrUnknownAccount = errors.New("account is not managed by this provider")
	ErrNoSigningKey   = errors.New("no signing key configured")
)

// Provider is the set of wallet provider primitives walletd consumes.
type Provider interface {
	// RequestAccounts asks the provider for authorized accounts. The provider
	// may prompt the user and may refuse with ErrUserRejected.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// BalanceAt returns the native balance of account in wei.
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)

	// CallContract executes a read-only contract call at the latest block.
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)

	// Signer returns a signing handle for account.
	Signer(ctx context.Context, account common.Address) (Signer, error)

	// WaitMined blocks until the transaction is included and returns its
	// receipt. It honours ctx but imposes no timeout of its own.
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// ChainID returns the chain the provider is connected to.
	ChainID(ctx context.Context) (*big.Int, error)

	// Close releases the underlying connection.
	Close()
}

// TxRequest describes a transaction to be signed and submitted.
// Gas is optional; zero lets the signer estimate it.
type TxRequest struct {
	To    common.Address
	Value *big.Int
	Data  []byte
	Gas   uint64
}

// Signer is a signing handle tied to one account.
type Signer interface {
	Address() common.Address
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
}

// classify converts EIP-1193 error codes carried by a JSON-RPC error into
// provider sentinels, leaving other errors untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case CodeUserRejected:
			return fmt.Errorf("%w: %v", ErrUserRejected, err)
		case CodeUnauthorized:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	return err
}
