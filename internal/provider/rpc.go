package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// DefaultPollInterval is how often WaitMined polls for a receipt.
const DefaultPollInterval = time.Second

// RPCProvider implements Provider against a JSON-RPC endpoint. Signing is
// delegated to the endpoint via eth_sendTransaction.
type RPCProvider struct {
	rpc *rpc.Client
	eth *ethclient.Client
	log *logging.Logger

	accountsMethod string
	pollInterval   time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// RPCOption configures an RPCProvider.
type RPCOption func(*RPCProvider)

// WithAccountsMethod sets the method used by RequestAccounts
// (eth_requestAccounts or eth_accounts).
func WithAccountsMethod(method string) RPCOption {
	return func(p *RPCProvider) {
		if method != "" {
			p.accountsMethod = method
		}
	}
}

// WithPollInterval sets the receipt polling interval used by WaitMined.
func WithPollInterval(d time.Duration) RPCOption {
	return func(p *RPCProvider) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// Dial connects to a JSON-RPC endpoint (http, https, ws, wss or ipc path).
func Dial(ctx context.Context, rawURL string, opts ...RPCOption) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial provider %s: %w", rawURL, err)
	}
	return NewRPCProvider(client, opts...), nil
}

// NewRPCProvider wraps an existing rpc client.
func NewRPCProvider(client *rpc.Client, opts ...RPCOption) *RPCProvider {
	p := &RPCProvider{
		rpc:            client,
		eth:            ethclient.NewClient(client),
		log:            logging.GetDefault().Component("provider"),
		accountsMethod: "eth_requestAccounts",
		pollInterval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RequestAccounts implements Provider.
func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.rpc.CallContext(ctx, &accounts, p.accountsMethod); err != nil {
		return nil, classify(fmt.Errorf("%s failed: %w", p.accountsMethod, err))
	}
	p.log.Debug("Accounts returned", "method", p.accountsMethod, "count", len(accounts))
	return accounts, nil
}

// BalanceAt implements Provider.
func (p *RPCProvider) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := p.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance failed: %w", err)
	}
	return balance, nil
}

// CallContract implements Provider.
func (p *RPCProvider) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	out, err := p.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call failed: %w", err)
	}
	return out, nil
}

// ChainID implements Provider. The value is cached after the first call.
func (p *RPCProvider) ChainID(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	cached := p.chainID
	p.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	id, err := p.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_chainId failed: %w", err)
	}

	p.mu.Lock()
	p.chainID = id
	p.mu.Unlock()
	return new(big.Int).Set(id), nil
}

// Signer implements Provider. The returned handle asks the endpoint to sign,
// so the account must be one the endpoint manages.
func (p *RPCProvider) Signer(ctx context.Context, account common.Address) (Signer, error) {
	if account == (common.Address{}) {
		return nil, ErrUnknownAccount
	}
	return &remoteSigner{provider: p, account: account}, nil
}

// WaitMined implements Provider by polling eth_getTransactionReceipt.
func (p *RPCProvider) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
		}
		p.log.Debug("Transaction not yet mined", "tx", txHash.Hex())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close implements Provider.
func (p *RPCProvider) Close() {
	p.rpc.Close()
}

// Eth exposes the typed client for local signers.
func (p *RPCProvider) Eth() *ethclient.Client {
	return p.eth
}

// remoteSigner submits transactions with eth_sendTransaction.
type remoteSigner struct {
	provider *RPCProvider
	account  common.Address
}

// sendTxArgs is the eth_sendTransaction parameter object.
type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    common.Address  `json:"to"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
}

func (s *remoteSigner) Address() common.Address {
	return s.account
}

func (s *remoteSigner) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	args := sendTxArgs{
		From: s.account,
		To:   req.To,
		Data: req.Data,
	}
	if req.Value != nil && req.Value.Sign() > 0 {
		args.Value = (*hexutil.Big)(req.Value)
	}
	if req.Gas > 0 {
		gas := hexutil.Uint64(req.Gas)
		args.Gas = &gas
	}

	var hash common.Hash
	if err := s.provider.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, classify(fmt.Errorf("eth_sendTransaction failed: %w", err))
	}

	s.provider.log.Info("Transaction submitted", "from", s.account.Hex(), "to", req.To.Hex(), "tx", hash.Hex())
	return hash, nil
}

var _ Provider = (*RPCProvider)(nil)
