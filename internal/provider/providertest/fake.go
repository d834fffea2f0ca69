// Package providertest provides an in-memory wallet provider for tests. It
// models one native ledger and any number of ERC-20 tokens, mines every
// transaction immediately (or when released) and records what was sent.
package providertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/klingon-exchange/walletd/internal/provider"
)

const tokenABIJSON = `[
	{"inputs":[],"name":"decimals","outputs":[{"type":"uint8"}],"type":"function"},
	{"inputs":[{"type":"address"}],"name":"balanceOf","outputs":[{"type":"uint256"}],"type":"function"},
	{"inputs":[{"type":"address"},{"type":"uint256"}],"name":"transfer","outputs":[{"type":"bool"}],"type":"function"}
]`

var tokenABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// DefaultGasCost is charged in wei on top of the value of each native transfer.
var DefaultGasCost = big.NewInt(21000 * 1_000_000_000)

// Token is a fake ERC-20 contract.
type Token struct {
	Decimals    uint8
	Balances    map[common.Address]*big.Int
	DecimalsErr error
	BalanceErr  error

	// DecimalsCalls counts decimals() invocations.
	DecimalsCalls int
}

// Sent is one recorded submission.
type Sent struct {
	From common.Address
	Hash common.Hash
	Req  provider.TxRequest
}

// Provider is a fake provider.Provider. Zero values are usable; set fields
// before handing it to the code under test.
type Provider struct {
	mu sync.Mutex

	Accounts    []common.Address
	AccountsErr error
	Chain       uint64
	ChainErr    error

	Balances   map[common.Address]*big.Int
	BalanceErr error
	Tokens     map[common.Address]*Token

	SignerErr error
	SendErr   error
	WaitErr   error

	// Revert makes WaitMined return a failed receipt.
	Revert bool

	// Hold, when non-nil, makes WaitMined block until it is closed.
	Hold chan struct{}

	// Waiting receives a value each time WaitMined starts waiting.
	Waiting chan common.Hash

	Sent           []Sent
	AccountsCalls  int
	BalanceAtCalls int
	nonce          uint64
}

// New returns a provider with one funded account on chain 31337.
func New(account common.Address, wei *big.Int) *Provider {
	return &Provider{
		Accounts: []common.Address{account},
		Chain:    31337,
		Balances: map[common.Address]*big.Int{account: new(big.Int).Set(wei)},
		Tokens:   make(map[common.Address]*Token),
	}
}

// AddToken registers a token contract holding balance for holder.
func (p *Provider) AddToken(addr common.Address, decimals uint8, holder common.Address, balance *big.Int) *Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Tokens == nil {
		p.Tokens = make(map[common.Address]*Token)
	}
	tok := &Token{
		Decimals: decimals,
		Balances: map[common.Address]*big.Int{holder: new(big.Int).Set(balance)},
	}
	p.Tokens[addr] = tok
	return tok
}

// BalanceOf returns the current native balance of account.
func (p *Provider) BalanceOf(account common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.Balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SentCount returns how many transactions were submitted.
func (p *Provider) SentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sent)
}

// Set runs fn under the provider lock, for changing fields mid-test.
func (p *Provider) Set(fn func(p *Provider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// RequestAccounts implements provider.Provider.
func (p *Provider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AccountsCalls++
	if p.AccountsErr != nil {
		return nil, p.AccountsErr
	}
	out := make([]common.Address, len(p.Accounts))
	copy(out, p.Accounts)
	return out, nil
}

// BalanceAt implements provider.Provider.
func (p *Provider) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BalanceAtCalls++
	if p.BalanceErr != nil {
		return nil, p.BalanceErr
	}
	if b, ok := p.Balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// CallContract implements provider.Provider for decimals() and balanceOf().
func (p *Provider) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("execution reverted")
	}
	tok, ok := p.Tokens[*msg.To]
	if !ok {
		// No code at the address.
		return nil, nil
	}

	method, err := tokenABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, errors.New("execution reverted")
	}

	switch method.Name {
	case "decimals":
		tok.DecimalsCalls++
		if tok.DecimalsErr != nil {
			return nil, tok.DecimalsErr
		}
		return method.Outputs.Pack(tok.Decimals)
	case "balanceOf":
		if tok.BalanceErr != nil {
			return nil, tok.BalanceErr
		}
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		holder := args[0].(common.Address)
		bal := tok.Balances[holder]
		if bal == nil {
			bal = new(big.Int)
		}
		return method.Outputs.Pack(bal)
	}
	return nil, errors.New("execution reverted")
}

// ChainID implements provider.Provider.
func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ChainErr != nil {
		return nil, p.ChainErr
	}
	return new(big.Int).SetUint64(p.Chain), nil
}

// Signer implements provider.Provider.
func (p *Provider) Signer(ctx context.Context, account common.Address) (provider.Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SignerErr != nil {
		return nil, p.SignerErr
	}
	for _, a := range p.Accounts {
		if a == account {
			return &signer{p: p, account: account}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", provider.ErrUnknownAccount, account.Hex())
}

// WaitMined implements provider.Provider.
func (p *Provider) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	p.mu.Lock()
	hold, waiting := p.Hold, p.Waiting
	p.mu.Unlock()

	if waiting != nil {
		waiting <- txHash
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WaitErr != nil {
		return nil, p.WaitErr
	}
	status := types.ReceiptStatusSuccessful
	if p.Revert {
		status = types.ReceiptStatusFailed
	} else {
		p.apply(txHash)
	}
	return &types.Receipt{
		TxHash:      txHash,
		Status:      status,
		BlockNumber: big.NewInt(int64(p.nonce)),
		GasUsed:     21000,
	}, nil
}

// Close implements provider.Provider.
func (p *Provider) Close() {}

// apply settles a mined transaction against the fake ledgers.
func (p *Provider) apply(hash common.Hash) {
	for _, s := range p.Sent {
		if s.Hash != hash {
			continue
		}
		from := s.From
		if p.Balances == nil {
			p.Balances = make(map[common.Address]*big.Int)
		}
		if p.Balances[from] == nil {
			p.Balances[from] = new(big.Int)
		}
		cost := new(big.Int).Set(DefaultGasCost)
		if s.Req.Value != nil {
			cost.Add(cost, s.Req.Value)
			to := s.Req.To
			if p.Balances[to] == nil {
				p.Balances[to] = new(big.Int)
			}
			p.Balances[to].Add(p.Balances[to], s.Req.Value)
		}
		p.Balances[from].Sub(p.Balances[from], cost)

		if tok, ok := p.Tokens[s.Req.To]; ok && len(s.Req.Data) >= 4 {
			transfer := tokenABI.Methods["transfer"]
			if bytes.Equal(s.Req.Data[:4], transfer.ID) {
				args, err := transfer.Inputs.Unpack(s.Req.Data[4:])
				if err == nil {
					to := args[0].(common.Address)
					amount := args[1].(*big.Int)
					if tok.Balances[from] == nil {
						tok.Balances[from] = new(big.Int)
					}
					if tok.Balances[to] == nil {
						tok.Balances[to] = new(big.Int)
					}
					tok.Balances[from].Sub(tok.Balances[from], amount)
					tok.Balances[to].Add(tok.Balances[to], amount)
				}
			}
		}
		return
	}
}

// DecodeTransfer decodes transfer(to, amount) calldata.
func DecodeTransfer(data []byte) (common.Address, *big.Int, error) {
	transfer := tokenABI.Methods["transfer"]
	if len(data) < 4 || !bytes.Equal(data[:4], transfer.ID) {
		return common.Address{}, nil, errors.New("not a transfer call")
	}
	args, err := transfer.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, err
	}
	return args[0].(common.Address), args[1].(*big.Int), nil
}

type signer struct {
	p       *Provider
	account common.Address
}

func (s *signer) Address() common.Address { return s.account }

func (s *signer) SendTransaction(ctx context.Context, req provider.TxRequest) (common.Hash, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.SendErr != nil {
		return common.Hash{}, s.p.SendErr
	}
	s.p.nonce++
	hash := crypto.Keccak256Hash(s.account.Bytes(), new(big.Int).SetUint64(s.p.nonce).Bytes())
	s.p.Sent = append(s.p.Sent, Sent{From: s.account, Hash: hash, Req: req})
	return hash, nil
}

var _ provider.Provider = (*Provider)(nil)
