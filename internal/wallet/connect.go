package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/provider"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// Session is the connected wallet state.
type Session struct {
	Account   common.Address
	ChainID   uint64
	Connected bool

	// Accounts is everything the provider authorized. Only Account, the
	// first entry, is ever used.
	Accounts []common.Address
}

// HasAccount reports whether the session has a usable account.
func (s Session) HasAccount() bool {
	return s.Connected && s.Account != (common.Address{})
}

// ConnectionManager links a session to the wallet provider.
type ConnectionManager struct {
	provider        provider.Provider
	balances        *BalanceReader
	expectedChainID uint64
	log             *logging.Logger
}

// NewConnectionManager creates a connection manager. p may be nil, meaning
// no provider is present. expectedChainID zero accepts any chain.
func NewConnectionManager(p provider.Provider, balances *BalanceReader, expectedChainID uint64) *ConnectionManager {
	return &ConnectionManager{
		provider:        p,
		balances:        balances,
		expectedChainID: expectedChainID,
		log:             logging.GetDefault().Component("connect"),
	}
}

// Connect requests account authorization and reads the initial balance of
// asset. A failed balance read does not fail the connection.
func (m *ConnectionManager) Connect(ctx context.Context, asset AssetRef) (Session, Balance, error) {
	if m.provider == nil {
		return Session{}, Balance{}, ErrProviderUnavailable
	}

	accounts, err := m.provider.RequestAccounts(ctx)
	if err != nil {
		if errors.Is(err, provider.ErrUserRejected) || errors.Is(err, provider.ErrUnauthorized) {
			return Session{}, Balance{}, fmt.Errorf("%w: %w", ErrAuthorizationDenied, err)
		}
		return Session{}, Balance{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if len(accounts) == 0 {
		return Session{}, Balance{}, fmt.Errorf("%w: provider returned no accounts", ErrAuthorizationDenied)
	}

	id, err := m.provider.ChainID(ctx)
	if err != nil {
		return Session{}, Balance{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	chainID := id.Uint64()
	if m.expectedChainID != 0 && chainID != m.expectedChainID {
		return Session{}, Balance{}, fmt.Errorf("%w: provider is on %s, expected %s",
			ErrProviderUnavailable, chain.Describe(chainID), chain.Describe(m.expectedChainID))
	}

	session := Session{
		Account:   accounts[0],
		ChainID:   chainID,
		Connected: true,
		Accounts:  accounts,
	}
	if len(accounts) > 1 {
		m.log.Debug("Provider returned several accounts, using the first", "count", len(accounts))
	}

	balance := m.balances.Read(ctx, session.Account, asset)

	m.log.Info("Wallet connected",
		"account", session.Account.Hex(),
		"chain", chain.Describe(chainID),
		"asset", asset.String(),
		"balance", balance.Display,
		"symbol", Symbol(chainID, asset),
		"known", balance.Known,
	)
	return session, balance, nil
}
