package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/pkg/helpers"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// DefaultTokenDecimals is assumed for a token whose decimals() could not be read.
const DefaultTokenDecimals uint8 = 18

// Balance is an asset balance for one account. Known is false when the read
// failed; Raw is then zero and must not be shown as a real zero.
type Balance struct {
	Raw      *big.Int `json:"-"`
	Decimals uint8    `json:"decimals"`
	Display  string   `json:"display"`
	Known    bool     `json:"known"`
}

// NewBalance builds a known balance.
func NewBalance(raw *big.Int, decimals uint8) Balance {
	if raw == nil {
		raw = new(big.Int)
	}
	return Balance{
		Raw:      new(big.Int).Set(raw),
		Decimals: decimals,
		Display:  helpers.FormatUnits(raw, decimals),
		Known:    true,
	}
}

// UnknownBalance builds the placeholder used when a read fails.
func UnknownBalance(decimals uint8) Balance {
	return Balance{Raw: new(big.Int), Decimals: decimals, Display: "0"}
}

// ChainReader is the part of the provider the balance reader needs.
type ChainReader interface {
	ContractCaller
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// BalanceReader reads native and token balances.
type BalanceReader struct {
	chain ChainReader
	log   *logging.Logger
}

// NewBalanceReader creates a reader. A nil chain makes every read unknown.
func NewBalanceReader(c ChainReader) *BalanceReader {
	return &BalanceReader{
		chain: c,
		log:   logging.GetDefault().Component("balance"),
	}
}

// Read returns the balance of account for asset. Failures are logged and
// reported as an unknown balance rather than returned.
func (r *BalanceReader) Read(ctx context.Context, account common.Address, asset AssetRef) Balance {
	balance, err := r.ReadStrict(ctx, account, asset)
	if err != nil {
		r.log.Warn("Balance read failed", "account", account.Hex(), "asset", asset.String(), "error", err)
	}
	return balance
}

// ReadStrict is Read with the error returned. On failure the returned
// balance is unknown, at the best decimals learned before the failure.
func (r *BalanceReader) ReadStrict(ctx context.Context, account common.Address, asset AssetRef) (Balance, error) {
	if asset.IsNative() {
		return r.readNative(ctx, account)
	}
	return r.readToken(ctx, account, asset)
}

func (r *BalanceReader) readNative(ctx context.Context, account common.Address) (Balance, error) {
	if r.chain == nil {
		return UnknownBalance(chain.NativeDecimals), fmt.Errorf("%w: no provider", ErrAssetQueryFailed)
	}
	raw, err := r.chain.BalanceAt(ctx, account)
	if err != nil {
		return UnknownBalance(chain.NativeDecimals), fmt.Errorf("%w: %w", ErrAssetQueryFailed, err)
	}
	return NewBalance(raw, chain.NativeDecimals), nil
}

func (r *BalanceReader) readToken(ctx context.Context, account common.Address, asset AssetRef) (Balance, error) {
	if r.chain == nil {
		return UnknownBalance(DefaultTokenDecimals), fmt.Errorf("%w: no provider", ErrAssetQueryFailed)
	}
	token, err := newTokenContract(asset, r.chain)
	if err != nil {
		return UnknownBalance(DefaultTokenDecimals), err
	}

	decimals, err := token.Decimals(ctx)
	if err != nil {
		return UnknownBalance(DefaultTokenDecimals), err
	}

	raw, err := token.BalanceOf(ctx, account)
	if err != nil {
		return UnknownBalance(decimals), err
	}

	r.log.Debug("Token balance read", "account", account.Hex(), "token", token.address.Hex(), "decimals", decimals, "raw", raw)
	return NewBalance(raw, decimals), nil
}
