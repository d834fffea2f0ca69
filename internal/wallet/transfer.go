package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/provider"
	"github.com/klingon-exchange/walletd/pkg/helpers"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// TransferReceipt tracks one submitted transfer. Confirmed flips to true once
// the chain includes the transaction successfully and never changes after.
type TransferReceipt struct {
	ID          string         `json:"id"`
	TxHash      common.Hash    `json:"tx_hash"`
	Confirmed   bool           `json:"confirmed"`
	Account     common.Address `json:"account"`
	Recipient   common.Address `json:"recipient"`
	Asset       AssetRef       `json:"asset"`
	Amount      string         `json:"amount"`
	Units       *big.Int       `json:"-"`
	Decimals    uint8          `json:"decimals"`
	BlockNumber uint64         `json:"block_number,omitempty"`
	GasUsed     uint64         `json:"gas_used,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	ConfirmedAt time.Time      `json:"confirmed_at,omitempty"`
}

// TransferExecutor validates, submits and confirms transfers to a fixed
// recipient.
type TransferExecutor struct {
	provider  provider.Provider
	recipient common.Address
	log       *logging.Logger
}

// SendOption adjusts a single Send call.
type SendOption func(*sendOptions)

type sendOptions struct {
	onSubmitted func(TransferReceipt)
}

// WithSubmitted runs fn once the provider accepts the transaction, before the
// confirmation wait. fn receives the unconfirmed receipt and applies to this
// call only.
func WithSubmitted(fn func(TransferReceipt)) SendOption {
	return func(o *sendOptions) {
		o.onSubmitted = fn
	}
}

// NewTransferExecutor creates an executor sending to recipient. p may be nil,
// meaning no provider is present.
func NewTransferExecutor(p provider.Provider, recipient common.Address) *TransferExecutor {
	return &TransferExecutor{
		provider:  p,
		recipient: recipient,
		log:       logging.GetDefault().Component("transfer"),
	}
}

// Recipient returns the configured recipient.
func (e *TransferExecutor) Recipient() common.Address {
	return e.recipient
}

// Send transfers amount of asset from the session account to the recipient
// and waits for confirmation. The session and amount are validated before any
// network call. Nothing is retried.
func (e *TransferExecutor) Send(ctx context.Context, session Session, asset AssetRef, amount string, opts ...SendOption) (*TransferReceipt, error) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !session.HasAccount() {
		return nil, ErrNotConnected
	}
	amount = strings.TrimSpace(amount)
	if err := helpers.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if e.provider == nil {
		return nil, ErrProviderUnavailable
	}

	signer, err := e.provider.Signer(ctx, session.Account)
	if err != nil {
		return nil, e.submitError("signer", err)
	}

	req, decimals, units, err := e.buildRequest(ctx, asset, amount)
	if err != nil {
		return nil, err
	}

	hash, err := signer.SendTransaction(ctx, req)
	if err != nil {
		return nil, e.submitError("submit", err)
	}

	receipt := &TransferReceipt{
		ID:          uuid.NewString(),
		TxHash:      hash,
		Account:     session.Account,
		Recipient:   e.recipient,
		Asset:       asset,
		Amount:      amount,
		Units:       units,
		Decimals:    decimals,
		SubmittedAt: time.Now(),
	}
	e.log.Info("Transfer submitted",
		"id", receipt.ID,
		"tx", hash.Hex(),
		"asset", asset.String(),
		"amount", amount,
		"units", units,
	)
	if o.onSubmitted != nil {
		o.onSubmitted(*receipt)
	}

	mined, err := e.provider.WaitMined(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s: %w", ErrTransferFailed, hash.Hex(), err)
	}
	if mined.BlockNumber != nil {
		receipt.BlockNumber = mined.BlockNumber.Uint64()
	}
	receipt.GasUsed = mined.GasUsed

	if mined.Status != types.ReceiptStatusSuccessful {
		e.log.Warn("Transfer reverted", "id", receipt.ID, "tx", hash.Hex(), "block", receipt.BlockNumber)
		return nil, fmt.Errorf("%w: %s in block %d", ErrTransferReverted, hash.Hex(), receipt.BlockNumber)
	}

	receipt.Confirmed = true
	receipt.ConfirmedAt = time.Now()
	e.log.Info("Transfer confirmed", "id", receipt.ID, "tx", hash.Hex(), "block", receipt.BlockNumber, "gas_used", receipt.GasUsed)
	return receipt, nil
}

// buildRequest converts the amount with the asset's decimals and builds the
// transaction. Token decimals are read from the contract on every call.
func (e *TransferExecutor) buildRequest(ctx context.Context, asset AssetRef, amount string) (provider.TxRequest, uint8, *big.Int, error) {
	if asset.IsNative() {
		units, err := helpers.ParseUnits(amount, chain.NativeDecimals)
		if err != nil {
			return provider.TxRequest{}, 0, nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
		}
		return provider.TxRequest{To: e.recipient, Value: units}, chain.NativeDecimals, units, nil
	}

	token, err := newTokenContract(asset, e.provider)
	if err != nil {
		return provider.TxRequest{}, 0, nil, err
	}
	decimals, err := token.Decimals(ctx)
	if err != nil {
		return provider.TxRequest{}, 0, nil, err
	}
	units, err := helpers.ParseUnits(amount, decimals)
	if err != nil {
		return provider.TxRequest{}, 0, nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	data, err := PackTransfer(e.recipient, units)
	if err != nil {
		return provider.TxRequest{}, 0, nil, fmt.Errorf("%w: pack transfer: %w", ErrTransferFailed, err)
	}
	return provider.TxRequest{To: token.address, Data: data}, decimals, units, nil
}

// submitError classifies a signer or submission failure.
func (e *TransferExecutor) submitError(stage string, err error) error {
	if errors.Is(err, provider.ErrUserRejected) {
		e.log.Info("Transfer declined by signer", "stage", stage)
		return fmt.Errorf("%w: %w", ErrTransferRejected, err)
	}
	e.log.Warn("Transfer submission failed", "stage", stage, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrTransferFailed, stage, err)
}
