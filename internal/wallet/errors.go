// Package wallet implements the wallet-side steps of a session: resolving the
// active asset, reading balances, connecting to the provider and executing
// transfers. Every step is a blocking call; sequencing and re-entrancy are
// the session controller's job.
package wallet

import "errors"

// Errors surfaced by wallet operations. Transport errors are wrapped under
// one of these so callers can classify with errors.Is.
var (
	ErrProviderUnavailable = errors.New("wallet provider unavailable")
	ErrAuthorizationDenied = errors.New("account authorization denied")
	ErrNotConnected        = errors.New("wallet not connected")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrAssetQueryFailed    = errors.New("asset query failed")
	ErrTransferRejected    = errors.New("transfer rejected by signer")
	ErrTransferReverted    = errors.New("transfer reverted on chain")
	ErrTransferFailed      = errors.New("transfer failed")
)
