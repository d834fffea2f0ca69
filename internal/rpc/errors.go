package rpc

import (
	"errors"

	"github.com/klingon-exchange/walletd/internal/notify"
	"github.com/klingon-exchange/walletd/internal/session"
	"github.com/klingon-exchange/walletd/internal/wallet"
)

// Application error codes, in the JSON-RPC server error range.
const (
	CodeProviderUnavailable = -32001
	CodeAuthorizationDenied = -32002
	CodeNotConnected        = -32003
	CodeInvalidAmount       = -32004
	CodeAssetQueryFailed    = -32005
	CodeTransferRejected    = -32006
	CodeTransferReverted    = -32007
	CodeTransferFailed      = -32008
	CodeOperationInProgress = -32009
	CodeNotificationFailed  = -32010
	CodeNoConfirmedTransfer = -32011
)

var errorCodes = []struct {
	err  error
	code int
	kind string
}{
	{ErrInvalidParams, InvalidParams, ""},
	{session.ErrOperationInProgress, CodeOperationInProgress, "operation_in_progress"},
	{session.ErrNoConfirmedTransfer, CodeNoConfirmedTransfer, "no_confirmed_transfer"},
	{wallet.ErrProviderUnavailable, CodeProviderUnavailable, "provider_unavailable"},
	{wallet.ErrAuthorizationDenied, CodeAuthorizationDenied, "authorization_denied"},
	{wallet.ErrNotConnected, CodeNotConnected, "not_connected"},
	{wallet.ErrInvalidAmount, CodeInvalidAmount, "invalid_amount"},
	{wallet.ErrAssetQueryFailed, CodeAssetQueryFailed, "asset_query_failed"},
	{wallet.ErrTransferRejected, CodeTransferRejected, "transfer_rejected"},
	{wallet.ErrTransferReverted, CodeTransferReverted, "transfer_reverted"},
	{wallet.ErrTransferFailed, CodeTransferFailed, "transfer_failed"},
	{notify.ErrNotificationFailed, CodeNotificationFailed, "notification_failed"},
}

// errorCode maps an error to a JSON-RPC code and a stable kind string.
// Unclassified errors are InternalError with an empty kind.
func errorCode(err error) (int, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code, e.kind
		}
	}
	return InternalError, ""
}
