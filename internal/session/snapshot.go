package session

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/klingon-exchange/walletd/internal/wallet"
)

// Snapshot is a point-in-time copy of the session for display.
type Snapshot struct {
	ID               string                  `json:"id"`
	State            State                   `json:"state"`
	Account          string                  `json:"account,omitempty"`
	ChainID          uint64                  `json:"chain_id,omitempty"`
	Asset            wallet.AssetRef         `json:"asset"`
	Symbol           string                  `json:"symbol,omitempty"`
	Balance          *wallet.Balance         `json:"balance,omitempty"`
	Pending          *wallet.TransferReceipt `json:"pending,omitempty"`
	LastTransfer     *wallet.TransferReceipt `json:"last_transfer,omitempty"`
	LastNotification json.RawMessage         `json:"last_notification,omitempty"`
	CanNotify        bool                    `json:"can_notify"`
	LastError        string                  `json:"last_error,omitempty"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// Connected reports whether the snapshot has a usable account.
func (s Snapshot) Connected() bool {
	return s.Account != ""
}

// snapshotLocked copies the session. Caller holds c.mu.
func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        c.id,
		State:     c.state,
		Asset:     c.asset,
		LastError: c.lastError,
		UpdatedAt: c.updatedAt,
	}
	if c.session.HasAccount() {
		snap.Account = c.session.Account.Hex()
		snap.ChainID = c.session.ChainID
		snap.Symbol = wallet.Symbol(c.session.ChainID, c.asset)
	}
	if c.balance != nil {
		b := *c.balance
		b.Raw = copyInt(c.balance.Raw)
		snap.Balance = &b
	}
	snap.Pending = copyReceipt(c.pending)
	if c.lastTransfer != nil {
		snap.LastTransfer = copyReceipt(c.lastTransfer)
		snap.CanNotify = c.lastTransfer.Confirmed && c.state == StateConnected
	}
	if c.lastNotification != nil {
		snap.LastNotification = append(json.RawMessage(nil), c.lastNotification...)
	}
	return snap
}

func copyReceipt(r *wallet.TransferReceipt) *wallet.TransferReceipt {
	if r == nil {
		return nil
	}
	out := *r
	out.Units = copyInt(r.Units)
	return &out
}

func copyInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

// EventType names an event published by the controller.
type EventType string

const (
	EventStateChanged       EventType = "state_changed"
	EventBalanceUpdated     EventType = "balance_updated"
	EventTransferSubmitted  EventType = "transfer_submitted"
	EventTransferConfirmed  EventType = "transfer_confirmed"
	EventNotificationResult EventType = "notification_result"
	EventError              EventType = "error"
)

// Event is delivered to observers.
type Event struct {
	Type    EventType   `json:"type"`
	Session string      `json:"session"`
	Data    interface{} `json:"data"`
}

// StateEvent is the payload of EventStateChanged.
type StateEvent struct {
	State State `json:"state"`
}

// BalanceEvent is the payload of EventBalanceUpdated.
type BalanceEvent struct {
	Account common.Address  `json:"account"`
	Asset   wallet.AssetRef `json:"asset"`
	Balance wallet.Balance  `json:"balance"`
}

// NotificationEvent is the payload of EventNotificationResult.
type NotificationEvent struct {
	Account common.Address  `json:"account"`
	Amount  string          `json:"amount"`
	Result  json.RawMessage `json:"result"`
}

// ErrorEvent is the payload of EventError.
type ErrorEvent struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

func (c *Controller) emit(t EventType, data interface{}) {
	c.obsMu.RLock()
	observers := c.observers
	c.obsMu.RUnlock()

	ev := Event{Type: t, Session: c.id, Data: data}
	for _, fn := range observers {
		fn(ev)
	}
}

func (c *Controller) emitState(s State) {
	c.emit(EventStateChanged, StateEvent{State: s})
}

func (c *Controller) emitBalance(account common.Address, asset wallet.AssetRef, b wallet.Balance) {
	c.emit(EventBalanceUpdated, BalanceEvent{Account: account, Asset: asset, Balance: b})
}
