// Package session implements the wallet session controller: the state machine
// that sequences connection, balance reads, transfers and notifications for a
// single user session.
//
// States move Disconnected -> Connecting -> Connected, and from Connected
// through Sending or Notifying back to Connected. Only one operation runs at a
// time; anything attempted while another is in flight fails with
// ErrOperationInProgress and leaves the session untouched. Network calls are
// made without holding the controller lock so Status stays responsive.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/klingon-exchange/walletd/internal/wallet"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// State is a controller state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateSending      State = "sending"
	StateNotifying    State = "notifying"
)

// Errors returned by the controller in addition to the wallet and notify ones.
var (
	ErrOperationInProgress = errors.New("another operation is in progress")
	ErrNoConfirmedTransfer = errors.New("no confirmed transfer to notify")
)

// Connector establishes the provider connection.
type Connector interface {
	Connect(ctx context.Context, asset wallet.AssetRef) (wallet.Session, wallet.Balance, error)
}

// BalanceSource reads balances, degrading to unknown on failure.
type BalanceSource interface {
	Read(ctx context.Context, account common.Address, asset wallet.AssetRef) wallet.Balance
}

// Transferer submits a transfer and waits for it to confirm. Options are
// per call; a transferer may be shared between controllers.
type Transferer interface {
	Send(ctx context.Context, session wallet.Session, asset wallet.AssetRef, amount string, opts ...wallet.SendOption) (*wallet.TransferReceipt, error)
}

// Notifier forwards a confirmed transfer summary.
type Notifier interface {
	Notify(ctx context.Context, account common.Address, amount string) (json.RawMessage, error)
}

// Components are the collaborators a controller drives.
type Components struct {
	Connector Connector
	Balances  BalanceSource
	Transfers Transferer
	Notifier  Notifier
}

// Controller owns one wallet session.
type Controller struct {
	id   string
	deps Components
	log  *logging.Logger

	mu               sync.Mutex
	state            State
	busy             bool
	session          wallet.Session
	asset            wallet.AssetRef
	balance          *wallet.Balance
	pending          *wallet.TransferReceipt
	lastTransfer     *wallet.TransferReceipt
	lastNotification json.RawMessage
	lastError        string
	updatedAt        time.Time

	obsMu     sync.RWMutex
	observers []func(Event)
}

// New creates a controller in the Disconnected state, working with asset.
func New(deps Components, asset wallet.AssetRef) *Controller {
	c := &Controller{
		id:        uuid.NewString(),
		deps:      deps,
		state:     StateDisconnected,
		asset:     asset,
		updatedAt: time.Now(),
	}
	c.log = logging.GetDefault().Component("session").With("session", c.id[:8])
	return c
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// Subscribe registers fn for every event. Observers run synchronously on the
// goroutine of the operation and must not block or call back into the
// controller.
func (c *Controller) Subscribe(fn func(Event)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

// Connect requests account authorization and reads the balance of the
// current asset. On failure the controller returns to the state it was in.
func (c *Controller) Connect(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Snapshot{}, c.reject("connect")
	}
	prev := c.state
	asset := c.asset
	c.begin(StateConnecting)
	c.mu.Unlock()
	c.emitState(StateConnecting)

	session, balance, err := c.deps.Connector.Connect(ctx, asset)

	c.mu.Lock()
	if err != nil {
		c.end(prev)
		c.lastError = err.Error()
		c.mu.Unlock()
		c.fail("connect", err)
		c.emitState(prev)
		return Snapshot{}, err
	}
	if c.session.Account != session.Account {
		c.lastTransfer = nil
		c.lastNotification = nil
	}
	c.session = session
	c.balance = &balance
	c.lastError = ""
	c.end(StateConnected)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info("Session connected", "account", session.Account.Hex(), "chain_id", session.ChainID)
	c.emitBalance(session.Account, asset, balance)
	c.emitState(StateConnected)
	return snap, nil
}

// Disconnect drops the session, its balance and its transfer history.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return c.reject("disconnect")
	}
	wasConnected := c.state == StateConnected
	c.session = wallet.Session{}
	c.balance = nil
	c.lastTransfer = nil
	c.lastNotification = nil
	c.lastError = ""
	c.state = StateDisconnected
	c.updatedAt = time.Now()
	c.mu.Unlock()

	if wasConnected {
		c.log.Info("Session disconnected")
		c.emitState(StateDisconnected)
	}
	return nil
}

// SelectAsset switches the active asset from the token address input (blank
// for native). A different asset discards the cached balance and, when
// connected, reads the new one.
func (c *Controller) SelectAsset(ctx context.Context, tokenAddressInput string) (Snapshot, error) {
	asset := wallet.Resolve(tokenAddressInput)

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Snapshot{}, c.reject("select_asset")
	}
	if asset.Equal(c.asset) {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	c.asset = asset
	c.balance = nil
	c.updatedAt = time.Now()
	if c.state != StateConnected {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.log.Info("Asset selected", "asset", asset.String())
		return snap, nil
	}
	account := c.session.Account
	c.busy = true
	c.mu.Unlock()

	c.log.Info("Asset selected", "asset", asset.String())
	balance := c.deps.Balances.Read(ctx, account, asset)

	c.mu.Lock()
	c.balance = &balance
	c.busy = false
	c.updatedAt = time.Now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emitBalance(account, asset, balance)
	return snap, nil
}

// RefreshBalance re-reads the balance of the current asset.
func (c *Controller) RefreshBalance(ctx context.Context) (wallet.Balance, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return wallet.Balance{}, c.reject("refresh_balance")
	}
	if c.state != StateConnected {
		c.mu.Unlock()
		return wallet.Balance{}, wallet.ErrNotConnected
	}
	account, asset := c.session.Account, c.asset
	c.busy = true
	c.mu.Unlock()

	balance := c.deps.Balances.Read(ctx, account, asset)

	c.mu.Lock()
	c.balance = &balance
	c.busy = false
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.emitBalance(account, asset, balance)
	return balance, nil
}

// Send transfers amount of the current asset to the configured recipient and
// waits for confirmation. On success the balance is re-read and the receipt
// becomes the last transfer; on failure both stay as they were.
func (c *Controller) Send(ctx context.Context, amount string) (*wallet.TransferReceipt, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, c.reject("send")
	}
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, wallet.ErrNotConnected
	}
	session, asset := c.session, c.asset
	c.begin(StateSending)
	c.mu.Unlock()
	c.emitState(StateSending)

	receipt, err := c.deps.Transfers.Send(ctx, session, asset, amount, wallet.WithSubmitted(c.transferSubmitted))
	if err != nil {
		c.mu.Lock()
		c.pending = nil
		c.lastError = err.Error()
		c.end(StateConnected)
		c.mu.Unlock()
		c.fail("send", err)
		c.emitState(StateConnected)
		return nil, err
	}

	c.emit(EventTransferConfirmed, receipt)
	balance := c.deps.Balances.Read(ctx, session.Account, asset)

	c.mu.Lock()
	c.pending = nil
	c.lastTransfer = receipt
	c.lastNotification = nil
	c.balance = &balance
	c.lastError = ""
	c.end(StateConnected)
	c.mu.Unlock()

	c.emitBalance(session.Account, asset, balance)
	c.emitState(StateConnected)
	return receipt, nil
}

// Notify forwards the last confirmed transfer's account and amount. The
// controller returns to Connected whatever the outcome.
func (c *Controller) Notify(ctx context.Context) (json.RawMessage, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, c.reject("notify")
	}
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, wallet.ErrNotConnected
	}
	if c.lastTransfer == nil || !c.lastTransfer.Confirmed {
		c.mu.Unlock()
		return nil, ErrNoConfirmedTransfer
	}
	account, amount := c.lastTransfer.Account, c.lastTransfer.Amount
	c.begin(StateNotifying)
	c.mu.Unlock()
	c.emitState(StateNotifying)

	result, err := c.deps.Notifier.Notify(ctx, account, amount)

	c.mu.Lock()
	if err == nil {
		c.lastNotification = result
		c.lastError = ""
	} else {
		c.lastError = err.Error()
	}
	c.end(StateConnected)
	c.mu.Unlock()

	if err != nil {
		c.fail("notify", err)
		c.emitState(StateConnected)
		return nil, err
	}
	c.emit(EventNotificationResult, NotificationEvent{Account: account, Amount: amount, Result: result})
	c.emitState(StateConnected)
	return result, nil
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// begin marks an operation in flight. Caller holds c.mu.
func (c *Controller) begin(state State) {
	c.busy = true
	c.state = state
	c.updatedAt = time.Now()
}

// end settles into a stable state. Caller holds c.mu.
func (c *Controller) end(state State) {
	c.busy = false
	c.state = state
	c.updatedAt = time.Now()
}

func (c *Controller) transferSubmitted(r wallet.TransferReceipt) {
	c.mu.Lock()
	c.pending = &r
	c.mu.Unlock()
	c.emit(EventTransferSubmitted, r)
}

func (c *Controller) reject(op string) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	err := fmt.Errorf("%w: %s while %s", ErrOperationInProgress, op, state)
	c.log.Debug("Operation rejected", "op", op, "state", state)
	c.emit(EventError, ErrorEvent{Operation: op, Error: err.Error()})
	return err
}

func (c *Controller) fail(op string, err error) {
	c.log.Warn("Operation failed", "op", op, "error", err)
	c.emit(EventError, ErrorEvent{Operation: op, Error: err.Error()})
}
