package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/session"
	"github.com/klingon-exchange/walletd/internal/wallet"
)

// Version of the daemon
const Version = "0.1.0-dev"

// ========================================
// Node handlers
// ========================================

// NodeHealthResult is the response for node_health.
type NodeHealthResult struct {
	Status     string        `json:"status"`
	Version    string        `json:"version"`
	Uptime     string        `json:"uptime"`
	ChainID    uint64        `json:"chain_id,omitempty"`
	Chain      string        `json:"chain,omitempty"`
	SignerMode string        `json:"signer_mode"`
	Recipient  string        `json:"recipient"`
	NotifyURL  string        `json:"notify_url,omitempty"`
	Session    string        `json:"session"`
	State      session.State `json:"state"`
	WSClients  int           `json:"ws_clients"`
}

func (s *Server) nodeHealth(ctx context.Context, params json.RawMessage) (interface{}, error) {
	result := &NodeHealthResult{
		Status:     "ok",
		Version:    s.info.Version,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		ChainID:    s.info.ChainID,
		SignerMode: s.info.SignerMode,
		Recipient:  s.info.Recipient,
		NotifyURL:  s.info.NotifyURL,
		Session:    s.controller.ID(),
		State:      s.controller.State(),
		WSClients:  s.wsHub.ClientCount(),
	}
	if s.info.ChainID != 0 {
		result.Chain = chain.Describe(s.info.ChainID)
	}
	return result, nil
}

// ========================================
// Session handlers
// ========================================

func (s *Server) sessionStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.controller.Status(), nil
}

func (s *Server) sessionConnect(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.controller.Connect(ctx)
}

func (s *Server) sessionDisconnect(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := s.controller.Disconnect(); err != nil {
		return nil, err
	}
	return s.controller.Status(), nil
}

// SelectAssetParams is the request for session_selectAsset. An empty
// token_address selects the native asset.
type SelectAssetParams struct {
	TokenAddress string `json:"token_address"`
}

func (s *Server) sessionSelectAsset(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SelectAssetParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return s.controller.SelectAsset(ctx, p.TokenAddress)
}

// BalanceResult is the response for session_refreshBalance.
type BalanceResult struct {
	Asset   wallet.AssetRef `json:"asset"`
	Balance wallet.Balance  `json:"balance"`
}

func (s *Server) sessionRefreshBalance(ctx context.Context, params json.RawMessage) (interface{}, error) {
	balance, err := s.controller.RefreshBalance(ctx)
	if err != nil {
		return nil, err
	}
	return &BalanceResult{Asset: s.controller.Status().Asset, Balance: balance}, nil
}

// SendParams is the request for session_send.
type SendParams struct {
	Amount string `json:"amount"`
}

func (s *Server) sessionSend(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SendParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	// An in-flight transfer runs to completion even if the caller goes away.
	return s.controller.Send(context.WithoutCancel(ctx), p.Amount)
}

// NotifyResult is the response for session_notify.
type NotifyResult struct {
	Result json.RawMessage `json:"result"`
}

func (s *Server) sessionNotify(ctx context.Context, params json.RawMessage) (interface{}, error) {
	result, err := s.controller.Notify(ctx)
	if err != nil {
		return nil, err
	}
	return &NotifyResult{Result: result}, nil
}

// decodeParams unmarshals params into v. Missing params leave v zero.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
