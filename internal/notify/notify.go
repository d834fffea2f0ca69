// Package notify forwards a summary of a confirmed transfer to the backend
// notification endpoint.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// DefaultTimeout bounds a single notification request.
const DefaultTimeout = 15 * time.Second

// RequestIDHeader carries a per-request id so the backend can correlate logs.
const RequestIDHeader = "X-Request-ID"

// ErrNotificationFailed is returned for any transport, status or decode failure.
var ErrNotificationFailed = errors.New("notification failed")

// Payload is the request body.
type Payload struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

// Forwarder posts transfer summaries to one endpoint.
type Forwarder struct {
	url    string
	client *resty.Client
	log    *logging.Logger
}

// New creates a forwarder for url. timeout zero uses DefaultTimeout.
func New(url string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	return &Forwarder{
		url:    url,
		client: client,
		log:    logging.GetDefault().Component("notify"),
	}
}

// URL returns the endpoint.
func (f *Forwarder) URL() string {
	return f.url
}

// Notify sends one request and returns the response body as-is. It is not
// retried and changes no local state.
func (f *Forwarder) Notify(ctx context.Context, account common.Address, amount string) (json.RawMessage, error) {
	if f.url == "" {
		return nil, fmt.Errorf("%w: no endpoint configured", ErrNotificationFailed)
	}

	requestID := uuid.NewString()
	payload := Payload{User: account.Hex(), Amount: amount}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader(RequestIDHeader, requestID).
		SetBody(payload).
		Post(f.url)
	if err != nil {
		f.log.Warn("Notification request failed", "request_id", requestID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}

	if !resp.IsSuccess() {
		f.log.Warn("Notification endpoint returned an error", "request_id", requestID, "status", resp.StatusCode())
		return nil, fmt.Errorf("%w: endpoint returned %s", ErrNotificationFailed, resp.Status())
	}

	body := resp.Body()
	if !json.Valid(body) {
		f.log.Warn("Notification response is not JSON", "request_id", requestID, "bytes", len(body))
		return nil, fmt.Errorf("%w: response is not JSON", ErrNotificationFailed)
	}

	f.log.Info("Notification delivered", "request_id", requestID, "user", payload.User, "amount", amount, "status", resp.StatusCode())
	return json.RawMessage(append([]byte(nil), body...)), nil
}
