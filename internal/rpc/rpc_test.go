package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/klingon-exchange/walletd/internal/notify"
	"github.com/klingon-exchange/walletd/internal/provider"
	"github.com/klingon-exchange/walletd/internal/provider/providertest"
	"github.com/klingon-exchange/walletd/internal/session"
	"github.com/klingon-exchange/walletd/internal/wallet"
)

var (
	testAccount   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testRecipient = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	testToken     = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

func TestRequest(t *testing.T) {
	tests := []struct {
		name    string
		request *Request
	}{
		{
			name:    "string id",
			request: &Request{JSONRPC: "2.0", Method: "session_status", ID: "123"},
		},
		{
			name:    "number id",
			request: &Request{JSONRPC: "2.0", Method: "session_status", ID: 1},
		},
		{
			name:    "nil id (notification)",
			request: &Request{JSONRPC: "2.0", Method: "session_status"},
		},
		{
			name: "with params",
			request: &Request{
				JSONRPC: "2.0",
				Method:  "session_send",
				Params:  json.RawMessage(`{"amount":"1.5"}`),
				ID:      1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.request)
			if err != nil {
				t.Fatalf("failed to marshal request: %v", err)
			}

			var parsed Request
			if err := json.Unmarshal(data, &parsed); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if parsed.Method != tt.request.Method {
				t.Errorf("Method = %s, want %s", parsed.Method, tt.request.Method)
			}
		})
	}
}

func TestErrorConstants(t *testing.T) {
	if ParseError != -32700 {
		t.Errorf("ParseError = %d, want -32700", ParseError)
	}
	if InvalidRequest != -32600 {
		t.Errorf("InvalidRequest = %d, want -32600", InvalidRequest)
	}
	if MethodNotFound != -32601 {
		t.Errorf("MethodNotFound = %d, want -32601", MethodNotFound)
	}
	if InvalidParams != -32602 {
		t.Errorf("InvalidParams = %d, want -32602", InvalidParams)
	}
	if InternalError != -32603 {
		t.Errorf("InternalError = %d, want -32603", InternalError)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{fmt.Errorf("%w: bad json", ErrInvalidParams), InvalidParams, ""},
		{fmt.Errorf("%w: send while sending", session.ErrOperationInProgress), CodeOperationInProgress, "operation_in_progress"},
		{session.ErrNoConfirmedTransfer, CodeNoConfirmedTransfer, "no_confirmed_transfer"},
		{wallet.ErrProviderUnavailable, CodeProviderUnavailable, "provider_unavailable"},
		{fmt.Errorf("%w: 4001", wallet.ErrAuthorizationDenied), CodeAuthorizationDenied, "authorization_denied"},
		{wallet.ErrNotConnected, CodeNotConnected, "not_connected"},
		{fmt.Errorf("%w: abc", wallet.ErrInvalidAmount), CodeInvalidAmount, "invalid_amount"},
		{wallet.ErrAssetQueryFailed, CodeAssetQueryFailed, "asset_query_failed"},
		{wallet.ErrTransferRejected, CodeTransferRejected, "transfer_rejected"},
		{wallet.ErrTransferReverted, CodeTransferReverted, "transfer_reverted"},
		{wallet.ErrTransferFailed, CodeTransferFailed, "transfer_failed"},
		{notify.ErrNotificationFailed, CodeNotificationFailed, "notification_failed"},
		{errors.New("something else"), InternalError, ""},
	}

	for _, tt := range tests {
		code, kind := errorCode(tt.err)
		if code != tt.code || kind != tt.kind {
			t.Errorf("errorCode(%v) = %d, %q, want %d, %q", tt.err, code, kind, tt.code, tt.kind)
		}
	}
}

func TestWSEvent(t *testing.T) {
	msg := WSEvent{
		Type:      EventStateChanged,
		Data:      map[string]interface{}{"state": "connected"},
		Timestamp: 1234567890,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal WSEvent: %v", err)
	}

	var parsed WSEvent
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal WSEvent: %v", err)
	}

	if parsed.Type != msg.Type {
		t.Errorf("Type = %s, want %s", parsed.Type, msg.Type)
	}
	if parsed.Timestamp != msg.Timestamp {
		t.Errorf("Timestamp = %d, want %d", parsed.Timestamp, msg.Timestamp)
	}
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		got  EventType
		want string
	}{
		{EventStateChanged, "state_changed"},
		{EventBalanceUpdated, "balance_updated"},
		{EventTransferSubmitted, "transfer_submitted"},
		{EventTransferConfirmed, "transfer_confirmed"},
		{EventNotificationResult, "notification_result"},
		{EventError, "error"},
	}
	for _, tt := range tests {
		if string(tt.got) != tt.want {
			t.Errorf("event = %s, want %s", tt.got, tt.want)
		}
	}
}

// testEnv is a running server over a fake provider and notification endpoint.
type testEnv struct {
	p       *providertest.Provider
	server  *Server
	http    *httptest.Server
	notify  *httptest.Server
	payload chan notify.Payload
}

func newTestEnv(t *testing.T, p *providertest.Provider) *testEnv {
	t.Helper()

	env := &testEnv{p: p, payload: make(chan notify.Payload, 4)}
	env.notify = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body notify.Payload
		json.NewDecoder(r.Body).Decode(&body)
		env.payload <- body
		w.Write([]byte(`{"received":true}`))
	}))

	var prov provider.Provider
	if p != nil {
		prov = p
	}
	balances := wallet.NewBalanceReader(prov)
	controller := session.New(session.Components{
		Connector: wallet.NewConnectionManager(prov, balances, 0),
		Balances:  balances,
		Transfers: wallet.NewTransferExecutor(prov, testRecipient),
		Notifier:  notify.New(env.notify.URL, time.Second),
	}, wallet.NativeAsset())

	env.server = NewServer(controller, Info{ChainID: 31337, SignerMode: "provider", Recipient: testRecipient.Hex()})
	env.http = httptest.NewServer(env.server.Handler())

	t.Cleanup(func() {
		env.http.Close()
		env.notify.Close()
		env.server.Stop()
	})
	return env
}

type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	ID      interface{}     `json:"id"`
}

func (e *testEnv) call(t *testing.T, method string, params interface{}) rawResponse {
	t.Helper()

	req := map[string]interface{}{"jsonrpc": "2.0", "method": method, "id": 1}
	if params != nil {
		req["params"] = params
	}
	body, _ := json.Marshal(req)

	resp, err := http.Post(e.http.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", method, err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var out rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s response: %v", method, err)
	}
	return out
}

func (e *testEnv) mustCall(t *testing.T, method string, params interface{}, v interface{}) {
	t.Helper()
	resp := e.call(t, method, params)
	if resp.Error != nil {
		t.Fatalf("%s error = %d %s", method, resp.Error.Code, resp.Error.Message)
	}
	if v != nil {
		if err := json.Unmarshal(resp.Result, v); err != nil {
			t.Fatalf("decode %s result: %v", method, err)
		}
	}
}

func (e *testEnv) wantError(t *testing.T, method string, params interface{}, code int) {
	t.Helper()
	resp := e.call(t, method, params)
	if resp.Error == nil {
		t.Fatalf("%s succeeded, want error %d", method, code)
	}
	if resp.Error.Code != code {
		t.Errorf("%s error code = %d (%s), want %d", method, resp.Error.Code, resp.Error.Message, code)
	}
}

func TestProtocolErrors(t *testing.T) {
	env := newTestEnv(t, providertest.New(testAccount, big.NewInt(1e18)))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{invalid json`, ParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"session_status","id":1}`, InvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"wallet_sign","id":1}`, MethodNotFound},
		{"bad params", `{"jsonrpc":"2.0","method":"session_send","params":"oops","id":1}`, InvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(env.http.URL, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			var out rawResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Fatal(err)
			}
			if out.Error == nil || out.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %d", out.Error, tt.code)
			}
		})
	}
}

func TestHTTPMethodCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPut, "/", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["state"] != string(session.StateDisconnected) {
		t.Errorf("health = %v", body)
	}

	var health NodeHealthResult
	env.mustCall(t, "node_health", nil, &health)
	if health.Status != "ok" || health.Version != Version || health.ChainID != 31337 {
		t.Errorf("node_health = %+v", health)
	}
	if health.Chain == "" || health.Recipient != testRecipient.Hex() || health.Session == "" {
		t.Errorf("node_health = %+v", health)
	}
}

func TestSessionFlow(t *testing.T) {
	p := providertest.New(testAccount, new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)))
	env := newTestEnv(t, p)

	env.wantError(t, "session_send", SendParams{Amount: "1"}, CodeNotConnected)
	env.wantError(t, "session_notify", nil, CodeNotConnected)

	var snap session.Snapshot
	env.mustCall(t, "session_connect", nil, &snap)
	if snap.State != session.StateConnected || snap.Account != testAccount.Hex() {
		t.Fatalf("connect snapshot = %+v", snap)
	}
	if snap.Balance == nil || snap.Balance.Display != "10" {
		t.Errorf("balance = %+v", snap.Balance)
	}

	env.wantError(t, "session_notify", nil, CodeNoConfirmedTransfer)
	env.wantError(t, "session_send", SendParams{Amount: "abc"}, CodeInvalidAmount)

	var receipt wallet.TransferReceipt
	env.mustCall(t, "session_send", SendParams{Amount: "1.5"}, &receipt)
	if !receipt.Confirmed || receipt.Amount != "1.5" || receipt.Recipient != testRecipient {
		t.Errorf("receipt = %+v", receipt)
	}

	var bal BalanceResult
	env.mustCall(t, "session_refreshBalance", nil, &bal)
	if !bal.Balance.Known || bal.Balance.Display == "10" {
		t.Errorf("balance after send = %+v", bal.Balance)
	}

	var notified NotifyResult
	env.mustCall(t, "session_notify", nil, &notified)
	if string(notified.Result) != `{"received":true}` {
		t.Errorf("notify result = %s", notified.Result)
	}
	select {
	case got := <-env.payload:
		if got.User != testAccount.Hex() || got.Amount != "1.5" {
			t.Errorf("notification payload = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("notification endpoint not called")
	}

	env.mustCall(t, "session_status", nil, &snap)
	if !snap.CanNotify || string(snap.LastNotification) != `{"received":true}` {
		t.Errorf("status = %+v", snap)
	}

	var after session.Snapshot
	env.mustCall(t, "session_disconnect", nil, &after)
	if after.State != session.StateDisconnected || after.Account != "" {
		t.Errorf("disconnect snapshot = %+v", after)
	}
	if after.Balance != nil || after.LastTransfer != nil || after.LastNotification != nil {
		t.Errorf("disconnect kept session data: %+v", after)
	}
}

func TestSessionSelectAsset(t *testing.T) {
	p := providertest.New(testAccount, big.NewInt(1e18))
	p.AddToken(testToken, 6, testAccount, big.NewInt(2_500_000))
	env := newTestEnv(t, p)

	var snap session.Snapshot
	env.mustCall(t, "session_connect", nil, &snap)
	env.mustCall(t, "session_selectAsset", SelectAssetParams{TokenAddress: testToken.Hex()}, &snap)
	if snap.Asset.IsNative() || snap.Balance == nil || snap.Balance.Display != "2.5" {
		t.Errorf("token snapshot = %+v", snap)
	}

	env.mustCall(t, "session_selectAsset", SelectAssetParams{}, &snap)
	if !snap.Asset.IsNative() || snap.Balance.Display != "1" {
		t.Errorf("native snapshot = %+v", snap)
	}
}

func TestSessionConnectNoProvider(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.call(t, "session_connect", nil)
	if resp.Error == nil || resp.Error.Code != CodeProviderUnavailable {
		t.Fatalf("error = %+v", resp.Error)
	}
	data, _ := resp.Error.Data.(map[string]interface{})
	if data["kind"] != "provider_unavailable" {
		t.Errorf("error data = %v", resp.Error.Data)
	}
}

func TestWebSocketEvents(t *testing.T) {
	env := newTestEnv(t, providertest.New(testAccount, big.NewInt(1e18)))

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.server.WSHub().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sub, _ := json.Marshal(WSSubscription{Action: "subscribe", Events: []string{string(EventStateChanged)}})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatal(err)
	}
	// Give the read pump a moment to apply the subscription.
	time.Sleep(50 * time.Millisecond)

	env.mustCall(t, "session_connect", nil, nil)

	var states []string
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(states) < 2 {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (states so far %v)", err, states)
		}
		for _, line := range bytes.Split(msg, []byte{'\n'}) {
			var ev struct {
				Type EventType `json:"type"`
				Data struct {
					Data struct {
						State string `json:"state"`
					} `json:"data"`
				} `json:"data"`
			}
			if err := json.Unmarshal(line, &ev); err != nil {
				t.Fatalf("bad event %s: %v", line, err)
			}
			if ev.Type != EventStateChanged {
				t.Errorf("received unsubscribed event %s", ev.Type)
				continue
			}
			states = append(states, ev.Data.Data.State)
		}
	}

	if states[0] != string(session.StateConnecting) || states[1] != string(session.StateConnected) {
		t.Errorf("states = %v", states)
	}
}

func TestWSHubFiltersBySubscription(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()
	defer hub.Stop()

	c := newWSClient(hub, nil)
	c.applySubscription(WSSubscription{Action: "subscribe", Events: []string{string(EventStateChanged)}})
	hub.register <- c

	hub.Broadcast(EventBalanceUpdated, nil)
	hub.Broadcast(EventStateChanged, nil)

	select {
	case msg := <-c.send:
		var ev WSEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type != EventStateChanged {
			t.Errorf("delivered %s, want %s", ev.Type, EventStateChanged)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribed event not delivered")
	}

	select {
	case msg := <-c.send:
		t.Errorf("unexpected extra event %s", msg)
	case <-time.After(50 * time.Millisecond):
	}

	c.applySubscription(WSSubscription{Action: "unsubscribe", Events: []string{string(EventStateChanged)}})
	if !c.wants(EventBalanceUpdated) {
		t.Error("client without subscriptions should want every event")
	}
}

func TestWSHubDropsSlowClients(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()
	defer hub.Stop()

	slow := &WSClient{hub: hub, send: make(chan []byte), subscriptions: make(map[EventType]bool)}
	fast := newWSClient(hub, nil)
	hub.register <- slow
	hub.register <- fast

	hub.Broadcast(EventStateChanged, nil)

	select {
	case <-fast.send:
	case <-time.After(2 * time.Second):
		t.Fatal("fast client got nothing")
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want 1", hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := <-slow.send; ok {
		t.Error("slow client queue should be closed")
	}
}
