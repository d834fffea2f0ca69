package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
)

// rpcFailure is a JSON-RPC error returned by a fake method.
type rpcFailure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type fakeMethod func(params []json.RawMessage) (interface{}, *rpcFailure)

// fakeNode is a minimal JSON-RPC 2.0 endpoint for provider tests.
type fakeNode struct {
	t       *testing.T
	mu      sync.Mutex
	methods map[string]fakeMethod
	calls   map[string]int
	server  *httptest.Server
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{
		t:       t,
		methods: make(map[string]fakeMethod),
		calls:   make(map[string]int),
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) handle(method string, fn fakeMethod) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.methods[method] = fn
}

func (n *fakeNode) result(method string, v interface{}) {
	n.handle(method, func([]json.RawMessage) (interface{}, *rpcFailure) { return v, nil })
}

func (n *fakeNode) fail(method string, code int, msg string) {
	n.handle(method, func([]json.RawMessage) (interface{}, *rpcFailure) {
		return nil, &rpcFailure{Code: code, Message: msg}
	})
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	fn, ok := n.methods[req.Method]
	n.calls[req.Method]++
	n.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case !ok:
		resp["error"] = rpcFailure{Code: -32601, Message: "method not found: " + req.Method}
	default:
		result, failure := fn(req.Params)
		if failure != nil {
			resp["error"] = failure
		} else {
			resp["result"] = result
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// provider returns an RPCProvider connected to the fake node.
func (n *fakeNode) provider(opts ...RPCOption) *RPCProvider {
	n.t.Helper()
	client, err := rpc.DialContext(context.Background(), n.server.URL)
	if err != nil {
		n.t.Fatalf("dial fake node: %v", err)
	}
	p := NewRPCProvider(client, opts...)
	n.t.Cleanup(p.Close)
	return p
}

// receiptJSON returns a receipt object as eth_getTransactionReceipt reports it.
func receiptJSON(txHash string, status string) map[string]interface{} {
	return map[string]interface{}{
		"transactionHash":   txHash,
		"transactionIndex":  "0x0",
		"blockHash":         "0x" + repeatHex("ab", 32),
		"blockNumber":       "0x10",
		"cumulativeGasUsed": "0x5208",
		"gasUsed":           "0x5208",
		"effectiveGasPrice": "0x3b9aca00",
		"contractAddress":   nil,
		"logs":              []interface{}{},
		"logsBloom":         "0x" + repeatHex("00", 256),
		"status":            status,
		"type":              "0x0",
	}
}

func repeatHex(b string, n int) string {
	out := make([]byte, 0, len(b)*n)
	for i := 0; i < n; i++ {
		out = append(out, b...)
	}
	return string(out)
}
