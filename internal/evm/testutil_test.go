package evm

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

// fakeNode is an in-process JSON-RPC endpoint answering eth_getBalance and
// ERC20 eth_call requests.
type fakeNode struct {
	t      *testing.T
	abi    abi.ABI
	server *httptest.Server

	mu       sync.Mutex
	balances map[common.Address]*big.Int // eth_getBalance
	tokens   map[common.Address]*fakeToken
	calls    map[string]int // method name or ERC20 method -> count
}

type fakeToken struct {
	symbol      string
	name        string
	decimals    uint8
	bytes32Meta bool // answer symbol/name as bytes32
	holders     map[common.Address]*big.Int
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)

	n := &fakeNode{
		t:        t,
		abi:      parsed,
		balances: make(map[common.Address]*big.Int),
		tokens:   make(map[common.Address]*fakeToken),
		calls:    make(map[string]int),
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) URL() string { return n.server.URL }

func (n *fakeNode) callCount(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[name]
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var result interface{}
	switch req.Method {
	case "eth_getBalance":
		n.calls[req.Method]++
		var addr common.Address
		require.NoError(n.t, json.Unmarshal(req.Params[0], &addr))
		bal, ok := n.balances[addr]
		if !ok {
			bal = new(big.Int)
		}
		result = (*hexutil.Big)(bal)
	case "eth_call":
		var msg struct {
			To   common.Address `json:"to"`
			Data hexutil.Bytes  `json:"data"`
		}
		require.NoError(n.t, json.Unmarshal(req.Params[0], &msg))
		out, rpcErr := n.ethCall(msg.To, msg.Data)
		if rpcErr != "" {
			writeRPC(w, req.ID, nil, rpcErr)
			return
		}
		result = hexutil.Bytes(out)
	default:
		writeRPC(w, req.ID, nil, "method not found")
		return
	}
	writeRPC(w, req.ID, result, "")
}

func (n *fakeNode) ethCall(to common.Address, data []byte) ([]byte, string) {
	token, ok := n.tokens[to]
	if !ok {
		return nil, "execution reverted"
	}
	method, err := n.abi.MethodById(data[:4])
	require.NoError(n.t, err)
	n.calls[method.Name]++

	switch method.Name {
	case "balanceOf":
		args, err := method.Inputs.Unpack(data[4:])
		require.NoError(n.t, err)
		bal, ok := token.holders[args[0].(common.Address)]
		if !ok {
			bal = new(big.Int)
		}
		return n.pack(method, bal), ""
	case "symbol", "name":
		value := token.symbol
		if method.Name == "name" {
			value = token.name
		}
		if token.bytes32Meta {
			var word [32]byte
			copy(word[:], value)
			return word[:], ""
		}
		return n.pack(method, value), ""
	case "decimals":
		return n.pack(method, token.decimals), ""
	}
	return nil, "unsupported method"
}

func (n *fakeNode) pack(method *abi.Method, values ...interface{}) []byte {
	out, err := method.Outputs.Pack(values...)
	require.NoError(n.t, err)
	return out
}

func writeRPC(w http.ResponseWriter, id uint64, result interface{}, rpcErr string) {
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": id}
	if rpcErr != "" {
		resp["error"] = map[string]interface{}{"code": -32000, "message": rpcErr}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
