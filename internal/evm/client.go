// Package evm reads native and ERC20 balances from an Ethereum JSON-RPC endpoint.
package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/transport"
)

// Client is a minimal Ethereum JSON-RPC 2.0 client.
type Client struct {
	endpoint  string
	http      *transport.Client
	requestID atomic.Uint64
}

// NewClient creates a new JSON-RPC client.
func NewClient(endpoint string, opts ...transport.Option) *Client {
	return &Client{
		endpoint: endpoint,
		http:     transport.New("evm", opts...),
	}
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// callMsg is the transaction object of eth_call.
type callMsg struct {
	To   string        `json:"to"`
	Data hexutil.Bytes `json:"data"`
}

// call performs a JSON-RPC call. RPC error objects and undecodable
// responses are chain errors; transport failures are network errors.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", domain.ErrChain, err)
	}

	respBody, err := c.http.Do(ctx, method, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("%w: %s: unmarshal response: %v", domain.ErrChain, method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrChain, method, rpcResp.Error)
	}
	if result == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return fmt.Errorf("%w: %s: empty result", domain.ErrChain, method)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("%w: %s: unmarshal result: %v", domain.ErrChain, method, err)
	}
	return nil
}

// GetBalance returns the latest wei balance of address.
func (c *Client) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	var result hexutil.Big
	if err := c.call(ctx, "eth_getBalance", []interface{}{address.Hex(), "latest"}, &result); err != nil {
		return nil, err
	}
	return result.ToInt(), nil
}

// Call executes a read-only contract call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var result hexutil.Bytes
	msg := callMsg{To: to.Hex(), Data: data}
	if err := c.call(ctx, "eth_call", []interface{}{msg, "latest"}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// parseAddress validates a 0x-prefixed 20-byte hex address.
func parseAddress(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", domain.ErrChain, addr)
	}
	return common.HexToAddress(addr), nil
}
