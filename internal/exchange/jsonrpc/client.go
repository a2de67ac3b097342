// Package jsonrpc reaches a remote exchange over HTTP JSON-RPC 2.0.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/exchange"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Client implements exchange.Exchange against a JSON-RPC endpoint.
//
// Read-only calls are retried with exponential backoff. Swaps are sent once:
// a retried swap could execute twice on the remote side.
type Client struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for read-only calls.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a remote exchange client.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// swapAccounts names the custody accounts a swap settles against.
type swapAccounts struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type swapResult struct {
	AmountOut uint64 `json:"amountOut"`
}

// call performs a JSON-RPC call, retrying transport failures up to retries times.
func (c *Client) call(ctx context.Context, method string, params []any, result any, retries int) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}

	if retries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// PoolConfig fetches the pair the remote pool trades.
func (c *Client) PoolConfig(ctx context.Context) (exchange.PoolConfig, error) {
	var raw struct {
		TokenA string `json:"tokenA"`
		TokenB string `json:"tokenB"`
	}
	if err := c.call(ctx, "getPoolConfig", nil, &raw, c.maxRetries); err != nil {
		return exchange.PoolConfig{}, fmt.Errorf("get pool config: %w", err)
	}

	a, err := domain.ParseAsset(raw.TokenA)
	if err != nil {
		return exchange.PoolConfig{}, fmt.Errorf("%w: token a: %v", domain.ErrInvalidPoolConfiguration, err)
	}
	b, err := domain.ParseAsset(raw.TokenB)
	if err != nil {
		return exchange.PoolConfig{}, fmt.Errorf("%w: token b: %v", domain.ErrInvalidPoolConfiguration, err)
	}
	return exchange.PoolConfig{TokenA: a, TokenB: b}, nil
}

// Swap submits the encoded instruction and settles the reported output.
// The remote side is trusted to enforce the minimum output and price limit.
func (c *Client) Swap(ctx context.Context, s exchange.Settlement, req exchange.SwapRequest) error {
	cfg, err := c.PoolConfig(ctx)
	if err != nil {
		return err
	}

	data, err := req.MarshalBinary()
	if err != nil {
		return err
	}

	params := []any{
		base64.StdEncoding.EncodeToString(data),
		swapAccounts{
			Source:      req.SourceAccount.String(),
			Destination: req.DestinationAccount.String(),
		},
	}

	var result swapResult
	if err := c.call(ctx, "swap", params, &result, 0); err != nil {
		return fmt.Errorf("swap: %w", err)
	}

	src, dst := req.Assets(cfg)
	if err := s.Debit(ctx, req.SourceAccount, src, req.AmountIn); err != nil {
		return fmt.Errorf("take input: %w", err)
	}
	if err := s.Credit(ctx, req.DestinationAccount, dst, result.AmountOut); err != nil {
		return fmt.Errorf("pay output: %w", err)
	}
	return nil
}

var _ exchange.Exchange = (*Client)(nil)
