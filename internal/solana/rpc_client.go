package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"solana-candle-lab/internal/scheduler"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0. When a Limiter is
// configured, every call is admitted through it, keyed by RPC method.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	limiter     Limiter
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for transport errors.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial backoff delay between retries.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithLimiter routes all requests through the given rate limiter.
func WithLimiter(l Limiter) ClientOption {
	return func(c *HTTPClient) {
		c.limiter = l
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
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

// Compile-time interface check.
var _ RPCClient = (*HTTPClient)(nil)

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

// call performs one JSON-RPC call, through the limiter when configured.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if c.limiter == nil {
		return c.doCall(ctx, method, params, result)
	}
	return c.limiter.Execute(ctx, method, func(ctx context.Context) error {
		return c.doCall(ctx, method, params, result)
	})
}

// doCall performs a JSON-RPC call with retries and exponential backoff for
// transport errors. A 429 is returned as a scheduler.RateLimitError so the
// limiter can compute an exact backoff instead of guessing here.
func (c *HTTPClient) doCall(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
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

// callBatch performs a batched JSON-RPC request and returns raw results in
// request order.
func (c *HTTPClient) callBatch(ctx context.Context, method string, paramSets [][]interface{}) ([]json.RawMessage, error) {
	if len(paramSets) == 0 {
		return nil, nil
	}

	reqs := make([]rpcRequest, len(paramSets))
	baseID := c.requestID.Add(uint64(len(paramSets))) - uint64(len(paramSets)) + 1
	for i, params := range paramSets {
		reqs[i] = rpcRequest{
			JSONRPC: "2.0",
			ID:      baseID + uint64(i),
			Method:  method,
			Params:  params,
		}
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	var respBody []byte
	run := func(ctx context.Context) error {
		var perr error
		respBody, perr = c.post(ctx, body)
		return perr
	}
	if c.limiter != nil {
		err = c.limiter.Execute(ctx, method, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	var resps []rpcResponse
	if err := json.Unmarshal(respBody, &resps); err != nil {
		return nil, fmt.Errorf("unmarshal batch response: %w", err)
	}

	// Responses may arrive out of order; index by request ID.
	results := make([]json.RawMessage, len(paramSets))
	for _, resp := range resps {
		idx := int(resp.ID - baseID)
		if idx < 0 || idx >= len(results) {
			continue
		}
		if resp.Error != nil {
			continue // per-item errors leave a nil entry
		}
		results[idx] = resp.Result
	}
	return results, nil
}

// post sends the request body with transport-level retries.
func (c *HTTPClient) post(ctx context.Context, body []byte) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		retryAfter := resp.Header.Get("Retry-After")
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := time.Duration(0)
			if secs, perr := strconv.Atoi(retryAfter); perr == nil {
				wait = time.Duration(secs) * time.Second
			}
			return nil, &scheduler.RateLimitError{RetryAfter: wait}
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		return respBody, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// transactionParams builds getTransaction params for one signature.
func transactionParams(signature string) []interface{} {
	return []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}
}

// GetTransaction fetches one confirmed transaction with full meta.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error) {
	var result getTransactionResult
	if err := c.call(ctx, "getTransaction", transactionParams(signature), &result); err != nil {
		return nil, err
	}
	if result.Slot == 0 && result.BlockTime == nil {
		return nil, nil // transaction not found
	}
	return result.toDetail(signature), nil
}

// GetTransactions fetches several transactions in one batched request.
func (c *HTTPClient) GetTransactions(ctx context.Context, signatures []string) ([]*TransactionDetail, error) {
	paramSets := make([][]interface{}, len(signatures))
	for i, sig := range signatures {
		paramSets[i] = transactionParams(sig)
	}

	raws, err := c.callBatch(ctx, "getTransaction", paramSets)
	if err != nil {
		return nil, err
	}

	details := make([]*TransactionDetail, len(signatures))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		var result getTransactionResult
		if err := json.Unmarshal(raw, &result); err != nil {
			continue // malformed entries are skipped, not fatal
		}
		if result.Slot == 0 && result.BlockTime == nil {
			continue
		}
		details[i] = result.toDetail(signatures[i])
	}
	return details, nil
}

// getTransactionResult is the raw RPC response for getTransaction.
type getTransactionResult struct {
	Slot        int64             `json:"slot"`
	BlockTime   *int64            `json:"blockTime"`
	Meta        *rawMeta          `json:"meta"`
	Transaction *rawTransaction   `json:"transaction"`
}

type rawMeta struct {
	Err               interface{}           `json:"err"`
	Fee               uint64                `json:"fee"`
	PreBalances       []uint64              `json:"preBalances"`
	PostBalances      []uint64              `json:"postBalances"`
	PreTokenBalances  []rawTokenBalance     `json:"preTokenBalances"`
	PostTokenBalances []rawTokenBalance     `json:"postTokenBalances"`
	InnerInstructions []InnerInstructionSet `json:"innerInstructions"`
	LoadedAddresses   *rawLoadedAddresses   `json:"loadedAddresses"`
	LogMessages       []string              `json:"logMessages"`
}

type rawLoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

type rawTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"uiTokenAmount"`
}

type rawTransaction struct {
	Signatures []string `json:"signatures"`
	Message    *struct {
		AccountKeys  []string      `json:"accountKeys"`
		Instructions []Instruction `json:"instructions"`
	} `json:"message"`
}

func (r *getTransactionResult) toDetail(signature string) *TransactionDetail {
	tx := &TransactionDetail{
		Signature: signature,
		Slot:      r.Slot,
	}
	if r.BlockTime != nil {
		tx.BlockTime = *r.BlockTime
	}
	if r.Meta != nil {
		meta := &TransactionMeta{
			Err:               r.Meta.Err,
			Fee:               r.Meta.Fee,
			PreBalances:       r.Meta.PreBalances,
			PostBalances:      r.Meta.PostBalances,
			InnerInstructions: r.Meta.InnerInstructions,
			LogMessages:       r.Meta.LogMessages,
		}
		for _, tb := range r.Meta.PreTokenBalances {
			meta.PreTokenBalances = append(meta.PreTokenBalances, tb.toTokenBalance())
		}
		for _, tb := range r.Meta.PostTokenBalances {
			meta.PostTokenBalances = append(meta.PostTokenBalances, tb.toTokenBalance())
		}
		if r.Meta.LoadedAddresses != nil {
			meta.LoadedWritable = r.Meta.LoadedAddresses.Writable
			meta.LoadedReadonly = r.Meta.LoadedAddresses.Readonly
		}
		tx.Meta = meta
	}
	if r.Transaction != nil && r.Transaction.Message != nil {
		tx.Message = &TransactionMessage{
			AccountKeys:  r.Transaction.Message.AccountKeys,
			Instructions: r.Transaction.Message.Instructions,
		}
		if len(r.Transaction.Signatures) > 0 {
			tx.Signature = r.Transaction.Signatures[0]
		}
	}
	return tx
}

func (tb rawTokenBalance) toTokenBalance() TokenBalance {
	return TokenBalance{
		AccountIndex: tb.AccountIndex,
		Mint:         tb.Mint,
		Owner:        tb.Owner,
		Amount:       tb.UITokenAmount.Amount,
		Decimals:     tb.UITokenAmount.Decimals,
	}
}

// GetSignaturesForAddress retrieves signatures for an address with pagination.
func (c *HTTPClient) GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error) {
	config := make(map[string]interface{})
	if opts != nil {
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Until != "" {
			config["until"] = opts.Until
		}
		if opts.Limit > 0 {
			config["limit"] = opts.Limit
		}
	}

	params := []interface{}{address}
	if len(config) > 0 {
		params = append(params, config)
	}

	var result []getSignaturesResult
	if err := c.call(ctx, "getSignaturesForAddress", params, &result); err != nil {
		return nil, err
	}

	sigs := make([]SignatureInfo, len(result))
	for i, r := range result {
		sigs[i] = SignatureInfo{
			Signature: r.Signature,
			Slot:      r.Slot,
			BlockTime: r.BlockTime,
			Err:       r.Err,
		}
	}
	return sigs, nil
}

// getSignaturesResult is the raw RPC response item for getSignaturesForAddress.
type getSignaturesResult struct {
	Signature string      `json:"signature"`
	Slot      int64       `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// GetAccountInfo retrieves account info by public key.
// Returns nil if the account is not found.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error) {
	params := []interface{}{
		pubkey,
		map[string]interface{}{
			"encoding": "base64",
		},
	}

	var result getAccountInfoResult
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, nil
	}

	info := &AccountInfo{
		Lamports:   result.Value.Lamports,
		Owner:      result.Value.Owner,
		Executable: result.Value.Executable,
		RentEpoch:  result.Value.RentEpoch,
	}
	if len(result.Value.Data) >= 1 {
		data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
		if err != nil {
			return nil, fmt.Errorf("decode account data: %w", err)
		}
		info.Data = data
	}
	return info, nil
}

type getAccountInfoResult struct {
	Value *getAccountInfoValue `json:"value"`
}

type getAccountInfoValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [base64_data, encoding]
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

// GetSlot retrieves the current slot.
func (c *HTTPClient) GetSlot(ctx context.Context) (int64, error) {
	var result int64
	if err := c.call(ctx, "getSlot", nil, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// GetBlockTime retrieves the estimated production time of a block.
func (c *HTTPClient) GetBlockTime(ctx context.Context, slot int64) (*int64, error) {
	params := []interface{}{slot}
	var result *int64
	if err := c.call(ctx, "getBlockTime", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}
