// Package marketdata implements the market-data REST client used to fetch
// OHLCV history and token/pool metadata. Every request is admitted through
// the shared scheduler; the client never talks to the API directly.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/scheduler"
)

// DefaultBaseURL is the public GeckoTerminal API root.
const DefaultBaseURL = "https://api.geckoterminal.com/api/v2"

const defaultNetwork = "solana"

// msThreshold separates millisecond from second timestamps. Values above it
// cannot be plausible unix seconds and are treated as milliseconds.
const msThreshold = 1_000_000_000_000

// Limiter admits one call through a shared rate-limit window.
type Limiter interface {
	Execute(ctx context.Context, endpoint string, fn func(context.Context) error) error
}

// Row is one OHLCV row as returned by the API, timestamps normalized to
// unix seconds.
type Row struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// PoolInfo is one trading venue from a token lookup.
type PoolInfo struct {
	Address      string
	DexID        string
	PoolType     string
	Volume24hUSD float64
	ReserveUSD   float64
	CreatedAt    int64
}

// TokenLookup bundles the metadata and venues returned by LookupToken.
type TokenLookup struct {
	Token domain.TokenInfo
	Pools []PoolInfo
}

// Client is a rate-limited market-data API client.
type Client struct {
	baseURL    string
	network    string
	httpClient *http.Client
	limiter    Limiter
	logger     *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLimiter routes requests through the given scheduler.
func WithLimiter(l Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithNetwork overrides the chain network segment in request paths.
func WithNetwork(network string) ClientOption {
	return func(c *Client) { c.network = network }
}

// WithLogger sets the client's logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a market-data client. An empty baseURL selects the
// public API.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		network:    defaultNetwork,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// timeframePath maps a timeframe onto the API's {unit, aggregate} pair.
func timeframePath(tf domain.Timeframe) (unit string, aggregate int, err error) {
	switch tf {
	case domain.Timeframe1m:
		return "minute", 1, nil
	case domain.Timeframe15m:
		return "minute", 15, nil
	case domain.Timeframe1h:
		return "hour", 1, nil
	case domain.Timeframe4h:
		return "hour", 4, nil
	case domain.Timeframe1d:
		return "day", 1, nil
	default:
		return "", 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
}

type ohlcvResponse struct {
	Data struct {
		Attributes struct {
			OHLCVList [][]float64 `json:"ohlcv_list"`
		} `json:"attributes"`
	} `json:"data"`
}

// FetchOHLCV returns up to limit candles for the pool, ending strictly
// before the given unix-second timestamp (0 means now). Rows that fail the
// OHLC sanity check are dropped rather than passed through.
func (c *Client) FetchOHLCV(ctx context.Context, poolAddress string, tf domain.Timeframe, before int64, limit int) ([]Row, error) {
	unit, aggregate, err := timeframePath(tf)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}

	q := url.Values{}
	q.Set("aggregate", strconv.Itoa(aggregate))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("currency", "usd")
	if before > 0 {
		q.Set("before_timestamp", strconv.FormatInt(before, 10))
	}
	path := fmt.Sprintf("/networks/%s/pools/%s/ohlcv/%s", c.network, poolAddress, unit)

	var resp ohlcvResponse
	if err := c.get(ctx, "ohlcv", path, q, &resp); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(resp.Data.Attributes.OHLCVList))
	dropped := 0
	for _, tuple := range resp.Data.Attributes.OHLCVList {
		r, ok := parseRow(tuple)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, r)
	}
	if dropped > 0 {
		c.logger.Printf("dropped %d malformed ohlcv rows for pool %s", dropped, poolAddress)
	}
	return rows, nil
}

// parseRow validates one [ts, o, h, l, c, v] tuple. Timestamps in
// milliseconds are normalized to seconds. Malformed rows fail closed.
func parseRow(tuple []float64) (Row, bool) {
	if len(tuple) < 6 {
		return Row{}, false
	}
	for _, v := range tuple {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Row{}, false
		}
	}
	ts := int64(tuple[0])
	if ts > msThreshold {
		ts /= 1000
	}
	r := Row{
		Timestamp: ts,
		Open:      tuple[1],
		High:      tuple[2],
		Low:       tuple[3],
		Close:     tuple[4],
		Volume:    tuple[5],
	}
	if ts <= 0 || r.Open <= 0 || r.High <= 0 || r.Low <= 0 || r.Close <= 0 || r.Volume < 0 {
		return Row{}, false
	}
	if r.High < r.Low || r.Open > r.High || r.Open < r.Low || r.Close > r.High || r.Close < r.Low {
		return Row{}, false
	}
	return r, true
}

type tokenResponse struct {
	Data struct {
		Attributes struct {
			Name      string `json:"name"`
			Symbol    string `json:"symbol"`
			Decimals  int    `json:"decimals"`
			Launchpad *struct {
				Completed           bool   `json:"completed"`
				CompletedAt         string `json:"completed_at"`
				MigratedPoolAddress string `json:"migrated_destination_pool_address"`
			} `json:"launchpad_details"`
		} `json:"attributes"`
		Relationships struct {
			TopPools struct {
				Data []struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"top_pools"`
		} `json:"relationships"`
	} `json:"data"`
	Included []struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Address       string `json:"address"`
			PoolCreatedAt string `json:"pool_created_at"`
			ReserveInUSD  string `json:"reserve_in_usd"`
			VolumeUSD     struct {
				H24 string `json:"h24"`
			} `json:"volume_usd"`
		} `json:"attributes"`
		Relationships struct {
			Dex struct {
				Data struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"dex"`
		} `json:"relationships"`
	} `json:"included"`
}

// LookupToken fetches token metadata together with its known trading venues
// from the relationships/included payload.
func (c *Client) LookupToken(ctx context.Context, mint string) (*TokenLookup, error) {
	q := url.Values{}
	q.Set("include", "top_pools")
	path := fmt.Sprintf("/networks/%s/tokens/%s", c.network, mint)

	var resp tokenResponse
	if err := c.get(ctx, "token_lookup", path, q, &resp); err != nil {
		return nil, err
	}

	out := &TokenLookup{
		Token: domain.TokenInfo{
			Mint:     mint,
			Name:     resp.Data.Attributes.Name,
			Symbol:   resp.Data.Attributes.Symbol,
			Decimals: resp.Data.Attributes.Decimals,
		},
	}
	if lp := resp.Data.Attributes.Launchpad; lp != nil {
		out.Token.Graduated = lp.Completed
		out.Token.MigratedPoolAddress = lp.MigratedPoolAddress
		if ts := parseAPITime(lp.CompletedAt); ts > 0 {
			out.Token.MigratedAt = &ts
		}
	}

	wanted := make(map[string]bool, len(resp.Data.Relationships.TopPools.Data))
	for _, ref := range resp.Data.Relationships.TopPools.Data {
		wanted[ref.ID] = true
	}
	for _, inc := range resp.Included {
		if inc.Type != "pool" || (len(wanted) > 0 && !wanted[inc.ID]) {
			continue
		}
		dexID := strings.TrimPrefix(inc.Relationships.Dex.Data.ID, c.network+"_")
		pool := PoolInfo{
			Address:      inc.Attributes.Address,
			DexID:        dexID,
			PoolType:     poolTypeForDex(dexID),
			Volume24hUSD: parseAPIFloat(inc.Attributes.VolumeUSD.H24),
			ReserveUSD:   parseAPIFloat(inc.Attributes.ReserveInUSD),
			CreatedAt:    parseAPITime(inc.Attributes.PoolCreatedAt),
		}
		if pool.Address == "" {
			continue
		}
		out.Pools = append(out.Pools, pool)
	}
	return out, nil
}

// poolTypeForDex classifies a venue by its dex identifier.
func poolTypeForDex(dexID string) string {
	switch dexID {
	case "pumpfun", "pump-fun":
		return domain.PoolTypeBondingCurve
	case "":
		return domain.PoolTypeUnknown
	default:
		return domain.PoolTypeDex
	}
}

// get issues one GET through the limiter and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values, out interface{}) error {
	fn := func(ctx context.Context) error {
		return c.doGet(ctx, path, q, out)
	}
	if c.limiter != nil {
		return c.limiter.Execute(ctx, endpoint, fn)
	}
	return fn(ctx)
}

func (c *Client) doGet(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("market-data request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &scheduler.RateLimitError{RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("market-data status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func parseAPIFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseAPITime accepts RFC3339 strings or numeric unix timestamps and
// returns unix seconds, 0 when unparseable.
func parseAPITime(s string) int64 {
	if s == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix()
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > msThreshold {
			n /= 1000
		}
		return n
	}
	return 0
}
