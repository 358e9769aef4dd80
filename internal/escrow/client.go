package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Config holds JSON-RPC client configuration.
type Config struct {
	RPCURL            string
	Timeout           time.Duration
	RequestsPerSecond int
	Burst             int
}

// Client talks JSON-RPC to the settlement relay fronting the escrow
// contracts. Outbound calls are rate limited; there are no internal retries.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Gateway = (*Client)(nil)

// NewClient creates a gateway client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = rps
	}

	return &Client{
		rpcURL:     cfg.RPCURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// call performs one JSON-RPC round trip and returns the raw result payload.
func (c *Client) call(ctx context.Context, method string, params []interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc call %s: unexpected status %d", method, resp.StatusCode)
	}

	if errField := gjson.GetBytes(raw, "error"); errField.Exists() {
		return nil, fmt.Errorf("rpc call %s: %s (code %d)",
			method, errField.Get("message").String(), errField.Get("code").Int())
	}
	result := gjson.GetBytes(raw, "result")
	if !result.Exists() {
		return nil, fmt.Errorf("rpc call %s: missing result", method)
	}
	return []byte(result.Raw), nil
}

func (c *Client) IsMarketWindowActive(ctx context.Context, projectID int64) (bool, error) {
	raw, err := c.call(ctx, "escrow_isMarketWindowActive", []interface{}{projectID})
	if err != nil {
		return false, err
	}
	return gjson.ParseBytes(raw).Bool(), nil
}

func (c *Client) SellToBeneficiary(ctx context.Context, projectID int64, beneficiary string, tokenIDs []string, amounts []*big.Int, considerationRef string, proceeds *big.Int) (string, error) {
	raw, err := c.call(ctx, "escrow_sellToBeneficiary", []interface{}{
		projectID, beneficiary, tokenIDs, encodeAmounts(amounts), considerationRef, encodeAmount(proceeds),
	})
	if err != nil {
		return "", err
	}
	return txHashFrom(raw, "escrow_sellToBeneficiary")
}

func (c *Client) NotifyProceeds(ctx context.Context, projectID int64, amount *big.Int, considerationRef string) (string, error) {
	raw, err := c.call(ctx, "escrow_notifyProceeds", []interface{}{projectID, encodeAmount(amount), considerationRef})
	if err != nil {
		return "", err
	}
	return txHashFrom(raw, "escrow_notifyProceeds")
}

func (c *Client) ConfigureRepayment(ctx context.Context, projectID int64, cfg RepaymentConfig) (string, error) {
	raw, err := c.call(ctx, "escrow_configureRepayment", []interface{}{
		projectID, cfg.ForwardPrincipal, encodeAmount(cfg.RepaymentCap), cfg.BaseFeeBps, cfg.VariableFeeBps, cfg.Policy,
	})
	if err != nil {
		return "", err
	}
	return txHashFrom(raw, "escrow_configureRepayment")
}

func (c *Client) GetRepaymentStatus(ctx context.Context, projectID int64) (RepaymentStatus, error) {
	raw, err := c.call(ctx, "escrow_getRepaymentStatus", []interface{}{projectID})
	if err != nil {
		return RepaymentStatus{}, err
	}

	parsed := gjson.ParseBytes(raw)
	status := RepaymentStatus{
		ProjectID:     projectID,
		CapReached:    parsed.Get("capReached").Bool(),
		ForwardClosed: parsed.Get("forwardClosed").Bool(),
	}
	var ok bool
	if status.TotalRepaid, ok = new(big.Int).SetString(parsed.Get("totalRepaid").String(), 10); !ok {
		return RepaymentStatus{}, fmt.Errorf("rpc call escrow_getRepaymentStatus: malformed totalRepaid")
	}
	if status.RepaymentCap, ok = new(big.Int).SetString(parsed.Get("repaymentCap").String(), 10); !ok {
		return RepaymentStatus{}, fmt.Errorf("rpc call escrow_getRepaymentStatus: malformed repaymentCap")
	}
	return status, nil
}

// txHashFrom extracts the transaction hash from either a bare string result
// or an object carrying a txHash field.
func txHashFrom(raw []byte, method string) (string, error) {
	parsed := gjson.ParseBytes(raw)
	hash := parsed.String()
	if parsed.IsObject() {
		hash = parsed.Get("txHash").String()
	}
	if hash == "" {
		return "", fmt.Errorf("rpc call %s: missing transaction hash", method)
	}
	return hash, nil
}

// Amounts cross the wire as base-10 strings to avoid floating-point loss.
func encodeAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func encodeAmounts(vs []*big.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = encodeAmount(v)
	}
	return out
}
