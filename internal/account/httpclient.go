package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// HTTPClient implements Port against the Account Service REST API.
// Network-level failures produce ErrUnavailable; remote business codes map
// to the package sentinels.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	tokens  *TokenSource
}

func NewHTTPClient(baseURL string, httpClient *http.Client, tokens *TokenSource) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
	}
}

type accountResponse struct {
	ID       string          `json:"id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

type mutationRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	ClientRef string          `json:"client_ref"`
}

type mutationResponse struct {
	TransactionID string `json:"transaction_id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) Lookup(ctx context.Context, accountID string) (Account, error) {
	var out accountResponse
	err := c.call(ctx, http.MethodGet, "/v1/accounts/"+accountID, nil, &out)
	if err != nil {
		return Account{}, err
	}
	return Account{ID: out.ID, Balance: out.Balance, Currency: out.Currency, Status: out.Status}, nil
}

func (c *HTTPClient) Debit(ctx context.Context, accountID string, amount decimal.Decimal, clientRef string) (string, error) {
	return c.mutate(ctx, accountID, "debit", amount, clientRef)
}

func (c *HTTPClient) Credit(ctx context.Context, accountID string, amount decimal.Decimal, clientRef string) (string, error) {
	return c.mutate(ctx, accountID, "credit", amount, clientRef)
}

func (c *HTTPClient) mutate(ctx context.Context, accountID, op string, amount decimal.Decimal, clientRef string) (string, error) {
	in := mutationRequest{Amount: amount, ClientRef: clientRef}
	var out mutationResponse
	if err := c.call(ctx, http.MethodPost, "/v1/accounts/"+accountID+"/"+op, in, &out); err != nil {
		return "", err
	}
	if out.TransactionID == "" {
		return "", fmt.Errorf("%w: %s returned no transaction id", ErrUnavailable, op)
	}
	return out.TransactionID, nil
}

func (c *HTTPClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		return nil
	}
	return c.remoteError(resp.StatusCode, raw)
}

// remoteError maps {code, message} bodies onto the sentinel taxonomy; the
// HTTP status class is the fallback when the body is unusable.
func (c *HTTPClient) remoteError(status int, raw []byte) error {
	var remote errorResponse
	_ = json.Unmarshal(raw, &remote)

	switch remote.Code {
	case "ACCOUNT_NOT_FOUND":
		return fmt.Errorf("%w: %s", ErrNotFound, remote.Message)
	case "INSUFFICIENT_FUNDS":
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, remote.Message)
	case "ACCOUNT_INACTIVE":
		return fmt.Errorf("%w: %s", ErrInactive, remote.Message)
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: status %d", ErrNotFound, status)
	}
	if status >= 400 && status < 500 {
		return fmt.Errorf("account service rejected request: status %d code %q %s", status, remote.Code, remote.Message)
	}
	return fmt.Errorf("%w: status %d", ErrUnavailable, status)
}
