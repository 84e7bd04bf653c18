package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Gateway is the outbound payment provider as seen by checkout.
type Gateway interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, md Metadata, idemKey string) (Record, error)
	Capture(ctx context.Context, token, idemKey string) (Record, error)
	QueryStatus(ctx context.Context, token string) (Record, error)
	Void(ctx context.Context, token, idemKey string) (Record, error)
}

// Client talks JSON to the gateway. Every attempt of one logical call sends
// the same Idempotency-Key so retries never double charge.
type Client struct {
	BaseURL     string
	HTTP        *http.Client
	MaxAttempts int
	Backoff     time.Duration

	// Observe is called once per HTTP attempt; nil is fine.
	Observe func(op string, start time.Time, err error)
}

var _ Gateway = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration, maxAttempts int, backoff time.Duration) *Client {
	return &Client{
		BaseURL:     baseURL,
		HTTP:        &http.Client{Timeout: timeout},
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
	}
}

func (c *Client) CreateIntent(ctx context.Context, amountCents int64, currency string, md Metadata, idemKey string) (Record, error) {
	req := IntentRequest{Amount: AmountFromCents(amountCents), Currency: currency, Metadata: md}
	var resp PaymentResponse
	if err := c.call(ctx, "create_intent", http.MethodPost, "/v1/payments", idemKey, req, &resp); err != nil {
		return Record{}, err
	}
	return resp.Record(), nil
}

// Capture returns ErrGatewayAmbiguous (joined with the last GatewayError)
// when retries run out on timeouts or 5xx: the charge may have gone through.
func (c *Client) Capture(ctx context.Context, token, idemKey string) (Record, error) {
	var resp PaymentResponse
	err := c.call(ctx, "capture", http.MethodPost, "/v1/payments/"+url.PathEscape(token)+"/capture", idemKey, nil, &resp)
	if err != nil {
		var ge *GatewayError
		if errors.As(err, &ge) && ge.Retryable {
			return Record{}, fmt.Errorf("%w: %w", ErrGatewayAmbiguous, err)
		}
		return Record{}, err
	}
	return resp.Record(), nil
}

func (c *Client) QueryStatus(ctx context.Context, token string) (Record, error) {
	var resp PaymentResponse
	if err := c.call(ctx, "query", http.MethodGet, "/v1/payments/"+url.PathEscape(token), "", nil, &resp); err != nil {
		return Record{}, err
	}
	return resp.Record(), nil
}

// Void cancels an uncaptured payment. If the gateway already captured it the
// captured record comes back instead.
func (c *Client) Void(ctx context.Context, token, idemKey string) (Record, error) {
	var resp PaymentResponse
	if err := c.call(ctx, "void", http.MethodPost, "/v1/payments/"+url.PathEscape(token)+"/void", idemKey, nil, &resp); err != nil {
		return Record{}, err
	}
	return resp.Record(), nil
}

func (c *Client) call(ctx context.Context, op, method, path, idemKey string, body, out any) error {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := c.Backoff

	var err error
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err = c.once(ctx, op, method, path, idemKey, body, out)
		if c.Observe != nil {
			c.Observe(op, start, err)
		}
		if err == nil {
			return nil
		}
		var ge *GatewayError
		if !errors.As(err, &ge) || !ge.Retryable || attempt >= attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (c *Client) once(ctx context.Context, op, method, path, idemKey string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		// transport errors and client timeouts: the request may have landed
		return &GatewayError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &GatewayError{Op: op, StatusCode: resp.StatusCode, Retryable: true, Err: err}
		}
		return nil
	}

	var er ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&er)
	ge := &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: er.Error}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		ge.Err = ErrNotFound
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusConflict: // same key still in flight
		ge.Retryable = true
	}
	return ge
}
