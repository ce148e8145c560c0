package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"brewstore/internal/order"
)

// Ledger records confirmed payments so a redelivered order does not reach
// the gateway twice.
type Ledger interface {
	Confirmed(ctx context.Context, orderID string) (bool, error)
	Record(ctx context.Context, orderID string, amount int64, reference string) error
}

type Gateway interface {
	Confirm(ctx context.Context, orderID string, amount int64) (string, error)
}

type PaymentStep struct {
	ledger  Ledger
	gateway Gateway
}

func NewPaymentStep(ledger Ledger, gateway Gateway) *PaymentStep {
	return &PaymentStep{ledger: ledger, gateway: gateway}
}

func (s *PaymentStep) Name() string { return "payment" }

func (s *PaymentStep) Run(ctx context.Context, o *order.Order) error {
	done, err := s.ledger.Confirmed(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("check payment ledger: %w", err)
	}
	if done {
		return nil
	}

	ref, err := s.gateway.Confirm(ctx, o.ID, o.Total)
	if err != nil {
		return err
	}
	if err := s.ledger.Record(ctx, o.ID, o.Total, ref); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

type confirmRequest struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
}

type confirmResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// HTTPGateway confirms payments against the payment provider. The order id
// is sent as the Idempotency-Key so provider-side retries are safe.
type HTTPGateway struct {
	httpClient *http.Client
	baseURL    string
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (g *HTTPGateway) Confirm(ctx context.Context, orderID string, amount int64) (string, error) {
	body, err := json.Marshal(confirmRequest{OrderID: orderID, Amount: amount})
	if err != nil {
		return "", fmt.Errorf("marshal payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments/confirm", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", orderID)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", Permanent(err)
		}
		return "", err
	}

	var out confirmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode payment response: %w", err)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("payment gateway returned no reference")
	}
	return out.Reference, nil
}
