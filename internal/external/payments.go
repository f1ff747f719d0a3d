package external

import (
	"context"
	"time"
)

// PaymentInfo is the verifier's view of a payment reference. Refund amounts
// come from here, never from client input.
type PaymentInfo struct {
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// PaymentVerifier resolves a payment reference to its authoritative state.
// Unavailability must fail the refund request rather than guess an amount.
type PaymentVerifier interface {
	Verify(ctx context.Context, reference string) (PaymentInfo, error)
}

// PaymentsClient talks to the payment processor's verification endpoint.
type PaymentsClient struct {
	http httpClient
}

var _ PaymentVerifier = (*PaymentsClient)(nil)

func NewPaymentsClient(baseURL, apiKey string, timeout time.Duration) *PaymentsClient {
	return &PaymentsClient{http: newHTTPClient(baseURL, apiKey, timeout)}
}

func (c *PaymentsClient) Verify(ctx context.Context, reference string) (PaymentInfo, error) {
	var out PaymentInfo
	err := c.http.postJSON(ctx, "/v1/payments/verify", map[string]string{"reference": reference}, &out)
	return out, err
}
