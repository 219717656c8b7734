package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HTTPClient implements BillingClient and EarningsClient over the settlement
// services' REST APIs.
type HTTPClient struct {
	billingURL  string
	earningsURL string
	client      *http.Client
}

// NewHTTPClient creates a settlement client for the given service base URLs.
func NewHTTPClient(billingURL, earningsURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		billingURL:  billingURL,
		earningsURL: earningsURL,
		client:      &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) SubmitCharges(ctx context.Context, st Statement) error {
	return c.post(ctx, c.billingURL+"/v1/charges", st)
}

func (c *HTTPClient) SubmitEarnings(ctx context.Context, st Statement) error {
	return c.post(ctx, c.earningsURL+"/v1/earnings", st)
}

func (c *HTTPClient) post(ctx context.Context, url string, st Statement) error {
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode statement %s: %w", st.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit statement %s: %w", st.ID, err)
	}
	defer resp.Body.Close()

	// 409 means the service already has this statement id from an earlier,
	// partially failed run. That is the idempotency working as intended.
	if resp.StatusCode == http.StatusConflict {
		slog.Info("[Settle] Statement already accepted", "statement_id", st.ID, "owner_id", st.OwnerID, "period", st.Period)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("submit statement %s: unexpected status %d", st.ID, resp.StatusCode)
	}

	slog.Info("[Settle] Statement accepted",
		"statement_id", st.ID,
		"actor", st.Actor,
		"owner_id", st.OwnerID,
		"period", st.Period,
		"lines", len(st.Lines),
		"total", st.Total.String(),
	)
	return nil
}
