package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"storefront/internal/util"

	"go.uber.org/zap"
)

// HTTPGateway talks to a MercadoPago-style REST API
type HTTPGateway struct {
	baseURL     string
	accessToken string
	client      *http.Client
	logger      *zap.Logger
}

// NewHTTPGateway creates a gateway client
func NewHTTPGateway(baseURL, accessToken string) *HTTPGateway {
	return &HTTPGateway{
		baseURL:     baseURL,
		accessToken: accessToken,
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      util.Component("payment"),
	}
}

// CreatePreference creates a hosted checkout for the given items
func (g *HTTPGateway) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preference: %w", err)
	}

	var pref Preference
	raw, err := g.do(ctx, "create_preference", http.MethodPost, "/checkout/preferences", body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &pref); err != nil || pref.ID == "" {
		return nil, fmt.Errorf("%w: malformed preference response", ErrGateway)
	}
	return &pref, nil
}

// GetPayment fetches the authoritative payment status
func (g *HTTPGateway) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	raw, err := g.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}

	var p Payment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed payment response", ErrGateway)
	}
	p.ID = paymentID
	p.Raw = raw
	return &p, nil
}

func (g *HTTPGateway) do(ctx context.Context, call, method, path string, body []byte) ([]byte, error) {
	start := time.Now()
	defer func() {
		util.GatewayLatency.WithLabelValues(call).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if resp.StatusCode >= 300 {
		g.logger.Warn("Gateway call failed",
			zap.String("call", call),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: %s returned %s", ErrGateway, call, strconv.Itoa(resp.StatusCode))
	}
	return raw, nil
}
