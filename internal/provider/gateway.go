package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
)

// Gateway is the adapter to the external SMS provider's send API.
type Gateway interface {
	Send(ctx context.Context, phone, body string) (string, error)
}

type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Log     *zap.Logger
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
		Log:     log,
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// permanentCodes are provider rejections no retry can fix.
var permanentCodes = map[string]bool{
	"invalid_number": true,
	"blocked":        true,
	"unsubscribed":   true,
}

// Send submits one message and returns the provider message id. Failures are
// classified: timeouts, 429 and 5xx are transient; known 4xx rejection codes
// are permanent; anything else is unknown and treated as transient but
// flagged for reconciliation.
func (g *HTTPGateway) Send(ctx context.Context, phone, body string) (string, error) {
	payload, err := json.Marshal(sendRequest{To: phone, Body: body})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.APIKey)

	resp, err := g.Client.Do(req)
	if err != nil {
		// network error or timeout
		return "", appErrors.NewProviderTransient("network", err.Error())
	}
	defer resp.Body.Close()

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && resp.StatusCode < 300 {
		return "", appErrors.NewProviderUnknown("bad_response", err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if decoded.MessageID == "" {
			return "", appErrors.NewProviderUnknown("missing_message_id", "provider accepted without an id")
		}
		return decoded.MessageID, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", appErrors.NewProviderTransient("rate_limited", "provider rate limit hit")
	case resp.StatusCode >= 500:
		return "", appErrors.NewProviderTransient(fmt.Sprintf("http_%d", resp.StatusCode), decoded.Message)
	case resp.StatusCode >= 400 && permanentCodes[decoded.Code]:
		return "", appErrors.NewProviderPermanent(decoded.Code, decoded.Message)
	default:
		g.Log.Warn("unclassified provider response",
			zap.Int("status", resp.StatusCode), zap.String("code", decoded.Code))
		return "", appErrors.NewProviderUnknown(fmt.Sprintf("http_%d", resp.StatusCode), decoded.Message)
	}
}

var _ Gateway = (*HTTPGateway)(nil)
