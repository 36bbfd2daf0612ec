// internal/safety/honeypot.go
package safety

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const DefaultHoneypotURL = "https://api.honeypot.is"

// HoneypotClient queries the honeypot.is detector.
type HoneypotClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHoneypotClient(baseURL, apiKey string, timeout time.Duration) *HoneypotClient {
	if baseURL == "" {
		baseURL = DefaultHoneypotURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HoneypotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// HasCredential reports whether an API key is configured.
func (h *HoneypotClient) HasCredential() bool {
	return h.apiKey != ""
}

type honeypotResponse struct {
	IsHoneypot     *bool  `json:"isHoneypot"`
	Details        string `json:"details"`
	HoneypotResult *struct {
		IsHoneypot *bool `json:"isHoneypot"`
	} `json:"honeypotResult"`
}

// Check returns whether token is flagged. A response without a verdict is
// treated as a honeypot.
func (h *HoneypotClient) Check(ctx context.Context, token string, chainID int64) (bool, string, error) {
	q := url.Values{}
	q.Set("address", token)
	q.Set("chainID", strconv.FormatInt(chainID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v2/IsHoneypot?"+q.Encode(), nil)
	if err != nil {
		return true, "", err
	}
	req.Header.Set("X-API-KEY", h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return true, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return true, "", fmt.Errorf("honeypot api status %d", resp.StatusCode)
	}

	var out honeypotResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return true, "", fmt.Errorf("decode honeypot response: %w", err)
	}

	details := out.Details
	if details == "" {
		details = "No details provided"
	}
	switch {
	case out.IsHoneypot != nil:
		return *out.IsHoneypot, details, nil
	case out.HoneypotResult != nil && out.HoneypotResult.IsHoneypot != nil:
		return *out.HoneypotResult.IsHoneypot, details, nil
	default:
		return true, "response has no honeypot verdict", nil
	}
}
