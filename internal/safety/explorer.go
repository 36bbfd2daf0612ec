// internal/safety/explorer.go
package safety

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// ExplorerClient talks to Etherscan-compatible explorer APIs.
type ExplorerClient struct {
	apiKey string
	client *http.Client
}

func NewExplorerClient(apiKey string, timeout time.Duration) *ExplorerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ExplorerClient{apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

func (e *ExplorerClient) HasCredential() bool {
	return e.apiKey != ""
}

type holderListResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Result  []json.RawMessage `json:"result"`
}

// errInvalidResponse marks a well-formed reply that carries no holders.
// It is not retried.
type errInvalidResponse struct {
	message string
}

func (e *errInvalidResponse) Error() string {
	return "invalid holder list response: " + e.message
}

// HolderCount returns up to limit holders of token from the explorer at
// apiURL.
func (e *ExplorerClient) HolderCount(ctx context.Context, apiURL, token string, limit int) (int, error) {
	q := url.Values{}
	q.Set("module", "token")
	q.Set("action", "tokenholderlist")
	q.Set("contractaddress", token)
	q.Set("page", "1")
	q.Set("offset", strconv.Itoa(limit))
	q.Set("apikey", e.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("explorer api status %d", resp.StatusCode)
	}

	var out holderListResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode holder list: %w", err)
	}
	if out.Status != "1" || len(out.Result) == 0 {
		msg := out.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return 0, &errInvalidResponse{message: msg}
	}
	return len(out.Result), nil
}
