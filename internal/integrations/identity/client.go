package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"legalguide-agent/internal/integrations/paramstore"
)

// userResponse is the minimal response shape of the auth provider's user
// endpoint.
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Client resolves bearer credentials to stable user identifiers against the
// hosted auth provider. The provider's service key is fetched from SSM on the
// first call and reused for the lifetime of the process.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getter     paramstore.Getter
	keyParam   string

	keyOnce    sync.Once
	serviceKey string
	keyErr     error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client for the auth provider at baseURL.
func NewClient(ps paramstore.Getter, baseURL, keyParam string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("identity: paramstore getter must not be nil")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("identity: base URL must not be empty")
	}
	keyParam = strings.TrimSpace(keyParam)
	if keyParam == "" {
		return nil, errors.New("identity: key parameter name must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		getter:     ps,
		keyParam:   keyParam,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveServiceKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.serviceKey, c.keyErr = paramstore.GetSecret(ctx, c.getter, c.keyParam)
	})
	return c.serviceKey, c.keyErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// ResolveUser validates the bearer token with the auth provider and returns
// the stable user identifier it belongs to. Any non-2xx provider response is
// an authentication failure.
func (c *Client) ResolveUser(ctx context.Context, accessToken string) (string, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", errors.New("identity: access token must not be empty")
	}

	serviceKey, err := c.resolveServiceKey(ctx)
	if err != nil {
		return "", err
	}

	u := c.baseURL + "/auth/v1/user"
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if reqErr != nil {
		return "", fmt.Errorf("identity: create request: %w", reqErr)
	}
	req.Header.Set("apikey", serviceKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return "", fmt.Errorf("identity: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("identity: token rejected with status %d", res.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("identity: read response body: %w", err)
	}

	var payload userResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("identity: decode response: %w", decErr)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return "", errors.New("identity: response missing user id")
	}
	return payload.ID, nil
}
