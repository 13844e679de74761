package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"legalguide-agent/internal/domain"
	"legalguide-agent/internal/integrations/paramstore"
)

const detailFields = "name,formatted_address,formatted_phone_number,website,rating,user_ratings_total,opening_hours"

// searchResponse is the minimal response shape of the text-search endpoint.
type searchResponse struct {
	Status  string `json:"status"`
	Results []struct {
		PlaceID string `json:"place_id"`
	} `json:"results"`
}

// detailsResponse is the minimal response shape of the details endpoint.
type detailsResponse struct {
	Status string `json:"status"`
	Result struct {
		Name             string  `json:"name"`
		FormattedAddress string  `json:"formatted_address"`
		FormattedPhone   string  `json:"formatted_phone_number"`
		Website          string  `json:"website"`
		Rating           float64 `json:"rating"`
		UserRatingsTotal int     `json:"user_ratings_total"`
		OpeningHours     *struct {
			OpenNow bool `json:"open_now"`
		} `json:"opening_hours"`
	} `json:"result"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("places: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused Google Places client for text search and detail lookups.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getter     paramstore.Getter
	keyParam   string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// API key retrieval. The key is fetched from SSM on the first lookup and
// reused for the lifetime of the process.
func NewClient(ps paramstore.Getter, keyParam string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("places: paramstore getter must not be nil")
	}
	keyParam = strings.TrimSpace(keyParam)
	if keyParam == "" {
		return nil, errors.New("places: key parameter name must not be empty")
	}
	c := &Client{
		baseURL:    "https://maps.googleapis.com/maps/api/place",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		getter:     ps,
		keyParam:   keyParam,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = paramstore.GetSecret(ctx, c.getter, c.keyParam)
	})
	return c.apiKey, c.keyErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) endpoint(path string, query url.Values) string {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		base = "https://maps.googleapis.com/maps/api/place"
	}
	return base + path + "?" + query.Encode()
}

// TextSearch runs a places text search and returns the place IDs in rank
// order. A non-OK API status (other than ZERO_RESULTS) is an error.
func (c *Client) TextSearch(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("places: query must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("key", apiKey)
	u := c.endpoint("/textsearch/json", q)

	raw, err := c.doGET(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("places: search request failed: %w", err)
	}

	var payload searchResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return nil, fmt.Errorf("places: decode search response: %w", decErr)
	}
	if payload.Status == "ZERO_RESULTS" {
		return nil, nil
	}
	if payload.Status != "OK" {
		return nil, fmt.Errorf("places: search status %s", payload.Status)
	}

	ids := make([]string, 0, len(payload.Results))
	for _, r := range payload.Results {
		if r.PlaceID != "" {
			ids = append(ids, r.PlaceID)
		}
	}
	return ids, nil
}

// Details fetches the detail fields for one place ID.
func (c *Client) Details(ctx context.Context, placeID string) (domain.Recommendation, error) {
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return domain.Recommendation{}, errors.New("places: place id must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return domain.Recommendation{}, err
	}

	q := url.Values{}
	q.Set("place_id", placeID)
	q.Set("fields", detailFields)
	q.Set("key", apiKey)
	u := c.endpoint("/details/json", q)

	raw, err := c.doGET(ctx, u)
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("places: details request failed: %w", err)
	}

	var payload detailsResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.Recommendation{}, fmt.Errorf("places: decode details response: %w", decErr)
	}
	if payload.Status != "OK" {
		return domain.Recommendation{}, fmt.Errorf("places: details status %s", payload.Status)
	}

	rec := domain.Recommendation{
		Name:             payload.Result.Name,
		FormattedAddress: payload.Result.FormattedAddress,
		FormattedPhone:   payload.Result.FormattedPhone,
		Website:          payload.Result.Website,
		Rating:           payload.Result.Rating,
		UserRatingsTotal: payload.Result.UserRatingsTotal,
		PlaceID:          placeID,
	}
	if payload.Result.OpeningHours != nil {
		rec.OpeningHours = &domain.OpeningHours{OpenNow: payload.Result.OpeningHours.OpenNow}
	}
	return rec, nil
}

func (c *Client) doGET(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        u,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
