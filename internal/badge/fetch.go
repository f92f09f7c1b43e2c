package badge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Fetcher returns the number of annotations visible on a page.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (int, error)
}

// ErrBadResponse is returned for responses without a numeric total.
var ErrBadResponse = errors.New("unexpected badge response")

// HTTPFetcher queries the badge endpoint: GET <endpoint>?uri=<uri>, sending
// the session cookies, expecting {"total": n}.
type HTTPFetcher struct {
	client   *http.Client
	endpoint string
	limiter  *rate.Limiter
}

// NewHTTPFetcher builds a fetcher. rps <= 0 disables pacing.
func NewHTTPFetcher(endpoint string, rps float64, client *http.Client) *HTTPFetcher {
	if client == nil {
		jar, _ := cookiejar.New(nil)
		client = &http.Client{Timeout: 10 * time.Second, Jar: jar}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &HTTPFetcher{
		client:   client,
		endpoint: endpoint,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

type badgeResponse struct {
	Total *int `json:"total"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) (int, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?uri="+url.QueryEscape(uri), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	var body badgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if body.Total == nil || *body.Total < 0 {
		return 0, ErrBadResponse
	}
	return *body.Total, nil
}
