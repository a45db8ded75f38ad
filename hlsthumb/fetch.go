package hlsthumb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// timeout for a single http attempt
const fetchTimeout = 15 * time.Second

type httpFetcher struct {
	client *http.Client
}

func newHTTPFetcher() *httpFetcher {
	return &httpFetcher{
		client: &http.Client{
			Timeout: fetchTimeout,
		},
	}
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d for %s", res.StatusCode, url)
	}

	return io.ReadAll(res.Body)
}
