package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var ErrFetchFailed = errors.New("manager: attachment download failed")

// Attachment is a file attached to a chat message.
type Attachment struct {
	Filename string
	URL      string
	Size     int
}

// Fetcher downloads attachment content.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// HTTPFetcher downloads attachments over HTTP(S).
type HTTPFetcher struct {
	Client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

func (f HTTPFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrFetchFailed, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status=%d", ErrFetchFailed, resp.StatusCode)
	}
	return resp.Body, nil
}
