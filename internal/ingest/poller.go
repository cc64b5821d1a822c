package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"gassentry/internal/normalize"
)

// TransportError covers every way a poll can fail before a reading exists:
// network, timeout, HTTP status and payload shape.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("poll %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Poller struct {
	client *resty.Client
	url    string
}

// NewPoller builds a client with a per-request timeout and no retries; the
// next scheduled cycle is the retry.
func NewPoller(url string, timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &Poller{client: client, url: url}
}

func (p *Poller) Fetch(ctx context.Context) (normalize.Fields, error) {
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		return normalize.Fields{}, &TransportError{URL: p.url, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return normalize.Fields{}, &TransportError{URL: p.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}
	fields, err := ParsePayload(resp.Body())
	if err != nil {
		return normalize.Fields{}, &TransportError{URL: p.url, Err: err}
	}
	return fields, nil
}
