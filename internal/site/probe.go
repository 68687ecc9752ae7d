package site

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Prober checks that the appeals site answers plain HTTP before a browser is
// pointed at it.
type Prober struct {
	client *resty.Client
	url    string
}

// NewProber builds a prober for url. Zero timeout means 10s.
func NewProber(url string, timeout time.Duration, userAgent string) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &Prober{client: client, url: url}
}

// Probe issues a GET against the site URL. Any response below 500 counts as
// reachable.
func (p *Prober) Probe(ctx context.Context) error {
	res, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	if res.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", p.url, res.StatusCode())
	}
	return nil
}
