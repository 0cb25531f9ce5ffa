// Package scraper fetches firmware history payloads and changelog pages from
// the upstream sites.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/paulstuart/fwhistory/pkg/config"
)

// Client fetches raw payloads for a device model and region. A source that
// has nothing for the device yields an empty string, not an error.
type Client struct {
	endpoints config.Endpoints
	userAgent string
	timeout   time.Duration
}

// New creates a client from the configured endpoints.
func New(cfg config.Config) *Client {
	ua := cfg.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	return &Client{
		endpoints: cfg.Endpoints,
		userAgent: ua,
		timeout:   timeout,
	}
}

// FetchPrimary fetches the history page from the primary source.
func (c *Client) FetchPrimary(ctx context.Context, model, region string) (string, error) {
	return c.fetch(ctx, "primary", c.endpoints.Primary, model, region)
}

// FetchSecondaryXML fetches the vendor version.xml document.
func (c *Client) FetchSecondaryXML(ctx context.Context, model, region string) (string, error) {
	return c.fetch(ctx, "secondary", c.endpoints.Secondary, model, region)
}

func (c *Client) fetch(ctx context.Context, name, tmpl, model, region string) (string, error) {
	if tmpl == "" {
		logger.Debugf("%s source disabled", name)
		return "", nil
	}
	target, err := config.Expand(tmpl, model, region)
	if err != nil {
		return "", fmt.Errorf("failed to build %s URL: %w", name, err)
	}

	body, err := c.visit(ctx, target)
	if err != nil {
		return "", err
	}
	if body == "" {
		logger.Debugf("%s source has no history for %s/%s", name, model, region)
	} else {
		logger.Debugf("%s source returned %d bytes for %s/%s", name, len(body), model, region)
	}
	return body, nil
}

// visit GETs target and returns its body. Non-2xx responses and transport
// failures return an empty body; only cancellation of ctx is an error.
func (c *Client) visit(ctx context.Context, target string) (string, error) {
	col, err := c.collector(ctx, target)
	if err != nil {
		return "", err
	}

	var body []byte
	col.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	if err := col.Visit(target); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", nil
	}
	col.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	return string(body), nil
}

// collector builds a single-use collector restricted to target's host.
func (c *Client) collector(ctx context.Context, target string) (*colly.Collector, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", target, err)
	}

	col := colly.NewCollector(
		colly.AllowedDomains(u.Hostname(), u.Host),
		colly.StdlibContext(ctx),
	)
	col.UserAgent = c.userAgent
	col.SetRequestTimeout(c.timeout)

	col.OnError(func(r *colly.Response, err error) {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Debugf("Request URL: %s failed with response: %d, error: %v", r.Request.URL, r.StatusCode, err)
	})

	return col, nil
}
