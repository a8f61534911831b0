package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
)

const (
	DefaultUserAgent   = "NECMIS/3.0 (Construction Market Intelligence)"
	defaultAccept      = "text/html,application/xhtml+xml,application/rss+xml,application/atom+xml,application/xml;q=0.9,*/*;q=0.8"
	defaultMaxBodySize = 8 << 20 // 8MB

	ctxBody   = "body"
	ctxStatus = "status"
)

// Options tune the HTTP fetcher.
type Options struct {
	UserAgent string
	// Timeout bounds a single request.
	Timeout time.Duration
	// Retry enables one retry of transient failures after RetryBackoff.
	Retry        bool
	RetryBackoff time.Duration
	// CourtesyDelay is the minimum spacing between requests to one host.
	CourtesyDelay time.Duration
	MaxBodySize   int
	// Hosts receive a parallelism-one limit rule with CourtesyDelay.
	Hosts []string
}

// HTTPFetcher fetches sources through a shared colly collector so that
// per-host limits hold across concurrent callers.
type HTTPFetcher struct {
	c      *colly.Collector
	opts   Options
	logger *slog.Logger
}

func NewHTTPFetcher(opts Options, logger *slog.Logger) (*HTTPFetcher, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.DetectCharset(),
	)
	c.MaxBodySize = opts.MaxBodySize
	c.SetRequestTimeout(opts.Timeout)

	for _, host := range opts.Hosts {
		if err := c.Limit(&colly.LimitRule{
			DomainGlob:  host,
			Parallelism: 1,
			Delay:       opts.CourtesyDelay,
		}); err != nil {
			return nil, fmt.Errorf("limit rule for %s: %w", host, err)
		}
	}

	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxBody, r.Body)
	})
	// colly routes 203-299 through OnError; keep their body so fetchOnce can
	// treat them as the success they are.
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.Ctx != nil && r.StatusCode > 0 {
			r.Ctx.Put(ctxStatus, r.StatusCode)
			if success(r.StatusCode) {
				r.Ctx.Put(ctxBody, r.Body)
			}
		}
	})

	return &HTTPFetcher{c: c, opts: opts, logger: logger.With("component", "fetcher")}, nil
}

// Fetch returns the body of src or a *TimeoutError, *HTTPError or
// *NetworkError. Transient failures are retried once; 4xx and timeouts are not.
func (f *HTTPFetcher) Fetch(ctx context.Context, src domain.Source) ([]byte, error) {
	start := time.Now()
	body, err := f.fetchOnce(ctx, src)
	if err != nil && f.opts.Retry && Transient(err) {
		f.logger.Debug("retrying", "source", src.Name, "err", err, "backoff", f.opts.RetryBackoff)
		select {
		case <-time.After(f.opts.RetryBackoff):
			body, err = f.fetchOnce(ctx, src)
		case <-ctx.Done():
			err = &TimeoutError{Err: ctx.Err()}
		}
	}
	if err != nil {
		f.logFailure(src, err)
		return nil, err
	}
	f.logger.Debug("fetched", "source", src.Name, "bytes", len(body), "took", time.Since(start))
	return body, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, src domain.Source) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TimeoutError{Err: err}
	}
	cctx := colly.NewContext()
	hdr := http.Header{}
	hdr.Set("Accept", defaultAccept)

	// colly blocks until the request finishes; the caller's context may
	// expire sooner and the request is abandoned to its own timeout.
	done := make(chan error, 1)
	go func() {
		done <- f.c.Request(http.MethodGet, src.URL, nil, cctx, hdr)
	}()

	select {
	case err := <-done:
		if err != nil {
			if status, _ := cctx.GetAny(ctxStatus).(int); !success(status) {
				return nil, classify(cctx, err)
			}
		}
		body, _ := cctx.GetAny(ctxBody).([]byte)
		return body, nil
	case <-ctx.Done():
		return nil, &TimeoutError{Err: ctx.Err()}
	}
}

func success(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

func classify(cctx *colly.Context, err error) error {
	if status, ok := cctx.GetAny(ctxStatus).(int); ok && status > 0 {
		return &HTTPError{Status: status}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &TimeoutError{Err: err}
	}
	return &NetworkError{Err: err}
}

func (f *HTTPFetcher) logFailure(src domain.Source, err error) {
	level := slog.LevelError
	var he *HTTPError
	if src.TolerateFailures || (errors.As(err, &he) && he.Blocked()) {
		level = slog.LevelWarn
	}
	f.logger.Log(context.Background(), level, "fetch failed", "source", src.Name, "url", src.URL, "err", err)
}
