// Package download fetches Source Link documents with a bounded worker pool.
// Each document is fetched whole into memory before anything touches disk, so
// cancellation never leaves a partially written file behind.
package download

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/net/http/httpproxy"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/blacktop/dotpdb/internal/utils"
)

const (
	// MaxConcurrentFetches bounds the worker pool; documents are small, the
	// cap exists to be polite to source hosts.
	MaxConcurrentFetches = 5
	// FetchTimeout is the per-document network budget. A timeout is an
	// ordinary fetch failure and routes into the caller's fallback.
	FetchTimeout = 30 * time.Second

	maxDocumentSize = 64 << 20
)

// Fetcher is a bounded-concurrency document fetcher.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher. proxy overrides the environment proxy
// configuration; insecure skips TLS verification.
func NewFetcher(proxy string, insecure bool) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:             GetProxy(proxy),
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: insecure},
				ForceAttemptHTTP2: true,
			},
		},
	}
}

// GetProxy takes either an input string or reads the environment and returns
// a proxy function.
func GetProxy(proxy string) func(*http.Request) (*url.URL, error) {
	if len(proxy) > 0 {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			log.WithError(err).Error("bad proxy url")
		}
		return http.ProxyURL(proxyURL)
	}

	conf := httpproxy.FromEnvironment()
	if len(conf.HTTPProxy) > 0 || len(conf.HTTPSProxy) > 0 {
		log.WithFields(log.Fields{
			"http_proxy":  conf.HTTPProxy,
			"https_proxy": conf.HTTPSProxy,
			"no_proxy":    conf.NoProxy,
		}).Debugf("proxy info from environment")
	}

	return http.ProxyFromEnvironment
}

// Result is the outcome of one document fetch. Failures stay per-document;
// the pool never turns one bad URL into an aborted batch.
type Result struct {
	URL  string
	Data []byte
	Err  error
}

// Fetch downloads a single URL into memory, honoring ctx and FetchTimeout.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create http request")
	}
	req.Header.Add("User-Agent", utils.RandomAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %s for %s", resp.Status, rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read body of %s", rawURL)
	}
	return data, nil
}

// FetchAll downloads urls with at most MaxConcurrentFetches in flight.
// Results come back in input order; cancelling ctx aborts in-flight fetches
// promptly and marks the rest with the context error.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))

	sem := semaphore.NewWeighted(MaxConcurrentFetches)
	g, ctx := errgroup.WithContext(ctx)

	for i, u := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{URL: u, Err: err}
			continue
		}
		idx, rawURL := i, u
		g.Go(func() error {
			defer sem.Release(1)
			data, err := f.Fetch(ctx, rawURL)
			if err != nil {
				utils.Indent(log.WithError(err).Debug, 2)("fetch failed")
				results[idx] = Result{URL: rawURL, Err: err}
				return nil // isolate failures, keep the batch going
			}
			utils.Indent(log.WithFields(log.Fields{
				"url":  rawURL,
				"size": humanize.Bytes(uint64(len(data))),
			}).Debug, 2)("fetched")
			results[idx] = Result{URL: rawURL, Data: data}
			return nil
		})
	}

	g.Wait()
	return results
}
