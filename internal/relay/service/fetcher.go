package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// ErrSizeLimit reports a response body over the configured cap. The body is
// read through a limit reader, never buffered whole first.
var ErrSizeLimit = errors.New("response exceeds size limit")

// FetchResult is one fetched page.
type FetchResult struct {
	Body       string
	StatusCode int
}

// Fetcher retrieves a single page. Implementations decide the transport.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// httpFetcher fetches over a fixed *http.Client with a body cap.
type httpFetcher struct {
	client   *http.Client
	ua       string
	maxBytes int64
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.ua)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, ErrSizeLimit
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bad status: %d", resp.StatusCode)
	}
	return &FetchResult{Body: string(body), StatusCode: resp.StatusCode}, nil
}

// newOnionFetcher builds a fetcher that dials every connection through the
// SOCKS proxy. Redirects leaving onion space are refused: a compromised leak
// site must not be able to bounce the relay onto the clear web.
func newOnionFetcher(socksAddr, ua string, maxBytes int64) (Fetcher, error) {
	d, err := proxy.SOCKS5("tcp", socksAddr, nil, &net.Dialer{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("socks dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks dialer does not support context")
	}
	tr := &http.Transport{
		DialContext:           cd.DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		DisableKeepAlives:     false,
	}
	client := &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			if !strings.HasSuffix(req.URL.Hostname(), ".onion") {
				return fmt.Errorf("refusing redirect off the anonymizing transport to %s", req.URL.Host)
			}
			return nil
		},
	}
	return &httpFetcher{client: client, ua: ua, maxBytes: maxBytes}, nil
}

// newDirectFetcher builds the fetcher for clear-web aggregator and API
// sources.
func newDirectFetcher(ua string, maxBytes int64) Fetcher {
	tr := &http.Transport{
		MaxIdleConns:          64,
		MaxConnsPerHost:       16,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &httpFetcher{client: &http.Client{Transport: tr}, ua: ua, maxBytes: maxBytes}
}
