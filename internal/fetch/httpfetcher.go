// internal/fetch/httpfetcher.go
package fetch

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/velcourt/pageharvest/pkg/types"
)

const defaultTimeout = 30 * time.Second

// defaultUserAgents is the rotation set used when a profile brings none
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:126.0) Gecko/20100101 Firefox/126.0",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.8",
	"en-US,en;q=0.5",
}

// HTTPFetcher is the default fetch capability: a plain HTTP client with
// per-proxy transports and rotating request headers.
type HTTPFetcher struct {
	maxBodyBytes int64

	mu      sync.Mutex
	clients map[string]*http.Client
	uaIndex int
}

// NewHTTPFetcher creates an HTTP-backed fetcher. Clients are cached per
// proxy address so connection pools survive across attempts.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		maxBodyBytes: 8 << 20,
		clients:      make(map[string]*http.Client),
	}
}

// FetchRaw implements Fetcher
func (f *HTTPFetcher) FetchRaw(ctx context.Context, pageURL, proxyAddr string, profile types.FetchProfile) (*types.RawDocument, error) {
	client, err := f.clientFor(proxyAddr, profile)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", pageURL, err)
	}
	f.decorate(req, profile)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// The transport decompresses only when it negotiated the encoding
	// itself; a profile-supplied Accept-Encoding header leaves the body
	// compressed with Content-Encoding still set.
	reader := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress body of %s: %w", pageURL, err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", pageURL, err)
	}

	return &types.RawDocument{
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Header:     resp.Header,
		Latency:    time.Since(start),
		ProxyAddr:  proxyAddr,
	}, nil
}

// decorate sets rotating identification headers plus any profile headers.
// Accept-Encoding is left to the transport, which negotiates gzip and
// decompresses the response transparently.
func (f *HTTPFetcher) decorate(req *http.Request, profile types.FetchProfile) {
	req.Header.Set("User-Agent", f.nextUserAgent(profile))
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))])
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	for key, value := range profile.Headers {
		req.Header.Set(key, value)
	}
}

func (f *HTTPFetcher) nextUserAgent(profile types.FetchProfile) string {
	agents := profile.UserAgents
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ua := agents[f.uaIndex%len(agents)]
	f.uaIndex++
	return ua
}

func (f *HTTPFetcher) clientFor(proxyAddr string, profile types.FetchProfile) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[proxyAddr]; ok {
		return client, nil
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyAddr != "" {
		proxyURL, err := url.Parse(proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("malformed proxy address %q: %w", proxyAddr, err)
		}
		if proxyURL.Scheme == "" {
			proxyURL, err = url.Parse("http://" + proxyAddr)
			if err != nil {
				return nil, fmt.Errorf("malformed proxy address %q: %w", proxyAddr, err)
			}
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := profile.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Transport: transport, Timeout: timeout}
	f.clients[proxyAddr] = client
	return client, nil
}
