// internal/strategy/client.go

package strategy

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// maxBodyBytes caps how much of a response the HTTP tiers will read.
const maxBodyBytes = 10 << 20

// defaultHTTPTimeout applies when the caller sets none.
const defaultHTTPTimeout = 30 * time.Second

// newHTTPClient builds a client with a publicsuffix-aware cookie jar and an
// optional proxy. A fresh client per invocation keeps proxy credentials from
// leaking between requests.
func newHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}, nil
}

// applyHeaders shapes the outgoing request: rotated user agent, browser-like
// defaults, quirk-required headers, and quirk-forbidden header removal.
func applyHeaders(req *http.Request, opts Options, uaPool *UserAgentPool) {
	ua := opts.UserAgent
	if ua == "" {
		ua = uaPool.Next()
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	if opts.Stealth {
		req.Header.Set("Sec-Fetch-Dest", "document")
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		req.Header.Set("Sec-Fetch-Site", "none")
		req.Header.Set("Sec-Fetch-User", "?1")
	}

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	for _, key := range opts.ForbiddenHeaders {
		req.Header.Del(key)
	}
}

// readBody reads a capped, charset-decoded response body as UTF-8.
func readBody(resp *http.Response) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	charset := charsetOf(resp.Header.Get("Content-Type"))
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return string(raw), nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(raw), nil // unknown charset, serve the bytes as-is
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return string(raw), nil
	}
	return string(decoded), nil
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// isJSONResponse reports whether the response declares a JSON media type.
func isJSONResponse(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
