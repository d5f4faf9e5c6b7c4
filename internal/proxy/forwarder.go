// Package proxy forwards admitted HTTP and WebSocket traffic to the
// single upstream, with header hygiene on both legs.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zenzefi/gateway/internal/core"
)

// CookieName is the authentication cookie the gateway sets; it must
// never travel upstream.
const CookieName = "zenzefi_access_token"

// requestDropHeaders never leave the gateway toward the upstream.
var requestDropHeaders = []string{"Host", "X-Access-Token", "Content-Length",
	"Transfer-Encoding", "Connection", "Keep-Alive", "Upgrade"}

// responseDropHeaders are hop-by-hop headers stripped from upstream
// responses before relaying.
var responseDropHeaders = []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Content-Length"}

// Forwarder relays one request to the upstream and writes the
// response back. It reports transferred byte counts for metering.
type Forwarder struct {
	upstream  *url.URL
	client    *http.Client
	basicUser string
	basicPass string
	log       *slog.Logger
}

// Options configures a Forwarder.
type Options struct {
	UpstreamURL   string
	Timeout       time.Duration
	InsecureTLS   bool
	BasicUser     string
	BasicPassword string
}

func NewForwarder(opts Options, log *slog.Logger) (*Forwarder, error) {
	upstream, err := url.Parse(opts.UpstreamURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Forwarder{
		upstream: upstream,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		basicUser: opts.BasicUser,
		basicPass: opts.BasicPassword,
		log:       log,
	}, nil
}

// Forward relays the request for path (already stripped of the proxy
// prefix) to the upstream. It returns the number of response body
// bytes relayed, and an error classified as upstream timeout or
// unreachable when the upstream leg failed. Once any response byte has
// been written the error is nil regardless of copy failures.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, path string,
	userID, tokenID uuid.UUID) (int64, error) {

	target := *f.upstream
	target.Path = singleJoin(f.upstream.Path, path)
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return 0, core.NewError(core.KindInternal, "proxy: build request: %v", err)
	}

	out.Header = cloneHeaders(r.Header)
	stripAuthCookie(out.Header)
	out.Header.Set("X-Forwarded-For", clientIP(r))
	out.Header.Set("X-Forwarded-Proto", "https")
	out.Header.Set("X-Forwarded-Host", r.Host)
	out.Header.Set("X-User-Id", userID.String())
	out.Header.Set("X-Token-Id", tokenID.String())
	if f.basicUser != "" {
		out.SetBasicAuth(f.basicUser, f.basicPass)
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return 0, classify(err)
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if dropResponseHeader(key) {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		// The status line is gone; nothing more to tell the client.
		f.log.Warn("proxy response copy interrupted", "path", path, "error", copyErr)
	}
	return n, nil
}

func classify(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return core.NewError(core.KindUpstreamTimeout, "Gateway Timeout: upstream did not respond")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.NewError(core.KindUpstreamTimeout, "Gateway Timeout: upstream did not respond")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewError(core.KindUpstreamTimeout, "Gateway Timeout: upstream did not respond")
	}
	return core.NewError(core.KindUpstreamUnreachable, "Bad Gateway: unable to reach upstream")
}

func cloneHeaders(src http.Header) http.Header {
	out := make(http.Header, len(src))
	for key, values := range src {
		if dropRequestHeader(key) {
			continue
		}
		for _, v := range values {
			out.Add(key, v)
		}
	}
	return out
}

func dropRequestHeader(key string) bool {
	for _, h := range requestDropHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

func dropResponseHeader(key string) bool {
	for _, h := range responseDropHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

// stripAuthCookie removes the gateway's own cookie from the Cookie
// header, keeping the rest intact.
func stripAuthCookie(h http.Header) {
	raw := h.Get("Cookie")
	if raw == "" {
		return
	}
	var kept []string
	for _, part := range strings.Split(raw, ";") {
		pair := strings.TrimSpace(part)
		if name, _, _ := strings.Cut(pair, "="); name == CookieName {
			continue
		}
		if pair != "" {
			kept = append(kept, pair)
		}
	}
	if len(kept) == 0 {
		h.Del("Cookie")
		return
	}
	h.Set("Cookie", strings.Join(kept, "; "))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func singleJoin(a, b string) string {
	a = strings.TrimSuffix(a, "/")
	if !strings.HasPrefix(b, "/") {
		b = "/" + b
	}
	return a + b
}
