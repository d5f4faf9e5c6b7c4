package proxy_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/proxy"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newForwarder(t *testing.T, upstreamURL string, timeout time.Duration) *proxy.Forwarder {
	t.Helper()
	fwd, err := proxy.NewForwarder(proxy.Options{
		UpstreamURL: upstreamURL,
		Timeout:     timeout,
	}, discard())
	require.NoError(t, err)
	return fwd
}

func TestForwardRelaysBodyAndStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/certificates/filter", r.URL.Path)
		assert.Equal(t, "page=2", r.URL.RawQuery)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("payload"))
	}))
	defer upstream.Close()

	fwd := newForwarder(t, upstream.URL, 5*time.Second)

	req := httptest.NewRequest(http.MethodGet,
		"https://gw.example/api/v1/proxy/certificates/filter?page=2", nil)
	rec := httptest.NewRecorder()

	n, err := fwd.Forward(rec, req, "certificates/filter", uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload")), n)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))
}

func TestForwardSetsIdentityHeaders(t *testing.T) {
	var got http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer upstream.Close()

	fwd := newForwarder(t, upstream.URL, 5*time.Second)
	userID, tokenID := uuid.New(), uuid.New()

	req := httptest.NewRequest(http.MethodGet, "https://gw.example/x", nil)
	req.Host = "gw.example"
	req.RemoteAddr = "198.51.100.7:53211"

	_, err := fwd.Forward(httptest.NewRecorder(), req, "x", userID, tokenID)
	require.NoError(t, err)

	assert.Equal(t, userID.String(), got.Get("X-User-Id"))
	assert.Equal(t, tokenID.String(), got.Get("X-Token-Id"))
	assert.Equal(t, "198.51.100.7", got.Get("X-Forwarded-For"))
	assert.Equal(t, "https", got.Get("X-Forwarded-Proto"))
	assert.Equal(t, "gw.example", got.Get("X-Forwarded-Host"))
}

func TestForwardStripsGatewayHeaders(t *testing.T) {
	var got http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer upstream.Close()

	fwd := newForwarder(t, upstream.URL, 5*time.Second)

	req := httptest.NewRequest(http.MethodGet, "https://gw.example/x", nil)
	req.Header.Set("X-Access-Token", "secret-token")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("X-Custom", "kept")

	_, err := fwd.Forward(httptest.NewRecorder(), req, "x", uuid.New(), uuid.New())
	require.NoError(t, err)

	assert.Empty(t, got.Get("X-Access-Token"))
	assert.Empty(t, got.Get("Keep-Alive"))
	assert.Equal(t, "kept", got.Get("X-Custom"))
}

func TestForwardStripsOnlyGatewayCookie(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Cookie")
	}))
	defer upstream.Close()

	fwd := newForwarder(t, upstream.URL, 5*time.Second)

	req := httptest.NewRequest(http.MethodGet, "https://gw.example/x", nil)
	req.Header.Set("Cookie", "session_pref=dark; "+proxy.CookieName+"=sekrit; lang=de")

	_, err := fwd.Forward(httptest.NewRecorder(), req, "x", uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "session_pref=dark; lang=de", got)
}

func TestForwardFollowsUpstreamRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
			return
		}
		w.Write([]byte("moved target"))
	}))
	defer upstream.Close()

	fwd := newForwarder(t, upstream.URL, 5*time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "https://gw.example/old", nil)

	n, err := fwd.Forward(rec, req, "old", uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "moved target", rec.Body.String())
	assert.Equal(t, int64(len("moved target")), n)
}

func TestForwardUnreachableUpstream(t *testing.T) {
	fwd := newForwarder(t, "http://127.0.0.1:1", 2*time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "https://gw.example/x", nil)

	_, err := fwd.Forward(rec, req, "x", uuid.New(), uuid.New())
	var derr *core.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, core.KindUpstreamUnreachable, derr.Kind)
}

func TestForwardUpstreamTimeout(t *testing.T) {
	block := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer upstream.Close()
	defer close(block)

	fwd := newForwarder(t, upstream.URL, 100*time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "https://gw.example/x", nil)

	_, err := fwd.Forward(rec, req, "x", uuid.New(), uuid.New())
	var derr *core.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, core.KindUpstreamTimeout, derr.Kind)
}

func TestForwardJoinsUpstreamBasePath(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer upstream.Close()

	fwd := newForwarder(t, upstream.URL+"/zenzefi/", 5*time.Second)

	req := httptest.NewRequest(http.MethodGet, "https://gw.example/x", nil)
	_, err := fwd.Forward(httptest.NewRecorder(), req, "certificates/filter", uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "/zenzefi/certificates/filter", gotPath)
}
