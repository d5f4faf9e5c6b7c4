package api

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/zenzefi/gateway/internal/cache"
)

// HealthChecker reports reachability of the gateway's dependencies.
// The upstream probe result is cached between background checks so
// /health stays cheap.
type HealthChecker struct {
	db          *sql.DB
	cache       cache.Store
	upstreamURL string
	client      *http.Client

	mu             sync.RWMutex
	upstreamStatus string
}

func NewHealthChecker(db *sql.DB, cacheStore cache.Store, upstreamURL string, insecureTLS bool) *HealthChecker {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &HealthChecker{
		db:             db,
		cache:          cacheStore,
		upstreamURL:    upstreamURL,
		client:         &http.Client{Transport: transport, Timeout: 5 * time.Second},
		upstreamStatus: "unknown",
	}
}

// Run probes the upstream on the given interval until ctx is
// canceled.
func (h *HealthChecker) Run(ctx context.Context, interval time.Duration) {
	h.probeUpstream(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probeUpstream(ctx)
		}
	}
}

func (h *HealthChecker) probeUpstream(ctx context.Context) {
	status := "reachable"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.upstreamURL, nil)
	if err != nil {
		status = "error"
	} else if resp, err := h.client.Do(req); err != nil {
		status = "unreachable"
	} else {
		resp.Body.Close()
	}

	h.mu.Lock()
	h.upstreamStatus = status
	h.mu.Unlock()
}

// Report is the /health response body.
type Report struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
	Upstream string `json:"upstream"`
}

// Check runs the cheap probes and assembles the report.
func (h *HealthChecker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	report := Report{Status: "healthy", Service: "zenzefi-gateway"}

	report.Database = "connected"
	if h.db == nil {
		report.Database = "in-memory"
	} else if err := h.db.PingContext(ctx); err != nil {
		report.Database = "error"
		report.Status = "degraded"
	}

	report.Cache = "connected"
	if err := h.cache.Ping(ctx); err != nil {
		report.Cache = "error"
		report.Status = "degraded"
	}

	h.mu.RLock()
	report.Upstream = h.upstreamStatus
	h.mu.RUnlock()
	if report.Upstream != "reachable" && report.Upstream != "unknown" {
		report.Status = "degraded"
	}

	return report
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
