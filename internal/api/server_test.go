package api

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edge-scanner-api/internal/config"
	"github.com/edge-scanner-api/internal/metrics"
	"github.com/edge-scanner-api/internal/prober"
	"github.com/edge-scanner-api/internal/ranges"
	"github.com/edge-scanner-api/internal/sampler"
	"github.com/edge-scanner-api/internal/scanner"
	"github.com/edge-scanner-api/internal/snapshot"
	"github.com/edge-scanner-api/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Prometheus collectors register globally, so the package shares one.
var testMetrics = metrics.NewCollector("edgescanner_apitest")

type evenProber struct{}

// Probe succeeds for even addresses with a latency derived from the
// last octet, fails for odd ones.
func (evenProber) Probe(ctx context.Context, addr uint32) prober.ProbeResult {
	ip := ranges.FormatAddr(addr)
	if addr%2 == 0 {
		return prober.ProbeResult{Addr: addr, IP: ip, LatencyMs: int64(addr%256) + 1, Succeeded: true, Strategy: prober.StrategyPrimary}
	}
	return prober.ProbeResult{Addr: addr, IP: ip, Succeeded: false, Strategy: prober.StrategyNone}
}

func testServer(t *testing.T) (*Server, *scanner.Scanner) {
	t.Helper()

	rangeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("203.0.113.0/24\n"))
	}))
	t.Cleanup(rangeSrv.Close)

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Ranges.Sources = []string{rangeSrv.URL}
	cfg.Metrics.Enabled = false
	cfg.API.EnableIPRateLimit = false

	fetcher := ranges.NewFetcher(cfg.Ranges, nil)
	scn := scanner.NewScanner(cfg.Scanner, cfg.Prober, fetcher, sampler.New(rand.NewSource(23)), nil)
	scn.SetProberFactory(func(config.ProberConfig) (prober.Prober, error) {
		return evenProber{}, nil
	})

	store, err := storage.NewFileStorage(filepath.Join(t.TempDir(), "scans.json"))
	require.NoError(t, err)
	snap := snapshot.NewManager(store, 0)
	t.Cleanup(snap.Close)

	return NewServer(cfg, scn, snap, testMetrics), scn
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t)
	w := do(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestThresholds(t *testing.T) {
	s, _ := testServer(t)
	w := do(t, s, "GET", "/thresholds", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 300, got["default_ms"])
	assert.Equal(t, 100, got["green_ms"])
}

func TestScanLifecycleOverAPI(t *testing.T) {
	s, scn := testServer(t)

	w := do(t, s, "POST", "/scan/start", `{"count": 8, "concurrency": 2}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	session := scn.Session()
	require.NotNil(t, session)
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not finish")
	}

	t.Run("Status", func(t *testing.T) {
		w := do(t, s, "GET", "/scan/status", "")
		require.Equal(t, http.StatusOK, w.Code)
		var got struct {
			State      string `json:"state"`
			Candidates int    `json:"candidates"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "finished", got.State)
		assert.Equal(t, len(session.Candidates), got.Candidates)
	})

	t.Run("Results", func(t *testing.T) {
		w := do(t, s, "GET", "/results?sort=latency_asc&threshold=1000", "")
		require.Equal(t, http.StatusOK, w.Code)
		var got struct {
			Results []struct {
				IP    string `json:"ip"`
				Clean bool   `json:"clean"`
			} `json:"results"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Len(t, got.Results, len(session.Candidates))
	})

	t.Run("ExportCSV", func(t *testing.T) {
		w := do(t, s, "GET", "/results/export.csv", "")
		require.Equal(t, http.StatusOK, w.Code)
		lines := strings.Split(w.Body.String(), "\n")
		assert.Equal(t, "ip,ping_ms,clean", lines[0])
		assert.Len(t, lines, len(session.Candidates)+1)
	})

	t.Run("CleanList", func(t *testing.T) {
		w := do(t, s, "GET", "/results/clean?threshold=1000", "")
		require.Equal(t, http.StatusOK, w.Code)
		summary := session.Aggregator.Summarize(1000)
		if summary.FoundCount == 0 {
			assert.Empty(t, w.Body.String())
		} else {
			assert.Len(t, strings.Split(w.Body.String(), "\n"), summary.FoundCount)
		}
	})
}

func TestScanStartRejectsBadParams(t *testing.T) {
	s, _ := testServer(t)

	w := do(t, s, "POST", "/scan/start", `{"count": 5000}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, "POST", "/scan/start", `{broken`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScanStartFetchFailure(t *testing.T) {
	s, _ := testServer(t)

	// Point the scanner at a dead source.
	deadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	srvURL := deadSrv.URL
	deadSrv.Close()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Ranges.Sources = []string{srvURL}
	fetcher := ranges.NewFetcher(cfg.Ranges, nil)
	scn := scanner.NewScanner(cfg.Scanner, cfg.Prober, fetcher, sampler.New(rand.NewSource(1)), nil)
	s.scanner = scn

	w := do(t, s, "POST", "/scan/start", `{"count": 5}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestScanStop(t *testing.T) {
	s, _ := testServer(t)
	w := do(t, s, "POST", "/scan/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResultsWithoutSession(t *testing.T) {
	s, _ := testServer(t)

	w := do(t, s, "GET", "/results", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, "GET", "/results/export.csv", "")
	assert.Equal(t, "ip,ping_ms,clean", w.Body.String())

	w = do(t, s, "GET", "/scan/status", "")
	assert.Contains(t, w.Body.String(), "idle")
}
