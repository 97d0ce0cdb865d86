package prober

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/edge-scanner-api/internal/config"
	"github.com/edge-scanner-api/internal/ranges"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loopback = uint32(0x7F000001) // 127.0.0.1

// freePort reserves and releases a loopback port, so dialing it fails
// fast with a refusal instead of timing out.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func listenerPort(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return l, l.Addr().(*net.TCPAddr).Port
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestProbePrimarySucceeds(t *testing.T) {
	_, port := listenerPort(t)

	p, err := NewNetProber(config.ProberConfig{
		TimeoutMs:    1000,
		Attempts:     2,
		PrimaryPort:  port,
		FallbackPort: freePort(t),
		FallbackPath: "/",
	})
	require.NoError(t, err)

	res := p.Probe(context.Background(), loopback)
	assert.True(t, res.Succeeded)
	assert.Equal(t, StrategyPrimary, res.Strategy)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(1))
	assert.Equal(t, "127.0.0.1", res.IP)
}

func TestProbeFallsBackWhenPrimaryRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound) // any response settles the attempt
	}))
	defer srv.Close()

	p, err := NewNetProber(config.ProberConfig{
		TimeoutMs:    1000,
		Attempts:     2,
		PrimaryPort:  freePort(t),
		FallbackPort: serverPort(t, srv),
		FallbackPath: "/anything",
	})
	require.NoError(t, err)

	res := p.Probe(context.Background(), loopback)
	assert.True(t, res.Succeeded)
	assert.Equal(t, StrategyFallback, res.Strategy)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(1))
}

func TestProbeBothStrategiesFail(t *testing.T) {
	p, err := NewNetProber(config.ProberConfig{
		TimeoutMs:    300,
		Attempts:     2,
		PrimaryPort:  freePort(t),
		FallbackPort: freePort(t),
		FallbackPath: "/",
	})
	require.NoError(t, err)

	start := time.Now()
	res := p.Probe(context.Background(), loopback)

	assert.False(t, res.Succeeded)
	assert.Equal(t, StrategyNone, res.Strategy)
	assert.Zero(t, res.LatencyMs)
	// Refused connections settle fast; the probe must not hang anywhere
	// near attempts x strategies x timeout.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProbeNeverPanicsOnUnroutableAddress(t *testing.T) {
	p, err := NewNetProber(config.ProberConfig{
		TimeoutMs:    100,
		Attempts:     1,
		PrimaryPort:  443,
		FallbackPort: 80,
		FallbackPath: "/",
	})
	require.NoError(t, err)

	// 203.0.113.0/24 is TEST-NET-3, guaranteed unroutable.
	addr, err := ranges.ParseAddr("203.0.113.77")
	require.NoError(t, err)

	res := p.Probe(context.Background(), addr)
	assert.False(t, res.Succeeded)
	assert.Equal(t, "203.0.113.77", res.IP)
}

func TestClampLatency(t *testing.T) {
	assert.Equal(t, int64(1), clampLatency(0))
	assert.Equal(t, int64(1), clampLatency(200*time.Microsecond))
	assert.Equal(t, int64(1), clampLatency(1400*time.Microsecond))
	assert.Equal(t, int64(2), clampLatency(1600*time.Microsecond))
	assert.Equal(t, int64(42), clampLatency(42*time.Millisecond))
}
