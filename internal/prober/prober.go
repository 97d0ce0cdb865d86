package prober

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/edge-scanner-api/internal/config"
	"github.com/edge-scanner-api/internal/ranges"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Strategy tags which probe path produced a result.
type Strategy string

const (
	StrategyNone     Strategy = "none"
	StrategyPrimary  Strategy = "primary"
	StrategyFallback Strategy = "fallback"
)

// ProbeResult is the outcome of probing a single candidate address.
// Immutable after creation. LatencyMs is 0 when no connection attempt
// settled within budget; measured latencies are floored at 1ms, so zero
// always means "absent".
type ProbeResult struct {
	Addr      uint32   `json:"-"`
	IP        string   `json:"ip"`
	LatencyMs int64    `json:"latency_ms"`
	Succeeded bool     `json:"succeeded"`
	Strategy  Strategy `json:"strategy"`
}

// Prober probes one candidate for reachability and latency.
// Implementations never return an error; every failure path resolves
// to a ProbeResult with Succeeded=false.
type Prober interface {
	Probe(ctx context.Context, addr uint32) ProbeResult
}

// NetProber measures connection round-trip time, not application-level
// correctness: a probe "succeeds" when a connection attempt settles
// within its budget. The primary strategy times a TCP dial to the
// primary port; if it fails outright, a fallback HTTP fetch of a small
// well-known resource on a different port runs with its own full
// timeout budget. Worst case per probe is attempts x strategies x
// timeout, never a hang.
type NetProber struct {
	config   config.ProberConfig
	dialer   proxy.ContextDialer
	fallback *http.Client
}

func NewNetProber(cfg config.ProberConfig) (*NetProber, error) {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond

	direct := &net.Dialer{Timeout: timeout}
	var dialer proxy.ContextDialer = direct

	if cfg.SocksProxy != "" {
		socks, err := proxy.SOCKS5("tcp", cfg.SocksProxy, nil, direct)
		if err != nil {
			return nil, fmt.Errorf("socks dialer: %w", err)
		}
		ctxDialer, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks dialer does not support context dialing")
		}
		dialer = ctxDialer
		log.Infof("Probing through SOCKS5 upstream %s", cfg.SocksProxy)
	}

	fallback := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:       dialer.DialContext,
			DisableKeepAlives: true,
			MaxIdleConns:      1,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Don't follow redirects
		},
	}

	return &NetProber{
		config:   cfg,
		dialer:   dialer,
		fallback: fallback,
	}, nil
}

// Probe runs up to the configured number of attempt iterations. Each
// iteration tries the primary strategy, then the fallback; each
// strategy gets its own independent timeout (a slow primary never
// borrows time from the fallback).
func (p *NetProber) Probe(ctx context.Context, addr uint32) ProbeResult {
	ip := ranges.FormatAddr(addr)

	for attempt := 0; attempt < p.config.Attempts; attempt++ {
		if latency, ok := p.tryPrimary(ctx, ip); ok {
			return ProbeResult{Addr: addr, IP: ip, LatencyMs: latency, Succeeded: true, Strategy: StrategyPrimary}
		}
		if latency, ok := p.tryFallback(ctx, ip); ok {
			return ProbeResult{Addr: addr, IP: ip, LatencyMs: latency, Succeeded: true, Strategy: StrategyFallback}
		}
	}

	return ProbeResult{Addr: addr, IP: ip, Succeeded: false, Strategy: StrategyNone}
}

// tryPrimary times a raw TCP dial to the primary port. Only a
// completed handshake is a signal; a refused or timed-out dial yields
// no measurement and the fallback gets its own try, so an endpoint
// that rejects the primary port but answers HTTP still settles.
func (p *NetProber) tryPrimary(ctx context.Context, ip string) (int64, bool) {
	timeout := time.Duration(p.config.TimeoutMs) * time.Millisecond
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := net.JoinHostPort(ip, fmt.Sprintf("%d", p.config.PrimaryPort))

	start := time.Now()
	conn, err := p.dialer.DialContext(dialCtx, "tcp", target)
	if err != nil {
		return 0, false
	}
	conn.Close()

	return clampLatency(time.Since(start)), true
}

// tryFallback fetches a small well-known resource over plain HTTP on
// the fallback port. Any HTTP response, whatever its status, means the
// connection attempt settled; only connection-level failures count as
// no signal.
func (p *NetProber) tryFallback(ctx context.Context, ip string) (int64, bool) {
	timeout := time.Duration(p.config.TimeoutMs) * time.Millisecond
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s",
		net.JoinHostPort(ip, fmt.Sprintf("%d", p.config.FallbackPort)), p.config.FallbackPath)

	req, err := http.NewRequestWithContext(reqCtx, "GET", url, nil)
	if err != nil {
		return 0, false
	}

	start := time.Now()
	resp, err := p.fallback.Do(req)
	if err != nil {
		return 0, false
	}
	resp.Body.Close()

	return clampLatency(time.Since(start)), true
}

// clampLatency rounds to the nearest millisecond and floors at 1ms so
// clock quantization never yields a zero or negative reading.
func clampLatency(elapsed time.Duration) int64 {
	ms := elapsed.Round(time.Millisecond).Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}
