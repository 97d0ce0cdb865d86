package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/edge-scanner-api/internal/config"
	"github.com/edge-scanner-api/internal/metrics"
	"github.com/edge-scanner-api/internal/prober"
	"github.com/edge-scanner-api/internal/ranges"
	"github.com/edge-scanner-api/internal/results"
	"github.com/edge-scanner-api/internal/sampler"
	log "github.com/sirupsen/logrus"
)

// ProberFactory builds the prober for one scan, so per-scan timeout
// overrides take effect and tests can inject deterministic stubs.
type ProberFactory func(config.ProberConfig) (prober.Prober, error)

// Scanner coordinates scans: fetch ranges, sample candidates, run the
// worker pool, feed the session aggregator and broadcast live updates.
type Scanner struct {
	scanCfg   config.ScannerConfig
	proberCfg config.ProberConfig
	fetcher   *ranges.Fetcher
	sampler   *sampler.Sampler
	factory   ProberFactory
	metrics   *metrics.Collector

	// startMu serializes StartScan end to end, so stopping the previous
	// session and installing the new one is a single atomic step.
	startMu sync.Mutex

	mu          sync.Mutex
	session     *ScanSession
	pool        *WorkerPool
	subscribers map[chan results.Update]struct{}
	onComplete  func(*ScanSession)
}

func NewScanner(scanCfg config.ScannerConfig, proberCfg config.ProberConfig, fetcher *ranges.Fetcher, smp *sampler.Sampler, metricsCollector *metrics.Collector) *Scanner {
	return &Scanner{
		scanCfg:   scanCfg,
		proberCfg: proberCfg,
		fetcher:   fetcher,
		sampler:   smp,
		metrics:   metricsCollector,
		factory: func(cfg config.ProberConfig) (prober.Prober, error) {
			return prober.NewNetProber(cfg)
		},
		subscribers: make(map[chan results.Update]struct{}),
	}
}

// SetProberFactory overrides how per-scan probers are built.
func (s *Scanner) SetProberFactory(f ProberFactory) {
	s.factory = f
}

// OnComplete registers a hook invoked after a session's pool drains,
// with the finished session. Used to persist scan snapshots.
func (s *Scanner) OnComplete(fn func(*ScanSession)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// StartScan begins a new scan. An active scan is stopped first and its
// in-flight probes are allowed to drain before the new session starts.
// A range list failure is fatal to the start and leaves the system
// ready for a fresh attempt; a short sample is degraded but valid.
func (s *Scanner) StartScan(ctx context.Context, params ScanParams) (*ScanSession, error) {
	if params.Count == 0 {
		params.Count = s.scanCfg.DefaultCount
	}
	if params.Count < 1 || params.Count > s.scanCfg.MaxCount {
		return nil, fmt.Errorf("count must be between 1 and %d", s.scanCfg.MaxCount)
	}
	if params.Concurrency == 0 {
		params.Concurrency = s.scanCfg.Concurrency
	}
	if params.Concurrency < 1 || params.Concurrency > s.scanCfg.MaxConcurrency {
		return nil, fmt.Errorf("concurrency must be between 1 and %d", s.scanCfg.MaxConcurrency)
	}

	proberCfg := s.proberCfg
	if params.TimeoutMs > 0 {
		proberCfg.TimeoutMs = params.TimeoutMs
	}
	params.TimeoutMs = proberCfg.TimeoutMs

	p, err := s.factory(proberCfg)
	if err != nil {
		return nil, fmt.Errorf("build prober: %w", err)
	}

	// Only one session may be active. startMu covers the stop of the
	// previous session through the install of the new one, so two
	// concurrent starts cannot both observe an idle scanner and launch
	// overlapping pools.
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.stopAndWait()

	rangeList, err := s.fetcher.Fetch(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordScan("fetch_failed")
		}
		return nil, err
	}

	candidates := s.sampler.Sample(rangeList, params.Count)
	if len(candidates) < params.Count {
		log.Warnf("Sample exhausted: %d candidates for requested %d", len(candidates), params.Count)
	}

	session := newSession(params, candidates)
	pool := NewWorkerPool(p)

	s.mu.Lock()
	s.session = session
	s.pool = pool
	s.mu.Unlock()

	log.Infof("Scan started: %d ranges, %d candidates, concurrency=%d, timeout=%dms",
		len(rangeList), len(candidates), params.Concurrency, params.TimeoutMs)

	go s.run(ctx, session, pool)

	return session, nil
}

func (s *Scanner) run(ctx context.Context, session *ScanSession, pool *WorkerPool) {
	pool.Run(ctx, session.Candidates, session.Params.Concurrency, func(u results.Update) {
		session.Aggregator.Upsert(u)
		s.record(u)
		s.broadcast(u)
	})

	session.stopped.Store(pool.Stopped())
	session.finish()

	if s.metrics != nil {
		outcome := "completed"
		if pool.Stopped() {
			outcome = "stopped"
		}
		s.metrics.RecordScan(outcome)
		s.metrics.RecordScanDuration(session.Elapsed().Seconds())
		s.metrics.SetScannedCandidates(session.Aggregator.Len())
	}

	s.mu.Lock()
	hook := s.onComplete
	s.mu.Unlock()
	if hook != nil {
		hook(session)
	}

	log.Infof("Scan finished in %v", session.Elapsed())
}

func (s *Scanner) record(u results.Update) {
	if s.metrics == nil || !u.Final {
		return
	}
	s.metrics.RecordProbe(string(u.Result.Strategy), u.Result.Succeeded)
	if u.Result.Succeeded {
		s.metrics.RecordProbeDuration(float64(u.Result.LatencyMs) / 1000.0)
	}
}

// StopScan cooperatively stops the active scan: no new candidates are
// claimed, in-flight probes still settle and record their results.
func (s *Scanner) StopScan() {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()

	if pool != nil {
		pool.Stop()
	}
}

func (s *Scanner) stopAndWait() {
	s.mu.Lock()
	session, pool := s.session, s.pool
	s.mu.Unlock()

	if session == nil || !session.Running() {
		return
	}
	log.Info("Stopping previous scan before starting a new one")
	pool.Stop()
	<-session.Done()
}

// Session returns the current session, which may already be finished.
func (s *Scanner) Session() *ScanSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Subscribe returns a channel of live result updates and a cancel
// function. Slow subscribers drop updates rather than stalling workers;
// the authoritative state is always the session aggregator.
func (s *Scanner) Subscribe() (<-chan results.Update, func()) {
	ch := make(chan results.Update, 256)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Scanner) broadcast(u results.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}
