package scanner

import (
	"sync/atomic"
	"time"

	"github.com/edge-scanner-api/internal/results"
)

// ScanParams are the caller-supplied knobs for one scan.
type ScanParams struct {
	Count       int `json:"count"`
	Concurrency int `json:"concurrency"`
	TimeoutMs   int `json:"timeout_ms"`
}

// ScanSession is the state of one scan: its candidate list, the
// evolving result set, a running flag and a monotonic start timestamp.
// At most one session is active at a time; a finished session is kept
// read-only until the next scan replaces it.
type ScanSession struct {
	Params     ScanParams
	Candidates []uint32
	Aggregator *results.Aggregator

	started time.Time
	running atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
}

func newSession(params ScanParams, candidates []uint32) *ScanSession {
	s := &ScanSession{
		Params:     params,
		Candidates: candidates,
		Aggregator: results.NewAggregator(),
		started:    time.Now(),
		done:       make(chan struct{}),
	}
	s.running.Store(true)
	return s
}

// Running reports whether the session's pool is still working.
func (s *ScanSession) Running() bool {
	return s.running.Load()
}

// Stopped reports whether the session was cut short by a stop request.
func (s *ScanSession) Stopped() bool {
	return s.stopped.Load()
}

// Elapsed is the wall time since the scan started, monotonic.
func (s *ScanSession) Elapsed() time.Duration {
	return time.Since(s.started)
}

// Done is closed when the pool has drained.
func (s *ScanSession) Done() <-chan struct{} {
	return s.done
}

func (s *ScanSession) finish() {
	s.running.Store(false)
	close(s.done)
}
