package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edge-scanner-api/internal/prober"
	"github.com/edge-scanner-api/internal/ranges"
	"github.com/edge-scanner-api/internal/results"
	log "github.com/sirupsen/logrus"
)

// WorkerPool probes a candidate list with bounded concurrency. Workers
// claim candidates from a shared atomic cursor, so every candidate is
// claimed exactly once. Cancellation is cooperative: Stop prevents new
// claims, but an in-flight probe runs to its timeout-bounded completion
// and its result is still recorded.
type WorkerPool struct {
	prober prober.Prober
	cursor atomic.Int64
	stop   atomic.Bool
}

func NewWorkerPool(p prober.Prober) *WorkerPool {
	return &WorkerPool{prober: p}
}

// Stop requests that no further candidates be claimed.
func (w *WorkerPool) Stop() {
	w.stop.Store(true)
}

// Stopped reports whether a stop has been requested.
func (w *WorkerPool) Stopped() bool {
	return w.stop.Load()
}

// Run blocks until every candidate is processed or a stop drains the
// in-flight probes. Each claim emits a placeholder update immediately
// so observers see the candidate as in progress, then the settled
// result as a final update.
func (w *WorkerPool) Run(ctx context.Context, candidates []uint32, concurrency int, onResult func(results.Update)) {
	total := len(candidates)
	if total == 0 {
		return
	}
	if concurrency > total {
		concurrency = total
	}
	if concurrency < 1 {
		concurrency = 1
	}

	log.Infof("Starting probe pool: %d candidates, concurrency=%d", total, concurrency)
	startTime := time.Now()

	var completed atomic.Int64
	progressTicker := time.NewTicker(5 * time.Second)
	tickerDone := make(chan struct{})

	go func() {
		defer progressTicker.Stop()
		for {
			select {
			case <-tickerDone:
				return
			case <-progressTicker.C:
				current := completed.Load()
				log.Infof("Probe progress: %d/%d (%.1f%%)",
					current, total, float64(current)/float64(total)*100.0)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.work(ctx, candidates, onResult, &completed)
		}()
	}

	wg.Wait()
	close(tickerDone)

	log.Infof("Probe pool done: %d/%d candidates in %v (stopped=%v)",
		completed.Load(), total, time.Since(startTime), w.stop.Load())
}

func (w *WorkerPool) work(ctx context.Context, candidates []uint32, onResult func(results.Update), completed *atomic.Int64) {
	for {
		if w.stop.Load() {
			return
		}

		idx := w.cursor.Add(1) - 1
		if idx >= int64(len(candidates)) {
			return
		}
		addr := candidates[idx]

		onResult(results.Update{
			Result: prober.ProbeResult{
				Addr:     addr,
				IP:       ranges.FormatAddr(addr),
				Strategy: prober.StrategyNone,
			},
			Final: false,
		})

		res := w.prober.Probe(ctx, addr)
		onResult(results.Update{Result: res, Final: true})
		completed.Add(1)
	}
}
