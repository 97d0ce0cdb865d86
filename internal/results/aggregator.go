package results

import (
	"math"
	"sort"
	"sync"

	"github.com/edge-scanner-api/internal/prober"
)

// SortMode selects the ordering of a result view.
type SortMode string

const (
	LatencyAscending  SortMode = "latency_asc"
	LatencyDescending SortMode = "latency_desc"
	AddressAscending  SortMode = "address_asc"
	AddressDescending SortMode = "address_desc"
)

// ParseSortMode maps a query string to a SortMode, defaulting to
// latency ascending.
func ParseSortMode(s string) SortMode {
	switch SortMode(s) {
	case LatencyDescending, AddressAscending, AddressDescending:
		return SortMode(s)
	default:
		return LatencyAscending
	}
}

// Update is one message from a worker: a placeholder when the
// candidate is claimed (Final=false) and the probe outcome when it
// settles (Final=true).
type Update struct {
	Result prober.ProbeResult `json:"result"`
	Final  bool               `json:"final"`
}

// ClassifiedResult is a probe result plus its classification against
// the threshold supplied at query time. Clean is never stored on the
// result itself, so a threshold change reclassifies the whole set
// without re-probing.
type ClassifiedResult struct {
	prober.ProbeResult
	Clean bool `json:"clean"`
	Final bool `json:"final"`
}

// Summary aggregates the current result set under a threshold.
type Summary struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Succeeded    int     `json:"succeeded"`
	Failed       int     `json:"failed"`
	FoundCount   int     `json:"found_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

type entry struct {
	result prober.ProbeResult
	final  bool
}

// Aggregator owns the evolving result set of one scan session. Workers
// upsert results keyed by address; every view is computed fresh from
// the stored set, never from arrival order, and sorting never mutates
// stored results.
type Aggregator struct {
	mu      sync.RWMutex
	entries []entry
	byAddr  map[uint32]int
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byAddr: make(map[uint32]int),
	}
}

// Upsert records an update. The first update for an address appends a
// slot in insertion order; later updates for the same address replace
// the slot in place, so a final result lands where its placeholder was.
func (a *Aggregator) Upsert(u Update) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i, ok := a.byAddr[u.Result.Addr]; ok {
		a.entries[i] = entry{result: u.Result, final: u.Final}
		return
	}

	a.byAddr[u.Result.Addr] = len(a.entries)
	a.entries = append(a.entries, entry{result: u.Result, final: u.Final})
}

// Len returns the number of distinct addresses recorded.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Results returns a copy of the stored probe results in insertion
// order, without classification.
func (a *Aggregator) Results() []prober.ProbeResult {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]prober.ProbeResult, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.result
	}
	return out
}

// Summarize classifies the current set against thresholdMs. FoundCount
// counts only clean results (settled, succeeded, latency within
// threshold); the average covers every settled success regardless of
// threshold.
func (a *Aggregator) Summarize(thresholdMs int64) Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Summary{Total: len(a.entries)}
	var latencySum int64

	for _, e := range a.entries {
		if !e.final {
			s.Pending++
			continue
		}
		if !e.result.Succeeded {
			s.Failed++
			continue
		}
		s.Succeeded++
		latencySum += e.result.LatencyMs
		if e.result.LatencyMs <= thresholdMs {
			s.FoundCount++
		}
	}

	if s.Succeeded > 0 {
		s.AvgLatencyMs = float64(latencySum) / float64(s.Succeeded)
	}

	return s
}

// Sorted returns a classified view of the result set in the requested
// order. The view is a copy: re-sorting is non-destructive and
// idempotent, with original insertion order as the tie-break. Missing
// latencies sort as the worst value, so the descending latency view is
// the exact reverse of the ascending one: unreachable entries last
// ascending, first descending.
func (a *Aggregator) Sorted(mode SortMode, thresholdMs int64) []ClassifiedResult {
	a.mu.RLock()
	view := make([]ClassifiedResult, len(a.entries))
	for i, e := range a.entries {
		view[i] = ClassifiedResult{
			ProbeResult: e.result,
			Clean:       e.final && e.result.Succeeded && e.result.LatencyMs <= thresholdMs,
			Final:       e.final,
		}
	}
	a.mu.RUnlock()

	switch mode {
	case LatencyAscending:
		sortByLatency(view)
	case LatencyDescending:
		sortByLatency(view)
		reverse(view)
	case AddressAscending:
		sortByAddress(view)
	case AddressDescending:
		sortByAddress(view)
		reverse(view)
	}

	return view
}

func sortKey(r ClassifiedResult) int64 {
	if r.Final && r.Succeeded && r.LatencyMs > 0 {
		return r.LatencyMs
	}
	return math.MaxInt64
}

func sortByLatency(view []ClassifiedResult) {
	sort.SliceStable(view, func(i, j int) bool {
		return sortKey(view[i]) < sortKey(view[j])
	})
}

func sortByAddress(view []ClassifiedResult) {
	sort.SliceStable(view, func(i, j int) bool {
		return view[i].Addr < view[j].Addr
	})
}

func reverse(view []ClassifiedResult) {
	for i, j := 0, len(view)-1; i < j; i, j = i+1, j-1 {
		view[i], view[j] = view[j], view[i]
	}
}
