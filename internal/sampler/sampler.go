package sampler

import (
	"math/rand"

	"github.com/edge-scanner-api/internal/ranges"
)

// weightClamp caps a range's sampling weight and offset span at one
// /16 worth of addresses. Without it a single huge block would starve
// every small block of selection; with it, very large ranges compete
// roughly uniformly per /16-equivalent. This is a scanning-fairness
// heuristic, not strict proportionality.
const weightClamp = 65536

// drawFactor bounds total draws at drawFactor*count so sampling
// terminates when the address space is smaller than requested or
// collisions dominate.
const drawFactor = 3

type Sampler struct {
	rng *rand.Rand
}

// New returns a Sampler driven by the given source. Pass a seeded
// source in tests for deterministic samples.
func New(src rand.Source) *Sampler {
	return &Sampler{rng: rand.New(src)}
}

// Sample draws up to count unique candidate addresses from rs, each
// range weighted by min(size, 65536). The result may be shorter than
// count; callers must tolerate a short list. An empty range set yields
// an empty sample, not an error.
func (s *Sampler) Sample(rs []ranges.AddressRange, count int) []uint32 {
	if len(rs) == 0 || count <= 0 {
		return nil
	}

	// Cumulative clamped weights, one pass.
	cum := make([]uint64, len(rs))
	var total uint64
	for i, r := range rs {
		w := r.Size()
		if w > weightClamp {
			w = weightClamp
		}
		total += w
		cum[i] = total
	}

	seen := make(map[uint32]struct{}, count)
	candidates := make([]uint32, 0, count)

	for draws := 0; draws < drawFactor*count && len(candidates) < count; draws++ {
		r := rs[s.pickRange(cum, total)]

		span := r.Size()
		if span > weightClamp {
			span = weightClamp
		}
		addr := r.Base + uint32(s.rng.Int63n(int64(span)))

		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		candidates = append(candidates, addr)
	}

	return candidates
}

// pickRange selects a range index with probability proportional to its
// clamped weight, by binary search over the cumulative weights.
func (s *Sampler) pickRange(cum []uint64, total uint64) int {
	target := uint64(s.rng.Int63n(int64(total)))
	lo, hi := 0, len(cum)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if cum[mid] <= target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
