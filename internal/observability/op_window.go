package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// OpStats summarizes the recent window of one quote operation. Outcome
// counts cover the same samples as the latencies.
type OpStats struct {
	Op          string         `json:"op"`
	Samples     int            `json:"samples"`
	LastMS      float64        `json:"last_ms"`
	AvgMS       float64        `json:"avg_ms"`
	P50MS       float64        `json:"p50_ms"`
	P95MS       float64        `json:"p95_ms"`
	P99MS       float64        `json:"p99_ms"`
	TargetP95MS float64        `json:"target_p95_ms,omitempty"`
	OverTarget  bool           `json:"over_target"`
	Outcomes    map[string]int `json:"outcomes"`
	ErrorRate   float64        `json:"error_rate"`
}

type OpSnapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	WindowSize  int       `json:"window_size"`
	Ops         []OpStats `json:"ops"`
}

type opSample struct {
	ms      float64
	outcome string
}

// opWindow keeps the last size samples of every quote operation.
type opWindow struct {
	mu   sync.RWMutex
	size int
	ops  map[string]*opRing
}

type opRing struct {
	samples []opSample
	next    int
	n       int
}

func newOpWindow(size int) *opWindow {
	if size <= 0 {
		size = 256
	}
	return &opWindow{size: size, ops: make(map[string]*opRing)}
}

func (w *opWindow) Record(op, outcome string, ms float64) {
	if op == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.ops[op]
	if !ok {
		r = &opRing{samples: make([]opSample, w.size)}
		w.ops[op] = r
	}
	r.samples[r.next] = opSample{ms: ms, outcome: outcome}
	r.next = (r.next + 1) % len(r.samples)
	if r.n < len(r.samples) {
		r.n++
	}
}

// last returns the most recent sample.
func (r *opRing) last() opSample {
	i := r.next - 1
	if i < 0 {
		i = len(r.samples) - 1
	}
	return r.samples[i]
}

func (r *opRing) stats(op string) OpStats {
	latencies := make([]float64, 0, r.n)
	outcomes := make(map[string]int)
	sum := 0.0
	for _, s := range r.samples[:r.n] {
		latencies = append(latencies, s.ms)
		sum += s.ms
		if s.outcome != "" {
			outcomes[s.outcome]++
		}
	}
	sort.Float64s(latencies)

	st := OpStats{
		Op:          op,
		Samples:     r.n,
		LastMS:      round2(r.last().ms),
		AvgMS:       round2(sum / float64(r.n)),
		P50MS:       round2(quantile(latencies, 0.50)),
		P95MS:       round2(quantile(latencies, 0.95)),
		P99MS:       round2(quantile(latencies, 0.99)),
		TargetP95MS: opTargetP95MS(op),
		Outcomes:    outcomes,
		ErrorRate:   round2(float64(outcomes[OutcomeError]) / float64(r.n)),
	}
	st.OverTarget = st.TargetP95MS > 0 && st.P95MS > st.TargetP95MS
	return st
}

func (w *opWindow) Snapshot() OpSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.ops))
	for op := range w.ops {
		names = append(names, op)
	}
	sort.Strings(names)

	stats := make([]OpStats, 0, len(names))
	for _, op := range names {
		if r := w.ops[op]; r.n > 0 {
			stats = append(stats, r.stats(op))
		}
	}
	return OpSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Ops:         stats,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := math.Min(math.Max(q, 0), 1) * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// opTargetP95MS is the latency budget per operation; every op is a single
// store round trip.
func opTargetP95MS(op string) float64 {
	switch op {
	case "observe", "remember", "forget":
		return 50
	case "quote", "mash", "search":
		return 100
	case "touch":
		return 25
	default:
		return 0
	}
}
