// Package profiler - Latency and runtime statistics for repeated model executions.
package profiler

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/nvr-ai/edgerunner/logger"
)

// DefaultMaxSamples bounds the window of durations kept per operation.
const DefaultMaxSamples = 600

// Stats summarizes the durations recorded for one operation.
type Stats struct {
	Count int64         `json:"count" yaml:"count"`
	Min   time.Duration `json:"min"   yaml:"min"`
	Max   time.Duration `json:"max"   yaml:"max"`
	Mean  time.Duration `json:"mean"  yaml:"mean"`
	P50   time.Duration `json:"p50"   yaml:"p50"`
	P90   time.Duration `json:"p90"   yaml:"p90"`
	P99   time.Duration `json:"p99"   yaml:"p99"`
}

// timeTracker keeps a sliding window of durations. Count, Min and Max cover every sample,
// the mean and percentiles only the window.
type timeTracker struct {
	durations []time.Duration
	total     time.Duration
	min       time.Duration
	max       time.Duration
	count     int64
}

// Profiler records operation durations and periodically logs them together with memory and
// goroutine counts. It is safe for concurrent use.
type Profiler struct {
	maxSamples int

	mu         sync.Mutex
	operations map[string]*timeTracker
	startTime  time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a profiler keeping at most maxSamples durations per operation. Zero selects
// DefaultMaxSamples.
func New(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Profiler{
		maxSamples: maxSamples,
		operations: make(map[string]*timeTracker),
		startTime:  time.Now(),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func(): Call when the operation completes.
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() { p.Record(name, time.Since(start)) }
}

// Record adds one duration for name.
func (p *Profiler) Record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operations[name]
	if !ok {
		t = &timeTracker{min: d, max: d}
		p.operations[name] = t
	}

	t.durations = append(t.durations, d)
	t.total += d
	if len(t.durations) > p.maxSamples {
		t.total -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
	t.min = min(t.min, d)
	t.max = max(t.max, d)
}

// Stats returns the summary for name, or false when nothing was recorded.
func (p *Profiler) Stats(name string) (Stats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operations[name]
	if !ok || len(t.durations) == 0 {
		return Stats{}, false
	}

	sorted := append([]time.Duration(nil), t.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return Stats{
		Count: t.count,
		Min:   t.min,
		Max:   t.max,
		Mean:  t.total / time.Duration(len(sorted)),
		P50:   percentile(sorted, 50),
		P90:   percentile(sorted, 90),
		P99:   percentile(sorted, 99),
	}, true
}

// percentile returns the nearest-rank percentile of sorted durations.
func percentile(sorted []time.Duration, pct int) time.Duration {
	rank := (pct*len(sorted) + 99) / 100
	return sorted[max(rank, 1)-1]
}

// Operations returns the recorded operation names in sorted order.
func (p *Profiler) Operations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.operations))
	for name := range p.operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start logs a report every interval until Stop. Calling Start on a running profiler does
// nothing.
func (p *Profiler) Start(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})

	p.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer p.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.Report()
			}
		}
	}(p.stop)
}

// Stop ends periodic reporting and waits for the reporter to exit.
func (p *Profiler) Stop() {
	p.mu.Lock()
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	p.wg.Wait()
}

// Report logs the runtime and every operation's statistics.
func (p *Profiler) Report() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	logger.Log.Info("runtime",
		"uptime", time.Since(p.startTime).Truncate(time.Millisecond),
		"goroutines", runtime.NumGoroutine(),
		"cgoCalls", runtime.NumCgoCall(),
		"heapAlloc", mem.HeapAlloc,
		"heapObjects", mem.HeapObjects,
		"gcCycles", mem.NumGC)

	for _, name := range p.Operations() {
		s, ok := p.Stats(name)
		if !ok {
			continue
		}
		logger.Log.Info("operation", "name", name, "count", s.Count,
			"mean", s.Mean, "min", s.Min, "max", s.Max, "p50", s.P50, "p90", s.P90, "p99", s.P99)
	}
}
