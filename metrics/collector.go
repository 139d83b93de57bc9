package metrics

import (
	"maps"
	"sync"

	"github.com/smartcontractkit/govbench/lifecycle"
)

// Aggregate sums the measurements of runs of one variant.
type Aggregate struct {
	Runs int                `json:"runs" toml:"runs"`
	Sum  map[string]float64 `json:"sum" toml:"sum"`
}

// Mean is the average of metric across the aggregated runs.
func (a Aggregate) Mean(metric string) float64 {
	if a.Runs == 0 {
		return 0
	}

	return a.Sum[metric] / float64(a.Runs)
}

// Collector accumulates the measurements of finished runs. It is safe for concurrent use and
// satisfies lifecycle.Observer.
type Collector struct {
	mu     sync.Mutex
	byRun  map[string]Measurements
	order  []string
	byKind map[lifecycle.VariantKind]*Aggregate
}

var _ lifecycle.Observer = (*Collector)(nil)

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		byRun:  make(map[string]Measurements),
		byKind: make(map[lifecycle.VariantKind]*Aggregate),
	}
}

// Observe measures run. A later run with the same label replaces the earlier one; variant
// aggregates include both.
func (c *Collector) Observe(run *lifecycle.Run) {
	m := Measure(run)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byRun[m.Label]; !ok {
		c.order = append(c.order, m.Label)
	}
	c.byRun[m.Label] = m

	agg, ok := c.byKind[m.Variant]
	if !ok {
		agg = &Aggregate{Sum: make(map[string]float64)}
		c.byKind[m.Variant] = agg
	}
	agg.Runs++
	for _, metric := range Metrics {
		agg.Sum[metric] += m.Value(metric)
	}
}

// Get returns the measurements of the run labelled label.
func (c *Collector) Get(label string) (Measurements, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.byRun[label]

	return m, ok
}

// Measurements returns every observed run in first-observed order.
func (c *Collector) Measurements() []Measurements {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Measurements, 0, len(c.order))
	for _, label := range c.order {
		out = append(out, c.byRun[label])
	}

	return out
}

// Aggregate returns a copy of the aggregate of variant.
func (c *Collector) Aggregate(variant lifecycle.VariantKind) Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()

	agg, ok := c.byKind[variant]
	if !ok {
		return Aggregate{Sum: map[string]float64{}}
	}

	return Aggregate{Runs: agg.Runs, Sum: maps.Clone(agg.Sum)}
}

// Compare compares two observed runs by label.
func (c *Collector) Compare(label, baseline, candidate string) (ComparisonResult, bool) {
	b, okB := c.Get(baseline)
	k, okC := c.Get(candidate)
	if !okB || !okC {
		return ComparisonResult{}, false
	}

	return CompareMeasurements(label, b, k), true
}
