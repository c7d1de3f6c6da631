// Package metrics exports evaluation counters and objective distributions
// through a per-session prometheus registry.
package metrics

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/VividCortex/gohistogram"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace        = "roper"
	histogramBuckets = 255
)

// Quantiles exported for every observed objective.
var Quantiles = []float64{0.5, 0.9, 0.99}

// Metrics is safe for concurrent use. A nil *Metrics discards everything.
type Metrics struct {
	registry *prometheus.Registry

	developed     prometheus.Counter
	emulated      prometheus.Counter
	cacheHits     prometheus.Counter
	nonExecutable prometheus.Counter
	scored        prometheus.Counter
	failures      prometheus.Counter

	mu         sync.Mutex
	objectives map[string]*objective
}

type objective struct {
	mu   sync.Mutex
	hist *gohistogram.NumericHistogram
}

func (o *objective) quantile(q float64) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.hist.Count() == 0 {
		return 0
	}
	return o.hist.Quantile(q)
}

func (o *objective) mean() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.hist.Count() == 0 {
		return 0
	}
	return o.hist.Mean()
}

func New() *Metrics {
	m := &Metrics{
		registry:   prometheus.NewRegistry(),
		objectives: make(map[string]*objective),
	}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
		m.registry.MustRegister(c)
		return c
	}
	m.developed = counter("developed_total", "Creatures developed into a profile.")
	m.emulated = counter("emulated_total", "Creatures executed by the emulator pool.")
	m.cacheHits = counter("profile_cache_hits_total", "Profiles served from the profile cache.")
	m.nonExecutable = counter("non_executable_total", "Creatures whose payload could not be executed.")
	m.scored = counter("scored_total", "Creatures scored by the fitness policy.")
	m.failures = counter("fitness_failures_total", "Creatures assigned the failure fitness.")
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Developed() {
	if m != nil {
		m.developed.Inc()
	}
}

func (m *Metrics) Emulated() {
	if m != nil {
		m.emulated.Inc()
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) NonExecutable() {
	if m != nil {
		m.nonExecutable.Inc()
	}
}

func (m *Metrics) Scored() {
	if m != nil {
		m.scored.Inc()
	}
}

func (m *Metrics) Failure() {
	if m != nil {
		m.failures.Inc()
	}
}

// ObserveObjective adds one objective score to its streaming histogram.
// Non-finite values are dropped.
func (m *Metrics) ObserveObjective(name string, value float64) {
	if m == nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	o := m.objective(name)
	o.mu.Lock()
	o.hist.Add(value)
	o.mu.Unlock()
}

func (m *Metrics) objective(name string) *objective {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.objectives[name]; ok {
		return o
	}
	o := &objective{hist: gohistogram.NewHistogram(histogramBuckets)}
	m.objectives[name] = o
	for _, q := range Quantiles {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "objective_quantile",
			Help:      "Streaming quantile of a fitness objective.",
			ConstLabels: prometheus.Labels{
				"objective": name,
				"quantile":  strconv.FormatFloat(q, 'f', -1, 64),
			},
		}, func() float64 { return o.quantile(q) }))
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "objective_mean",
		Help:        "Streaming mean of a fitness objective.",
		ConstLabels: prometheus.Labels{"objective": name},
	}, o.mean))
	return o
}

// Quantile reports the q-quantile of an observed objective.
func (m *Metrics) Quantile(name string, q float64) (float64, bool) {
	if m == nil {
		return 0, false
	}
	m.mu.Lock()
	o, ok := m.objectives[name]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	return o.quantile(q), true
}

// Objectives lists the objectives observed so far.
func (m *Metrics) Objectives() []string {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objectives))
	for name := range m.objectives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
