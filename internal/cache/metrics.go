package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/conneroisu/sectional/internal/liquid"
)

// Metrics tracks cache behaviour per backend.
//
//   - <namespace>_cache_hits_total
//   - <namespace>_cache_misses_total
//   - <namespace>_cache_writes_total
//   - <namespace>_cache_write_errors_total
//   - <namespace>_cache_entries
type Metrics struct {
	hitsTotal        *prometheus.CounterVec
	missesTotal      *prometheus.CounterVec
	writesTotal      *prometheus.CounterVec
	writeErrorsTotal *prometheus.CounterVec
	entries          *prometheus.GaugeVec
}

// NewMetrics creates the cache metrics and registers them with registry.
func NewMetrics(namespace string, registry prometheus.Registerer) *Metrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, []string{"backend"})
	}

	m := &Metrics{
		hitsTotal:        counter("hits_total", "Total number of cache hits"),
		missesTotal:      counter("misses_total", "Total number of cache misses"),
		writesTotal:      counter("writes_total", "Total number of cache writes"),
		writeErrorsTotal: counter("write_errors_total", "Total number of failed cache writes"),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of entries in the cache",
		}, []string{"backend"}),
	}

	registry.MustRegister(m.hitsTotal, m.missesTotal, m.writesTotal, m.writeErrorsTotal, m.entries)
	return m
}

// Instrumented records metrics for every operation on the wrapped store.
type Instrumented struct {
	Store
	metrics *Metrics
	backend string
}

var _ Store = (*Instrumented)(nil)

// Instrument wraps store so its traffic is reported through metrics.
func Instrument(store Store, metrics *Metrics) *Instrumented {
	return &Instrumented{Store: store, metrics: metrics, backend: store.Stats().Backend}
}

func (i *Instrumented) Read(hash string) (*liquid.Document, bool) {
	doc, ok := i.Store.Read(hash)
	if ok {
		i.metrics.hitsTotal.WithLabelValues(i.backend).Inc()
	} else {
		i.metrics.missesTotal.WithLabelValues(i.backend).Inc()
	}
	return doc, ok
}

func (i *Instrumented) Write(hash string, doc *liquid.Document) error {
	if err := i.Store.Write(hash, doc); err != nil {
		i.metrics.writeErrorsTotal.WithLabelValues(i.backend).Inc()
		return err
	}
	i.metrics.writesTotal.WithLabelValues(i.backend).Inc()
	return nil
}

// RefreshGauges updates the entry gauge from the store's statistics.
func (i *Instrumented) RefreshGauges() {
	i.metrics.entries.WithLabelValues(i.backend).Set(float64(i.Store.Stats().Entries))
}

func (i *Instrumented) Prune() (int, error) {
	n, err := i.Store.Prune()
	i.RefreshGauges()
	return n, err
}

func (i *Instrumented) Clear() error {
	err := i.Store.Clear()
	i.RefreshGauges()
	return err
}
