// Package metered wraps rwlock.ReadWriteLock with prometheus gauges so
// that held and waiting admissions can be observed per call site.
package metered

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/syncxlab/syncx/rwlock"
)

const (
	modeRead  = "read"
	modeWrite = "write"
)

// Metrics holds the gauges shared by every metered lock registered on the
// same registerer.
type Metrics struct {
	held    *prometheus.GaugeVec
	waiting *prometheus.GaugeVec
}

// NewMetrics registers the lock gauges on reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		held: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rwlock_admissions_held",
			Help: "Read and write admissions currently held.",
		}, []string{"location", "mode"}),
		waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rwlock_admissions_waiting",
			Help: "Callers currently blocked in RLock or Lock.",
		}, []string{"location", "mode"}),
	}
	reg.MustRegister(m.held, m.waiting)
	return m
}

// RWLock is a reader-writer lock with metering for admission usage.
// It keeps the wrapped lock's semantics: readers share, writers exclude,
// and a pending writer holds back newly arriving readers.
type RWLock struct {
	lock     *rwlock.ReadWriteLock
	metrics  *Metrics
	location string
}

// New returns a metered lock reporting under the given location label.
func New(metrics *Metrics, location string) *RWLock {
	return &RWLock{
		lock:     rwlock.New(),
		metrics:  metrics,
		location: location,
	}
}

func (m *RWLock) RLock() {
	m.metrics.waiting.WithLabelValues(m.location, modeRead).Inc()
	m.lock.RLock()
	m.metrics.waiting.WithLabelValues(m.location, modeRead).Dec()
	m.metrics.held.WithLabelValues(m.location, modeRead).Inc()
}

func (m *RWLock) RUnlock() {
	m.metrics.held.WithLabelValues(m.location, modeRead).Dec()
	m.lock.RUnlock()
}

func (m *RWLock) Lock() {
	m.metrics.waiting.WithLabelValues(m.location, modeWrite).Inc()
	m.lock.Lock()
	m.metrics.waiting.WithLabelValues(m.location, modeWrite).Dec()
	m.metrics.held.WithLabelValues(m.location, modeWrite).Inc()
}

func (m *RWLock) Unlock() {
	m.metrics.held.WithLabelValues(m.location, modeWrite).Dec()
	m.lock.Unlock()
}
