package metered

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T) (*RWLock, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	return New(metrics, "test"), metrics
}

func heldGauge(m *Metrics, mode string) float64 {
	return testutil.ToFloat64(m.held.WithLabelValues("test", mode))
}

func waitingGauge(m *Metrics, mode string) float64 {
	return testutil.ToFloat64(m.waiting.WithLabelValues("test", mode))
}

func TestGaugesFollowAdmissions(t *testing.T) {
	l, metrics := newTestLock(t)

	l.RLock()
	l.RLock()
	require.Equal(t, 2.0, heldGauge(metrics, modeRead))

	l.RUnlock()
	l.RUnlock()
	require.Equal(t, 0.0, heldGauge(metrics, modeRead))

	l.Lock()
	require.Equal(t, 1.0, heldGauge(metrics, modeWrite))
	l.Unlock()
	require.Equal(t, 0.0, heldGauge(metrics, modeWrite))
}

func TestWaitingGaugeWhileBlocked(t *testing.T) {
	l, metrics := newTestLock(t)

	l.Lock()

	readerIn := make(chan struct{})
	go func() {
		l.RLock()
		close(readerIn)
	}()

	// The reader is held back by the active writer and must show up as
	// waiting.
	require.Eventually(t, func() bool {
		return waitingGauge(metrics, modeRead) == 1.0
	}, 2*time.Second, 10*time.Millisecond)

	l.Unlock()
	select {
	case <-readerIn:
	case <-time.After(2 * time.Second):
		t.Fatal("reader was not admitted after the writer released")
	}
	require.Equal(t, 0.0, waitingGauge(metrics, modeRead))
	require.Equal(t, 1.0, heldGauge(metrics, modeRead))
	l.RUnlock()
}

func TestLocksAreIndependentPerInstance(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	a := New(metrics, "a")
	b := New(metrics, "b")

	a.Lock()
	defer a.Unlock()

	// Locking a must not affect b.
	done := make(chan struct{})
	go func() {
		b.RLock()
		b.RUnlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent lock was blocked")
	}
}
