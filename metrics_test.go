package msgsock

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics

	m.admitted()
	m.rejected()
	m.released()
	m.received(10)
	m.sent(10)
	m.sendFailed()
	m.disconnected(reasonIO)
}

func TestMetrics_Counts(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.admitted()
	m.rejected()
	m.rejected()
	m.received(5)
	m.sent(7)
	m.sendFailed()
	m.disconnected(reasonBadMagic)

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"admitted", m.connectionsAdmitted, 1},
		{"rejected", m.connectionsRejected, 2},
		{"active", m.activeConnections, 1},
		{"frames received", m.framesReceived, 1},
		{"bytes received", m.bytesReceived, 5},
		{"bytes sent", m.bytesSent, 7},
		{"send failures", m.sendFailures, 1},
		{"bad magic", m.disconnects.WithLabelValues(reasonBadMagic), 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}

	m.released()
	if got := testutil.ToFloat64(m.activeConnections); got != 0 {
		t.Errorf("active after release = %v, want 0", got)
	}
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	newMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected a panic registering the collectors twice")
		}
	}()
	newMetrics(reg)
}
