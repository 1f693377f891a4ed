package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
	m.BytesTransferred.WithLabelValues("forward").Add(1024)
	m.ErrorsTotal.WithLabelValues("connect").Inc()

	if got := testutil.ToFloat64(m.SessionsTotal); got != 1 {
		t.Errorf("SessionsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesTransferred.WithLabelValues("forward")); got != 1024 {
		t.Errorf("BytesTransferred[forward] = %v, want 1024", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("connect")); got != 1 {
		t.Errorf("ErrorsTotal[connect] = %v, want 1", got)
	}
}

func TestDefault_Singleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default() should return the same instance")
	}
}
