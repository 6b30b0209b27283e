package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/opnet-io/admitd/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.Accepted()
	c.Accepted()
	c.TimedOut()
	c.RSTSent()
	c.DropFull()
	c.DropDuplicate()

	if got := counterValue(t, c.Accepts); got != 2 {
		t.Fatalf("expected 2 accepts, got %v", got)
	}
	if got := counterValue(t, c.Timeouts); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}
	if got := counterValue(t, c.RSTsSent); got != 1 {
		t.Fatalf("expected 1 RST sent, got %v", got)
	}
	if got := counterValue(t, c.Drops.WithLabelValues(metrics.ReasonFull)); got != 1 {
		t.Fatalf("expected 1 full drop, got %v", got)
	}
	if got := counterValue(t, c.Drops.WithLabelValues(metrics.ReasonDuplicate)); got != 1 {
		t.Fatalf("expected 1 duplicate drop, got %v", got)
	}
}

func TestCollectorGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.QueueDepth(5)
	if got := gaugeValue(t, c.QueueDepthGauge); got != 5 {
		t.Fatalf("expected queue depth gauge 5, got %v", got)
	}

	c.SetDDFStats(1000, 12, 0.0001)
	if got := gaugeValue(t, c.DDFInsertedSize); got != 1000 {
		t.Fatalf("expected inserted size 1000, got %v", got)
	}
	if got := gaugeValue(t, c.DDFDuplicates); got != 12 {
		t.Fatalf("expected duplicates 12, got %v", got)
	}
	if got := gaugeValue(t, c.DDFFalsePositiveRate); got != 0.0001 {
		t.Fatalf("expected false positive rate 0.0001, got %v", got)
	}
}
