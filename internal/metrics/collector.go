// Package metrics holds the Prometheus metric vectors the admission queue
// and decaying duplicate filter report to. Shape is lifted directly from the
// teacher's bfdmetrics.Collector: a struct of pre-registered GaugeVec/
// CounterVec fields plus thin per-metric increment methods.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "admitd"
	subsystem = "admission"
)

// Label names for drop-reason accounting.
const (
	labelReason = "reason"
)

// Drop reasons, matching the error-handling table exactly.
const (
	ReasonFull         = "full"
	ReasonInactive     = "inactive"
	ReasonNoFrom       = "no_from"
	ReasonDuplicate    = "duplicate"
	ReasonBadSignature = "bad_signature"
)

// Collector holds all admission-queue and duplicate-filter Prometheus
// metrics.
type Collector struct {
	// QueueDepthGauge tracks the current number of packets held in the
	// admission queue.
	QueueDepthGauge prometheus.Gauge

	// Drops counts dropped packets, labeled by reason.
	Drops *prometheus.CounterVec

	// Accepts counts packets that resulted in an admitted connection.
	Accepts prometheus.Counter

	// Timeouts counts packets whose per-entry accept timer fired before
	// being consumed.
	Timeouts prometheus.Counter

	// RSTsSent counts resets transmitted by send_reset.
	RSTsSent prometheus.Counter

	// DDFInsertedSize estimates the number of entries inserted into the
	// duplicate filter's current window.
	DDFInsertedSize prometheus.Gauge

	// DDFDuplicates counts Add calls in the current window that found an
	// already-known entry.
	DDFDuplicates prometheus.Gauge

	// DDFFalsePositiveRate is the duplicate filter's estimated
	// false-positive rate for its current (m, k, n).
	DDFFalsePositiveRate prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.QueueDepthGauge,
		c.Drops,
		c.Accepts,
		c.Timeouts,
		c.RSTsSent,
		c.DDFInsertedSize,
		c.DDFDuplicates,
		c.DDFFalsePositiveRate,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		QueueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Current number of packets held in the admission queue.",
		}),

		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "drops_total",
			Help:      "Total packets dropped by the admission queue, labeled by reason.",
		}, []string{labelReason}),

		Accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "accepts_total",
			Help:      "Total SYNs admitted into a connection.",
		}),

		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "timeouts_total",
			Help:      "Total packets whose accept timeout fired before consumption.",
		}),

		RSTsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rsts_sent_total",
			Help:      "Total RST packets transmitted by send_reset.",
		}),

		DDFInsertedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ddf",
			Name:      "inserted_size",
			Help:      "Estimated number of entries inserted into the duplicate filter's current window.",
		}),

		DDFDuplicates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ddf",
			Name:      "duplicates",
			Help:      "Duplicate entries observed in the duplicate filter's current window.",
		}),

		DDFFalsePositiveRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ddf",
			Name:      "false_positive_rate",
			Help:      "Estimated false-positive rate of the duplicate filter for its current (m, k, n).",
		}),
	}
}

// DropFull records a queue-full drop.
func (c *Collector) DropFull() { c.Drops.WithLabelValues(ReasonFull).Inc() }

// DropInactive records a drop while the queue was inactive.
func (c *Collector) DropInactive() { c.Drops.WithLabelValues(ReasonInactive).Inc() }

// DropNoFrom records a drop of a SYN carrying no sender identity.
func (c *Collector) DropNoFrom() { c.Drops.WithLabelValues(ReasonNoFrom).Inc() }

// DropDuplicate records a duplicate-SYN suppression.
func (c *Collector) DropDuplicate() { c.Drops.WithLabelValues(ReasonDuplicate).Inc() }

// DropBadSignature records a silently-dropped would-be RST target whose
// signature failed verification.
func (c *Collector) DropBadSignature() { c.Drops.WithLabelValues(ReasonBadSignature).Inc() }

// Accepted records a successful admission.
func (c *Collector) Accepted() { c.Accepts.Inc() }

// TimedOut records a per-entry accept timeout firing.
func (c *Collector) TimedOut() { c.Timeouts.Inc() }

// RSTSent records a transmitted RST.
func (c *Collector) RSTSent() { c.RSTsSent.Inc() }

// QueueDepth records the current queue depth.
func (c *Collector) QueueDepth(n int) { c.QueueDepthGauge.Set(float64(n)) }

// SetDDFStats updates the duplicate-filter gauges from a live filter's
// observable counters.
func (c *Collector) SetDDFStats(size, duplicates int64, falsePositiveRate float64) {
	c.DDFInsertedSize.Set(float64(size))
	c.DDFDuplicates.Set(float64(duplicates))
	c.DDFFalsePositiveRate.Set(falsePositiveRate)
}
