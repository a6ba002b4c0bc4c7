package backdrop

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// runMetrics holds the counters of one Pipeline. They are only exported by
// writing a node-exporter textfile, since a run is a short-lived process.
type runMetrics struct {
	reg *prometheus.Registry

	files       *prometheus.CounterVec
	copiedBytes prometheus.Counter
	indexSize   prometheus.Gauge
	lastRun     prometheus.Gauge
	lastSuccess prometheus.Gauge
}

func newRunMetrics() *runMetrics {
	m := &runMetrics{
		reg: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backdrop",
			Name:      "files_total",
			Help:      "Files classified, by phase and outcome.",
		}, []string{"phase", "outcome"}),
		copiedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backdrop",
			Name:      "copied_bytes_total",
			Help:      "Bytes copied into the store.",
		}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backdrop",
			Name:      "index_digests",
			Help:      "Digests in the content index at the end of the run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backdrop",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backdrop",
			Name:      "last_run_success",
			Help:      "1 if the last run completed without a fatal error.",
		}),
	}
	m.reg.MustRegister(m.files, m.copiedBytes, m.indexSize, m.lastRun, m.lastSuccess)
	return m
}

func (m *runMetrics) observe(phase string, o Outcome) {
	m.files.WithLabelValues(phase, o.String()).Inc()
}

func (m *runMetrics) finish(indexLen int, err error) {
	m.indexSize.Set(float64(indexLen))
	m.lastRun.Set(float64(time.Now().Unix()))
	if err != nil {
		m.lastSuccess.Set(0)
	} else {
		m.lastSuccess.Set(1)
	}
}

// writeTextfile writes all metrics to path atomically.
func (m *runMetrics) writeTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("writing metrics %s: %w", path, err)
	}
	return nil
}
