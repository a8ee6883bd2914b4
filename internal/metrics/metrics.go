// Package metrics holds the Prometheus collectors of the sync client and the
// file worker. Every method is safe on a nil receiver so components can run
// without metrics wired.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bitacora"

// Sync instruments the connectivity monitor, the queue and the coordinator.
type Sync struct {
	queueDepth   prometheus.Gauge
	replayed     *prometheus.CounterVec
	online       prometheus.Gauge
	transitions  *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	syncDuration prometheus.Histogram
}

func NewSync(reg prometheus.Registerer) *Sync {
	f := promauto.With(reg)
	return &Sync{
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "queue_depth",
			Help: "Unsynced items in the local queue.",
		}),
		replayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "replayed_total",
			Help: "Queue items replayed, by action and result.",
		}, []string{"action", "result"}),
		online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "connectivity", Name: "online",
			Help: "1 when the last real probe succeeded.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connectivity", Name: "transitions_total",
			Help: "Connectivity state changes, by new state.",
		}, []string{"to"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mutations", Name: "offline_fallbacks_total",
			Help: "Mutations stored locally instead of remotely, by operation.",
		}, []string{"op"}),
		syncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "cycle_seconds",
			Help:    "Duration of a queue replay cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Sync) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Sync) ObserveReplay(action, result string) {
	if m == nil {
		return
	}
	m.replayed.WithLabelValues(action, result).Inc()
}

func (m *Sync) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(d.Seconds())
}

func (m *Sync) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}

func (m *Sync) ObserveTransition(online bool) {
	if m == nil {
		return
	}
	to := "offline"
	if online {
		to = "online"
	}
	m.transitions.WithLabelValues(to).Inc()
	m.SetOnline(online)
}

func (m *Sync) ObserveFallback(op string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(op).Inc()
}

// FileWorker instruments the upload worker's object operations.
type FileWorker struct {
	uploads     *prometheus.CounterVec
	deletes     *prometheus.CounterVec
	downloads   *prometheus.CounterVec
	uploadBytes prometheus.Counter
}

func NewFileWorker(reg prometheus.Registerer) *FileWorker {
	f := promauto.With(reg)
	return &FileWorker{
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fileworker", Name: "uploads_total",
			Help: "Upload requests, by result.",
		}, []string{"result"}),
		deletes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fileworker", Name: "deletes_total",
			Help: "Delete requests, by result.",
		}, []string{"result"}),
		downloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fileworker", Name: "downloads_total",
			Help: "Download requests, by result.",
		}, []string{"result"}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fileworker", Name: "upload_bytes_total",
			Help: "Bytes accepted by the upload endpoint.",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *FileWorker) ObserveUpload(size int64, err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.uploadBytes.Add(float64(size))
	}
}

func (m *FileWorker) ObserveDelete(err error) {
	if m == nil {
		return
	}
	m.deletes.WithLabelValues(result(err)).Inc()
}

func (m *FileWorker) ObserveDownload(err error) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(result(err)).Inc()
}
