package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_Collectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSync(reg)

	m.SetQueueDepth(3)
	m.ObserveReplay("create_entry", "synced")
	m.ObserveReplay("create_entry", "synced")
	m.ObserveReplay("update_entry", "failed")
	m.ObserveTransition(true)
	m.ObserveFallback("create")
	m.ObserveCycle(150 * time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.replayed.WithLabelValues("create_entry", "synced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replayed.WithLabelValues("update_entry", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.online))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("online")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("create")))

	m.ObserveTransition(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.online))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestNilReceiversAreSafe(t *testing.T) {
	var s *Sync
	var f *FileWorker
	assert.NotPanics(t, func() {
		s.SetQueueDepth(1)
		s.ObserveReplay("a", "b")
		s.ObserveTransition(true)
		s.ObserveFallback("x")
		s.ObserveCycle(time.Second)
		f.ObserveUpload(1, nil)
		f.ObserveDelete(nil)
		f.ObserveDownload(nil)
	})
}

func TestFileWorker_Collectors(t *testing.T) {
	m := NewFileWorker(prometheus.NewRegistry())

	m.ObserveUpload(100, nil)
	m.ObserveUpload(50, errors.New("boom"))
	m.ObserveDelete(nil)
	m.ObserveDownload(errors.New("missing"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("error")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.uploadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloads.WithLabelValues("error")))
}
