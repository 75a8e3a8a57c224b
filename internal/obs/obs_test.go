package obs

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/vqlink/internal/vq"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"", "info", "debug", "warn", "error"} {
		logger, err := NewLogger(level)
		require.NoError(t, err, level)
		require.NotNil(t, logger)
	}

	_, err := NewLogger("chatty")
	assert.Error(t, err)
}

func TestMetricsObserveUtilization(t *testing.T) {
	m := NewMetrics()
	m.ObserveUtilization(vq.EpochStats{Epoch: 3, Active: 12, Dead: 4, Entropy: math.Log(8), Perplexity: 8})

	assert.Equal(t, 12.0, testutil.ToFloat64(m.ActiveEmbeddings))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DeadEmbeddings))
	assert.InDelta(t, math.Log(8), testutil.ToFloat64(m.LatentEntropy), 1e-12)
	assert.Equal(t, 8.0, testutil.ToFloat64(m.Perplexity))
}

func TestMetricsObserveEpoch(t *testing.T) {
	m := NewMetrics()
	m.ObserveEpoch(map[string]float64{"total": 1.5, "reconstruction": 1.0}, 0.001)
	m.ObserveEpoch(map[string]float64{"total": 1.2}, 0.0005)

	assert.Equal(t, 1.2, testutil.ToFloat64(m.Loss.WithLabelValues("total")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Loss.WithLabelValues("reconstruction")))
	assert.Equal(t, 0.0005, testutil.ToFloat64(m.LearningRate))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Epochs))

	m.ObserveReinit("kmpp")
	m.ObserveReinit("kmpp")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reinits.WithLabelValues("kmpp")))

	m.ObserveEMARate(0.004)
	assert.Equal(t, 0.004, testutil.ToFloat64(m.EMARate))
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.Epochs.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Epochs))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ObserveUtilization(vq.EpochStats{Active: 5})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "vqlink_active_embeddings 5"))
}
