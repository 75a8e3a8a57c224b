package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FlavioCFOliveira/vqlink/internal/vq"
)

// Metrics holds all training metrics on a private registry.
type Metrics struct {
	ActiveEmbeddings prometheus.Gauge
	DeadEmbeddings   prometheus.Gauge
	LatentEntropy    prometheus.Gauge
	Perplexity       prometheus.Gauge
	Loss             *prometheus.GaugeVec
	LearningRate     prometheus.Gauge
	Epochs           prometheus.Counter
	Reinits          *prometheus.CounterVec
	EMARate          prometheus.Gauge
	registry         *prometheus.Registry
}

// NewMetrics creates a metrics instance with its own registry, so several
// runs in one process never collide.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		ActiveEmbeddings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vqlink_active_embeddings",
			Help: "Codebook embeddings assigned at least once since training started",
		}),
		DeadEmbeddings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vqlink_dead_embeddings",
			Help: "Codebook embeddings never assigned",
		}),
		LatentEntropy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vqlink_latent_entropy_nats",
			Help: "Entropy of the code assignment distribution",
		}),
		Perplexity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vqlink_codebook_perplexity",
			Help: "exp(entropy): effective number of embeddings in use",
		}),
		Loss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vqlink_loss",
			Help: "Mean loss of the last epoch by term",
		}, []string{"term"}),
		LearningRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vqlink_learning_rate",
			Help: "Optimizer learning rate",
		}),
		Epochs: factory.NewCounter(prometheus.CounterOpts{
			Name: "vqlink_epochs_total",
			Help: "Completed training epochs",
		}),
		Reinits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vqlink_codebook_reinits_total",
			Help: "Codebook re-initializations by strategy",
		}, []string{"strategy"}),
		EMARate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vqlink_ema_effective_rate",
			Help: "Mean per-embedding EMA update rate of the last epoch",
		}),
		registry: registry,
	}
}

// ObserveUtilization implements vq.UtilizationSink.
func (m *Metrics) ObserveUtilization(s vq.EpochStats) {
	m.ActiveEmbeddings.Set(float64(s.Active))
	m.DeadEmbeddings.Set(float64(s.Dead))
	m.LatentEntropy.Set(s.Entropy)
	m.Perplexity.Set(s.Perplexity)
}

// ObserveEpoch records the loss terms and learning rate of a finished epoch.
func (m *Metrics) ObserveEpoch(losses map[string]float64, lr float64) {
	for term, v := range losses {
		m.Loss.WithLabelValues(term).Set(v)
	}
	m.LearningRate.Set(lr)
	m.Epochs.Inc()
}

// ObserveReinit counts one codebook re-initialization.
func (m *Metrics) ObserveReinit(strategy string) {
	m.Reinits.WithLabelValues(strategy).Inc()
}

// ObserveEMARate records the mean EMA update rate of a finished epoch.
func (m *Metrics) ObserveEMARate(rate float64) {
	m.EMARate.Set(rate)
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
