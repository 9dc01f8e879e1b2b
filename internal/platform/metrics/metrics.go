package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics agrupa las métricas de una ejecución, en un registry propio que
// se empuja al Pushgateway al terminar.
type Metrics struct {
	registry *prometheus.Registry

	Outcomes      *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// New crea y registra las métricas del pipeline.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "register_user_outcomes_total",
			Help: "Terminal outcomes of the registration pipeline by status",
		}, []string{"status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "register_user_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"stage"}),
	}
}

// ObserveStage registra la duración de una etapa.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordOutcome cuenta el resultado final de la ejecución.
func (m *Metrics) RecordOutcome(status string) {
	m.Outcomes.WithLabelValues(status).Inc()
}

// Registry expone el registry para tests y para el push.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push envía las métricas al Pushgateway bajo job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
