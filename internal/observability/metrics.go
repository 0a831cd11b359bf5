package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	predictionPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "diapredict",
		Subsystem: "persistence",
		Name:      "last_prediction_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent prediction record persisted to Postgres.",
	})
	predictionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "diapredict",
		Subsystem: "pipeline",
		Name:      "predictions_total",
		Help:      "Number of completed prediction pipeline runs, labeled by risk level.",
	}, []string{"risk_level"})
	sensorFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "diapredict",
		Subsystem: "sensor",
		Name:      "fetch_failures_total",
		Help:      "Number of failed upstream sensor fetches, labeled by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(predictionPersistGauge, predictionCounter, sensorFailureCounter)
}

// RecordPredictionPersisted updates the persistence watermark gauge.
func RecordPredictionPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	predictionPersistGauge.Set(float64(ts.Unix()))
}

// RecordPrediction counts a completed pipeline run by risk tier.
func RecordPrediction(riskLevel string) {
	predictionCounter.WithLabelValues(riskLevel).Inc()
}

// RecordSensorFailure counts an upstream fetch failure. reason is either
// "incomplete" or "unavailable".
func RecordSensorFailure(reason string) {
	sensorFailureCounter.WithLabelValues(reason).Inc()
}
