package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Global logger instance, a no-op until Init swaps it for the
	// production logger.
	Logger = zap.NewNop()

	enforcementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enforcement_actions_total",
			Help: "Total number of enforcement actions applied",
		},
		[]string{"action"},
	)

	floodTripsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flood_trips_total",
			Help: "Total number of flood limit breaches",
		},
	)

	verificationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_outcomes_total",
			Help: "Terminal verification outcomes by kind",
		},
		[]string{"outcome"},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(enforcementsTotal)
	prometheus.MustRegister(floodTripsTotal)
	prometheus.MustRegister(verificationOutcomesTotal)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	return nil
}

// RecordEnforcement counts one applied enforcement action.
func RecordEnforcement(action string) {
	enforcementsTotal.WithLabelValues(action).Inc()
}

// RecordFloodTrip counts one flood limit breach.
func RecordFloodTrip() {
	floodTripsTotal.Inc()
}

// RecordVerification counts one terminal verification outcome.
func RecordVerification(outcome string) {
	verificationOutcomesTotal.WithLabelValues(outcome).Inc()
}
