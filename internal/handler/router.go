package handler

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Routes collects the handlers served by NewRouter.
type Routes struct {
	Sensors   *SensorHandler
	Readings  *ReadingHandler
	Anomalies *AnomalyHandler
	Reports   *ReportingHandler
	Health    *HealthHandler
	// Prometheus serves /metrics when non-nil.
	Prometheus  http.Handler
	CORSOrigins []string
}

// NewRouter builds the HTTP surface with middleware applied.
func NewRouter(rt Routes, log logrus.FieldLogger) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	r.HandleFunc("/health", rt.Health.Health).Methods(http.MethodGet)
	r.HandleFunc("/v1/metrics", rt.Health.Metrics).Methods(http.MethodGet)
	if rt.Prometheus != nil {
		r.Handle("/metrics", rt.Prometheus).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/sensors", rt.Sensors.List).Methods(http.MethodGet)
	v1.HandleFunc("/sensors/{id}", rt.Sensors.Register).Methods(http.MethodPut)
	v1.HandleFunc("/sensors/{id}", rt.Sensors.Get).Methods(http.MethodGet)
	v1.HandleFunc("/sensors/{id}/readings", rt.Readings.List).Methods(http.MethodGet)
	v1.HandleFunc("/sensors/{id}/readings/{timestamp}", rt.Readings.Get).Methods(http.MethodGet)
	v1.HandleFunc("/sensors/{id}/latest", rt.Readings.Latest).Methods(http.MethodGet)
	v1.HandleFunc("/sensors/{id}/report", rt.Reports.SensorReport).Methods(http.MethodGet)
	v1.HandleFunc("/readings", rt.Readings.Ingest).Methods(http.MethodPost)
	v1.HandleFunc("/anomalies", rt.Anomalies.Top).Methods(http.MethodGet)
	v1.HandleFunc("/anomalies/history", rt.Anomalies.History).Methods(http.MethodGet)
	v1.HandleFunc("/anomalies/mirror", rt.Anomalies.Mirror).Methods(http.MethodGet)

	var h http.Handler = r
	h = RequestID(h)
	h = Logging(log)(h)
	h = handlers.CompressHandler(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(rt.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
		handlers.ExposedHeaders([]string{requestIDHeader}),
	)(h)
	h = Recovery(log)(h)
	return h
}
