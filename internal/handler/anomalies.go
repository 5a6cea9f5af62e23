package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/kubo-market/sensorwatch/internal/domain"
	"github.com/kubo-market/sensorwatch/internal/service"
)

// AnomalyArchive lists anomalies kept beyond the in-memory top-K.
type AnomalyArchive interface {
	ListAnomalies(ctx context.Context, sensorID string, from, to time.Time, limit int) ([]domain.AnomalyRecord, error)
}

// AnomalyMirror is an external copy of the top-K set.
type AnomalyMirror interface {
	Top(ctx context.Context) ([]domain.AnomalyRecord, error)
}

// AnomalyHandler handles anomaly endpoints.
type AnomalyHandler struct {
	svc     *service.MonitoringService
	archive AnomalyArchive
	mirror  AnomalyMirror
}

// NewAnomalyHandler creates a new AnomalyHandler. archive and mirror may be nil.
func NewAnomalyHandler(svc *service.MonitoringService, archive AnomalyArchive, mirror AnomalyMirror) *AnomalyHandler {
	return &AnomalyHandler{svc: svc, archive: archive, mirror: mirror}
}

// Top handles GET /v1/anomalies
func (h *AnomalyHandler) Top(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": h.svc.TopAnomalies(),
		"capacity":  h.svc.AnomalyCapacity(),
	})
}

// Mirror handles GET /v1/anomalies/mirror
func (h *AnomalyHandler) Mirror(w http.ResponseWriter, r *http.Request) {
	if h.mirror == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "anomaly mirror not configured"})
		return
	}
	records, err := h.mirror.Top(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "anomaly mirror unavailable"})
		return
	}
	if records == nil {
		records = []domain.AnomalyRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"anomalies": records})
}

// History handles GET /v1/anomalies/history?sensor_id=&from=&to=&limit=
func (h *AnomalyHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "anomaly archive not configured"})
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	records, err := h.archive.ListAnomalies(r.Context(), r.URL.Query().Get("sensor_id"), from, to, limit)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "anomaly archive unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"anomalies": records})
}
