package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kubo-market/sensorwatch/internal/service"
)

// ReportingHandler handles sensor report endpoints.
type ReportingHandler struct {
	svc *service.ReportingService
}

// NewReportingHandler creates a new ReportingHandler.
func NewReportingHandler(svc *service.ReportingService) *ReportingHandler {
	return &ReportingHandler{svc: svc}
}

// SensorReport handles GET /v1/sensors/{id}/report
func (h *ReportingHandler) SensorReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.SensorReport(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
