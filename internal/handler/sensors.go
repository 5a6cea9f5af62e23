package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kubo-market/sensorwatch/internal/domain"
	"github.com/kubo-market/sensorwatch/internal/service"
)

// SensorHandler handles sensor registration and lookup endpoints.
type SensorHandler struct {
	svc *service.MonitoringService
}

// NewSensorHandler creates a new SensorHandler.
func NewSensorHandler(svc *service.MonitoringService) *SensorHandler {
	return &SensorHandler{svc: svc}
}

type registerRequest struct {
	Location  string   `json:"location"`
	MachineID string   `json:"machine_id"`
	Threshold *float64 `json:"threshold"`
}

// Register handles PUT /v1/sensors/{id}
func (h *SensorHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Threshold == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "threshold is required"})
		return
	}

	cfg := domain.SensorConfig{
		SensorID:  mux.Vars(r)["id"],
		Location:  req.Location,
		MachineID: req.MachineID,
		Threshold: *req.Threshold,
	}
	if err := h.svc.RegisterSensor(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Get handles GET /v1/sensors/{id}
func (h *SensorHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.SensorMetadata(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// List handles GET /v1/sensors
func (h *SensorHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sensors": h.svc.Sensors()})
}
