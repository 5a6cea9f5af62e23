package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/kubo-market/sensorwatch/internal/domain"
	"github.com/kubo-market/sensorwatch/internal/service"
)

const maxIngestBody = 4 << 20

// ReadingHandler handles reading ingestion and retrieval endpoints.
type ReadingHandler struct {
	svc *service.MonitoringService
}

// NewReadingHandler creates a new ReadingHandler.
func NewReadingHandler(svc *service.MonitoringService) *ReadingHandler {
	return &ReadingHandler{svc: svc}
}

type ingestResponse struct {
	SensorID   string   `json:"sensor_id"`
	Timestamp  string   `json:"timestamp"`
	Value      float64  `json:"value"`
	Registered bool     `json:"registered"`
	Deviation  *float64 `json:"deviation,omitempty"`
	Anomaly    bool     `json:"anomaly"`
	Admitted   bool     `json:"admitted"`
}

func newIngestResponse(d service.Detection) ingestResponse {
	resp := ingestResponse{
		SensorID:   d.Reading.SensorID,
		Timestamp:  domain.FormatTimestamp(d.Point.Timestamp),
		Value:      d.Point.Value,
		Registered: d.Registered,
		Anomaly:    d.Anomaly,
		Admitted:   d.Admitted,
	}
	if d.Registered {
		dev := d.Deviation
		resp.Deviation = &dev
	}
	return resp
}

// Ingest handles POST /v1/readings. The body is a single reading or an array
// of readings.
func (h *ReadingHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		h.ingestBatch(w, r, body)
		return
	}

	var reading domain.Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		writeDecodeError(w, err)
		return
	}
	d, err := h.svc.Ingest(r.Context(), reading)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newIngestResponse(d))
}

// ingestBatch decodes each element on its own so one malformed reading does
// not reject the rest. Rejections keep their position in the request array.
func (h *ReadingHandler) ingestBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	var (
		readings []domain.Reading
		index    []int
		rejected []service.BatchError
	)
	for i, msg := range raw {
		var reading domain.Reading
		if err := json.Unmarshal(msg, &reading); err != nil {
			rejected = append(rejected, service.BatchError{Index: i, Error: err.Error()})
			continue
		}
		readings = append(readings, reading)
		index = append(index, i)
	}

	res := h.svc.IngestBatch(r.Context(), readings)
	for _, be := range res.Rejected {
		rejected = append(rejected, service.BatchError{Index: index[be.Index], Error: be.Error})
	}
	sort.Slice(rejected, func(i, j int) bool { return rejected[i].Index < rejected[j].Index })
	res.Rejected = rejected

	status := http.StatusOK
	if res.Accepted == 0 && len(res.Rejected) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrInvalidArgument) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
}

// Get handles GET /v1/sensors/{id}/readings/{timestamp}
func (h *ReadingHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ts, err := domain.ParseTimestamp(vars["timestamp"])
	if err != nil {
		writeError(w, err)
		return
	}
	value, err := h.svc.Reading(vars["id"], ts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensor_id": vars["id"],
		"timestamp": domain.FormatTimestamp(ts),
		"value":     value,
	})
}

// List handles GET /v1/sensors/{id}/readings with optional from and to
// bounds. A sensor without readings yields an empty list, not an error.
func (h *ReadingHandler) List(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
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

	points, err := h.svc.Readings(id, from, to)
	if errors.Is(err, domain.ErrNoReadings) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sensor_id": id,
			"readings":  []domain.Point{},
			"status":    "no_data",
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensor_id": id,
		"readings":  points,
		"status":    "ok",
	})
}

// Latest handles GET /v1/sensors/{id}/latest
func (h *ReadingHandler) Latest(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.LatestReading(mux.Vars(r)["id"])
	if errors.Is(err, domain.ErrNoReadings) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
