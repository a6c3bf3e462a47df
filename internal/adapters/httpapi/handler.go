// Package httpapi exposes the traffic service over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trafficcore/internal/core"
	"trafficcore/internal/documents"
	"trafficcore/pkg/domain"
)

// TrafficService is the subset of core.Service served over HTTP.
type TrafficService interface {
	Areas() []domain.Area
	RunCycle(ctx context.Context, area string) (core.CycleResult, error)
	History(ctx context.Context, area, lane string, limit int) ([]domain.LaneSample, error)
	LaneHistory(ctx context.Context, area string, limit int) ([]core.LaneSeries, error)
	Threshold(ctx context.Context, area string) (uint, error)
	SetThreshold(ctx context.Context, area string, maxDensity int) error
	Challans(ctx context.Context, area, status string) ([]domain.Challan, error)
	Challan(ctx context.Context, id int64) (domain.Challan, error)
	UpdateChallanStatus(ctx context.Context, id int64, status string) (domain.Challan, error)
}

// DocumentQueue schedules asynchronous document archival.
type DocumentQueue interface {
	Enqueue(ctx context.Context, req documents.Request) (documents.Job, error)
	Get(id string) (documents.Job, bool)
}

// Handler provides HTTP access to cycles, history, thresholds, challans and documents.
type Handler struct {
	Service   TrafficService
	Documents DocumentQueue
	Now       func() time.Time

	mux *http.ServeMux
}

// NewHandler constructs the API handler. docs may be nil, which disables the
// document job endpoints.
func NewHandler(svc TrafficService, docs DocumentQueue) *Handler {
	h := &Handler{
		Service:   svc,
		Documents: docs,
		Now:       func() time.Time { return time.Now().UTC() },
		mux:       http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /api/v1/areas", h.handleAreas)
	h.mux.HandleFunc("POST /api/v1/areas/{area}/cycles", h.handleRunCycle)
	h.mux.HandleFunc("GET /api/v1/areas/{area}/history", h.handleHistory)
	h.mux.HandleFunc("GET /api/v1/areas/{area}/history/lanes", h.handleLaneHistory)
	h.mux.HandleFunc("GET /api/v1/areas/{area}/threshold", h.handleGetThreshold)
	h.mux.HandleFunc("PUT /api/v1/areas/{area}/threshold", h.handleSetThreshold)
	h.mux.HandleFunc("GET /api/v1/areas/{area}/challans", h.handleListChallans)
	h.mux.HandleFunc("GET /api/v1/challans/{id}", h.handleGetChallan)
	h.mux.HandleFunc("PATCH /api/v1/challans/{id}", h.handleUpdateChallan)
	h.mux.HandleFunc("GET /api/v1/challans/{id}/document", h.handleRenderDocument)
	h.mux.HandleFunc("POST /api/v1/challans/{id}/documents", h.handleEnqueueDocument)
	h.mux.HandleFunc("GET /api/v1/documents/{job}", h.handleGetDocumentJob)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "traffic service not configured")
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleAreas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"areas": h.Service.Areas()})
}

func (h *Handler) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.RunCycle(r.Context(), r.PathValue("area"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle": result})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" && strings.Contains(r.Header.Get("Accept"), "text/csv") {
		format = "csv"
	}
	if format != "" && format != "json" && format != "csv" {
		writeError(w, http.StatusNotAcceptable, "requested format not supported")
		return
	}
	area := r.PathValue("area")
	samples, err := h.Service.History(r.Context(), area, r.URL.Query().Get("lane"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if format == "csv" {
		streamCSV(w, area, h.Now(), samples)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"area": area, "samples": samples})
}

func (h *Handler) handleLaneHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	area := r.PathValue("area")
	series, err := h.Service.LaneHistory(r.Context(), area, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"area": area, "lanes": series})
}

type thresholdPayload struct {
	MaxDensity *int `json:"max_density"`
}

func (h *Handler) handleGetThreshold(w http.ResponseWriter, r *http.Request) {
	area := r.PathValue("area")
	threshold, err := h.Service.Threshold(r.Context(), area)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"area": area, "max_density": threshold})
}

func (h *Handler) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdPayload
	if err := decodeBody(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid threshold payload: %v", err))
		return
	}
	if req.MaxDensity == nil {
		writeError(w, http.StatusBadRequest, "max_density is required")
		return
	}
	area := r.PathValue("area")
	if err := h.Service.SetThreshold(r.Context(), area, *req.MaxDensity); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"area": area, "max_density": *req.MaxDensity})
}

func (h *Handler) handleListChallans(w http.ResponseWriter, r *http.Request) {
	challans, err := h.Service.Challans(r.Context(), r.PathValue("area"), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if challans == nil {
		challans = []domain.Challan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"challans": challans})
}

func (h *Handler) handleGetChallan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	challan, err := h.Service.Challan(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challan": challan})
}

type statusPayload struct {
	Status string `json:"status"`
}

func (h *Handler) handleUpdateChallan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusPayload
	if err := decodeBody(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid status payload")
		return
	}
	challan, err := h.Service.UpdateChallanStatus(r.Context(), id, req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challan": challan})
}

func (h *Handler) handleRenderDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	kind, err := documents.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	format, err := documents.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	challan, err := h.Service.Challan(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	doc, err := documents.Render(challan, kind, format, h.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}

type documentRequest struct {
	Kind   string `json:"kind"`
	Format string `json:"format"`
}

func (h *Handler) handleEnqueueDocument(w http.ResponseWriter, r *http.Request) {
	if h.Documents == nil {
		http.NotFound(w, r)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req documentRequest
	if err := decodeBody(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid document request payload")
		return
	}
	kind, err := documents.ParseKind(req.Kind)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	format, err := documents.ParseFormat(req.Format)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	job, err := h.Documents.Enqueue(r.Context(), documents.Request{ChallanID: id, Kind: kind, Format: format})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (h *Handler) handleGetDocumentJob(w http.ResponseWriter, r *http.Request) {
	if h.Documents == nil {
		http.NotFound(w, r)
		return
	}
	job, ok := h.Documents.Get(r.PathValue("job"))
	if !ok {
		writeError(w, http.StatusNotFound, "document job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return 0, false
	}
	return limit, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "challan id must be a positive integer")
		return 0, false
	}
	return id, true
}

// decodeBody tolerates an empty body.
func decodeBody(body io.Reader, dst any) error {
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var csvHeader = []string{"timestamp", "area", "lane_id", "two_wheelers", "four_wheelers", "density", "is_emergency", "is_vip"}

func streamCSV(w http.ResponseWriter, area string, now time.Time, samples []domain.LaneSample) {
	filename := fmt.Sprintf("%s-history-%s.csv", strings.ReplaceAll(strings.ToLower(area), " ", "-"), now.UTC().Format("20060102T150405Z"))

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvHeader); err != nil {
		return
	}
	for _, s := range samples {
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			s.Area,
			s.LaneID,
			strconv.FormatUint(uint64(s.TwoWheelers), 10),
			strconv.FormatUint(uint64(s.FourWheelers), 10),
			strconv.FormatUint(uint64(s.Density), 10),
			strconv.FormatBool(s.Emergency),
			strconv.FormatBool(s.VIP),
		}
		if err := writer.Write(record); err != nil {
			return
		}
	}
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, documents.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, StatusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
