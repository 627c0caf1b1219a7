package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"carinspect/internal/domain"
	"carinspect/internal/models"

	"github.com/rs/zerolog"
)

// Machine-readable error codes returned next to the message.
const (
	codeValidation       = "validation_error"
	codePastDate         = "past_date"
	codeSlotNotFound     = "slot_not_found"
	codeSlotUnavailable  = "slot_unavailable"
	codeCarNotFound      = "car_not_found"
	codeNotFound         = "not_found"
	codeForbidden        = "forbidden"
	codeAlreadyCompleted = "already_completed"
	codeInvalidState     = "invalid_state"
	codeInvalidInspector = "invalid_inspector"
	codeRateLimited      = "rate_limited"
	codeUnauthorized     = "unauthorized"
	codeInternal         = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{Error: message, Code: code})
}

// classify maps a service error onto an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSlotUnavailable):
		return http.StatusConflict, codeSlotUnavailable
	case errors.Is(err, domain.ErrPastDate):
		return http.StatusBadRequest, codePastDate
	case errors.Is(err, domain.ErrSlotNotFound):
		return http.StatusBadRequest, codeSlotNotFound
	case errors.Is(err, domain.ErrAlreadyCompleted):
		return http.StatusBadRequest, codeAlreadyCompleted
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusBadRequest, codeInvalidState
	case errors.Is(err, domain.ErrInvalidInspector):
		return http.StatusBadRequest, codeInvalidInspector
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, domain.ErrCarNotFound):
		return http.StatusNotFound, codeCarNotFound
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, codeRateLimited
	case domain.IsValidation(err):
		return http.StatusBadRequest, codeValidation
	}
	return http.StatusInternalServerError, codeInternal
}

func writeServiceError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		writeError(w, status, code, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

// inspectionView is the wire form of an inspection, carrying its reference.
type inspectionView struct {
	*models.Inspection
	Ref            string `json:"ref"`
	InspectionDate string `json:"inspectionDate"`
}

func viewOf(i *models.Inspection) inspectionView {
	return inspectionView{Inspection: i, Ref: i.Ref(), InspectionDate: i.InspectionDate.Format(models.DateLayout)}
}

func viewsOf(items []*models.Inspection) []inspectionView {
	out := make([]inspectionView, 0, len(items))
	for _, i := range items {
		out = append(out, viewOf(i))
	}
	return out
}

type pagination struct {
	CurrentPage      int  `json:"currentPage"`
	TotalPages       int  `json:"totalPages"`
	TotalInspections int  `json:"totalInspections"`
	HasNextPage      bool `json:"hasNextPage"`
	HasPrevPage      bool `json:"hasPrevPage"`
}

type pageView struct {
	Inspections []inspectionView `json:"inspections"`
	Pagination  pagination       `json:"pagination"`
}

func pageViewOf(p *models.InspectionPage) pageView {
	return pageView{
		Inspections: viewsOf(p.Inspections),
		Pagination: pagination{
			CurrentPage:      p.CurrentPage,
			TotalPages:       p.TotalPages,
			TotalInspections: p.Total,
			HasNextPage:      p.HasNextPage,
			HasPrevPage:      p.HasPrevPage,
		},
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps server-sent events working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
