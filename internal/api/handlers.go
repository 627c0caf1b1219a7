package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carinspect/internal/domain"
	"carinspect/internal/models"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

type timeSlotRequest struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Period    string `json:"period"`
}

type bookRequest struct {
	CarID          int64           `json:"carId"`
	InspectionDate string          `json:"inspectionDate"`
	TimeSlot       timeSlotRequest `json:"timeSlot"`
	CustomerNotes  string          `json:"customerNotes"`
}

type rescheduleRequest struct {
	NewDate     string          `json:"newDate"`
	NewTimeSlot timeSlotRequest `json:"newTimeSlot"`
	Reason      string          `json:"reason"`
}

type confirmRequest struct {
	InspectorID *int64 `json:"inspectorId"`
}

type completeRequest struct {
	InspectionReport *models.InspectionReport `json:"inspectionReport"`
	InspectorNotes   string                   `json:"inspectorNotes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// decodeBody reads a JSON body. An empty body leaves dst untouched when optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return domain.NewValidationError("", "invalid JSON body: %v", err)
	}
	return nil
}

func parseDateParam(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &domain.ValidationError{Field: field, Message: "is required", Err: domain.ErrInvalidDate}
	}
	date, err := models.ParseDate(value)
	if err != nil {
		return time.Time{}, domain.InvalidDate(field, value)
	}
	return date, nil
}

func parsePeriodParam(value string) (models.Period, error) {
	period, ok := models.ParsePeriod(value)
	if !ok {
		return "", domain.InvalidPeriod(value)
	}
	return period, nil
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

func (s *HTTPServer) actor(r *http.Request) domain.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

func (s *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(r)
	if err := s.allowBooking(r.Context(), actor.UserID); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	var body bookRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	date, err := parseDateParam("inspectionDate", body.InspectionDate)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	if body.CarID <= 0 || strings.TrimSpace(body.TimeSlot.StartTime) == "" || body.TimeSlot.Period == "" {
		writeServiceError(w, s.logger, domain.NewValidationError("", "carId, inspectionDate and timeSlot are required"))
		return
	}
	period, err := parsePeriodParam(body.TimeSlot.Period)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	inspection, err := s.svc.BookInspection(r.Context(), domain.BookRequest{
		CustomerID: actor.UserID,
		CarID:      body.CarID,
		Date:       date,
		Period:     period,
		StartTime:  strings.TrimSpace(body.TimeSlot.StartTime),
		EndTime:    strings.TrimSpace(body.TimeSlot.EndTime),
		Notes:      body.CustomerNotes,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":    "Inspection booked successfully",
		"inspection": viewOf(inspection),
	})
}

func (s *HTTPServer) handleAvailableSlots(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	date, err := parseDateParam("date", raw)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	periods, err := s.svc.GetAvailableSlots(r.Context(), date)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":  date.Format(models.DateLayout),
		"slots": periods,
	})
}

func (s *HTTPServer) handleMyInspections(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	result, err := s.svc.ListMyInspections(r.Context(), s.actor(r).UserID, r.URL.Query().Get("status"), page, limit)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pageViewOf(result))
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	inspection, err := s.svc.GetInspection(r.Context(), mux.Vars(r)["id"], s.actor(r))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inspection": viewOf(inspection)})
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var body rescheduleRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	date, err := parseDateParam("newDate", body.NewDate)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	if strings.TrimSpace(body.NewTimeSlot.StartTime) == "" || strings.TrimSpace(body.Reason) == "" {
		writeServiceError(w, s.logger, domain.NewValidationError("", "newDate, newTimeSlot and reason are required"))
		return
	}
	period, err := parsePeriodParam(body.NewTimeSlot.Period)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	inspection, err := s.svc.RescheduleInspection(r.Context(), domain.RescheduleRequest{
		InspectionID: mux.Vars(r)["id"],
		Actor:        s.actor(r),
		NewDate:      date,
		NewPeriod:    period,
		NewStartTime: strings.TrimSpace(body.NewTimeSlot.StartTime),
		NewEndTime:   strings.TrimSpace(body.NewTimeSlot.EndTime),
		Reason:       body.Reason,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Inspection rescheduled successfully",
		"inspection": viewOf(inspection),
	})
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body cancelRequest
	if err := decodeBody(r, &body, true); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	inspection, err := s.svc.CancelInspection(r.Context(), mux.Vars(r)["id"], s.actor(r), body.Reason)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Inspection cancelled successfully",
		"inspection": viewOf(inspection),
	})
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "push_unavailable", "real-time push is disabled")
		return
	}
	s.hub.ServeSSE(w, r, s.actor(r).UserID)
}

func adminFilter(r *http.Request) (models.InspectionFilter, error) {
	q := r.URL.Query()
	page, limit := pageParams(r)
	filter := models.InspectionFilter{Page: page, Limit: limit}

	if raw := q.Get("status"); raw != "" {
		st, ok := models.ParseInspectionStatus(raw)
		if !ok {
			return filter, domain.NewValidationError("status", "unknown status %q", raw)
		}
		filter.Statuses = []models.InspectionStatus{st}
	}
	for field, dst := range map[string]*int64{"customer": &filter.CustomerID, "inspector": &filter.InspectorID} {
		if raw := q.Get(field); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return filter, domain.NewValidationError(field, "must be a numeric id")
			}
			*dst = id
		}
	}
	if raw := q.Get("startDate"); raw != "" {
		d, err := parseDateParam("startDate", raw)
		if err != nil {
			return filter, err
		}
		filter.StartDate = &d
	}
	if raw := q.Get("endDate"); raw != "" {
		d, err := parseDateParam("endDate", raw)
		if err != nil {
			return filter, err
		}
		filter.EndDate = &d
	}
	return filter, nil
}

func (s *HTTPServer) handleListAll(w http.ResponseWriter, r *http.Request) {
	filter, err := adminFilter(r)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	result, err := s.svc.ListInspections(r.Context(), filter)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pageViewOf(result))
}

func (s *HTTPServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var body confirmRequest
	if err := decodeBody(r, &body, true); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	inspection, err := s.svc.ConfirmInspection(r.Context(), mux.Vars(r)["id"], actor, body.InspectorID)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Inspection confirmed successfully",
		"inspection": viewOf(inspection),
	})
}

func (s *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	inspection, err := s.svc.StartInspection(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Inspection started",
		"inspection": viewOf(inspection),
	})
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeRequest
	if err := decodeBody(r, &body, true); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	inspection, err := s.svc.CompleteInspection(r.Context(), mux.Vars(r)["id"], actor, body.InspectionReport, body.InspectorNotes)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Inspection completed successfully",
		"inspection": viewOf(inspection),
	})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := adminFilter(r)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	items, err := CollectInspections(r.Context(), s.svc, filter)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	book, err := BuildInspectionWorkbook(items, filter.StartDate, filter.EndDate)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	defer book.Close()

	name := fmt.Sprintf("inspections_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := book.WriteTo(w); err != nil {
		s.logger.Error().Err(err).Msg("write xlsx export")
	}
}
