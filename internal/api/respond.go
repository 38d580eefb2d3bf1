package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"cabinbook/internal/apperr"
	"cabinbook/internal/booking"
	"cabinbook/internal/interval"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error             string              `json:"error"`
	Message           string              `json:"message"`
	Alternatives      []interval.Interval `json:"alternatives,omitempty"`
	AlternativeCabins []CabinRef          `json:"alternative_cabins,omitempty"`
}

type CabinRef struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind apperr.Kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: string(kind), Message: message})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAccessDenied:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindSlotUnavailable, apperr.KindConflictUnresolvable, apperr.KindAlreadyProcessed:
		return http.StatusConflict
	case apperr.KindStoreFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	resp := ErrorResponse{Error: string(kind), Message: err.Error()}

	var unavailable *booking.SlotUnavailableError
	if errors.As(err, &unavailable) {
		resp.Alternatives = unavailable.Alternatives
		for _, c := range unavailable.AlternativeCabins {
			resp.AlternativeCabins = append(resp.AlternativeCabins, CabinRef{ID: c.ID, Name: c.Name, Capacity: c.Capacity})
		}
	}

	ev := s.logger.Debug()
	if status >= http.StatusInternalServerError {
		ev = s.logger.Error()
		if kind == apperr.KindUnknown {
			resp.Message = "internal error"
		}
	}
	ev.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, resp)
}
