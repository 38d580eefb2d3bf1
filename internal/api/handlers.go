package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cabinbook/internal/apperr"
	"cabinbook/internal/booking"
	"cabinbook/internal/interval"
	"cabinbook/internal/model"
	"cabinbook/internal/report"
)

type CreateReservationRequest struct {
	RequesterID int64  `json:"requester_id"`
	CabinID     int64  `json:"cabin_id"`
	Date        string `json:"date"`
	Interval    string `json:"interval"`
	Purpose     string `json:"purpose"`
	Category    string `json:"category,omitempty"`
}

type Reallocation struct {
	ReservationID string `json:"reservation_id"`
	RequesterID   int64  `json:"requester_id"`
	FromCabinID   int64  `json:"from_cabin_id"`
	ToCabinID     int64  `json:"to_cabin_id"`
}

type CreateReservationResponse struct {
	Reservation *model.Reservation   `json:"reservation"`
	Reallocated []Reallocation       `json:"reallocated,omitempty"`
	Displaced   []*model.Reservation `json:"displaced,omitempty"`
}

type DecisionRequest struct {
	AdminID int64  `json:"admin_id"`
	Reason  string `json:"reason,omitempty"`
}

type CancelRequest struct {
	ActorID int64 `json:"actor_id"`
}

type ReassignRequest struct {
	AdminID int64  `json:"admin_id"`
	CabinID int64  `json:"cabin_id"`
	Reason  string `json:"reason"`
}

type AssignRequest struct {
	AdminID         int64  `json:"admin_id"`
	RequesterID     int64  `json:"requester_id"`
	RejectedCabinID int64  `json:"rejected_cabin_id"`
	ChosenCabinID   int64  `json:"chosen_cabin_id"`
	Date            string `json:"date"`
	Interval        string `json:"interval"`
	Purpose         string `json:"purpose"`
	Category        string `json:"category,omitempty"`
}

type ReservationsResponse struct {
	Reservations []*model.Reservation `json:"reservations"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, name string, required bool) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return 0, apperr.Validation("%s is required", name)
		}
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return v, nil
}

func queryDate(r *http.Request, name string, required bool) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return time.Time{}, apperr.Validation("%s is required", name)
		}
		return time.Time{}, nil
	}
	return model.ParseDate(raw)
}

func pathID(r *http.Request) (int64, error) {
	v, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, apperr.Validation("id must be an integer")
	}
	return v, nil
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	cabinID, err := queryInt(r, "cabin_id", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	date, err := queryDate(r, "date", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	requesterID, err := queryInt(r, "requester_id", false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok, err := s.booking.CheckAvailability(r.Context(), cabinID, date, r.URL.Query().Get("interval"), requesterID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": ok})
}

func (s *Server) handleAlternatives(w http.ResponseWriter, r *http.Request) {
	cabinID, err := queryInt(r, "cabin_id", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	date, err := queryDate(r, "date", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	alts, err := s.booking.GetAlternatives(r.Context(), cabinID, date, r.URL.Query().Get("interval"), int(limit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if alts == nil {
		alts = []interval.Interval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alternatives": alts})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.booking.Create(r.Context(), booking.CreateRequest{
		RequesterID: req.RequesterID,
		CabinID:     req.CabinID,
		Date:        date,
		Interval:    req.Interval,
		Purpose:     req.Purpose,
		Category:    req.Category,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := CreateReservationResponse{Reservation: res.Reservation}
	if res.Override != nil {
		for _, ra := range res.Override.Reallocated {
			resp.Reallocated = append(resp.Reallocated, Reallocation{
				ReservationID: ra.Reservation.ID,
				RequesterID:   ra.Reservation.RequesterID,
				FromCabinID:   ra.FromCabinID,
				ToCabinID:     ra.ToCabinID,
			})
		}
		resp.Displaced = res.Override.Displaced
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.booking.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.booking.Actions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if actions == nil {
		actions = []*model.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.booking.Approve(r.Context(), r.PathValue("id"), req.AdminID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.booking.Reject(r.Context(), r.PathValue("id"), req.AdminID, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.booking.Cancel(r.Context(), r.PathValue("id"), req.ActorID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReassign(w http.ResponseWriter, r *http.Request) {
	var req ReassignRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.booking.AdminReassign(r.Context(), r.PathValue("id"), req.CabinID, req.AdminID, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.booking.AdminAssignAlternative(r.Context(), booking.AssignRequest{
		AdminID:         req.AdminID,
		RequesterID:     req.RequesterID,
		RejectedCabinID: req.RejectedCabinID,
		ChosenCabinID:   req.ChosenCabinID,
		Date:            date,
		Interval:        req.Interval,
		Purpose:         req.Purpose,
		Category:        req.Category,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRequesterReservations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	from, err := queryDate(r, "from", false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryDate(r, "to", false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows, err := s.booking.RequesterReservations(r.Context(), id, from, to)
	s.writeReservations(w, r, rows, err)
}

func (s *Server) writeReservations(w http.ResponseWriter, r *http.Request, rows []*model.Reservation, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []*model.Reservation{}
	}
	writeJSON(w, http.StatusOK, ReservationsResponse{Reservations: rows})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	rows, err := s.reports.Pending(r.Context())
	s.writeReservations(w, r, rows, err)
}

func (s *Server) handleUrgent(w http.ResponseWriter, r *http.Request) {
	rows, err := s.reports.Urgent(r.Context())
	s.writeReservations(w, r, rows, err)
}

func (s *Server) handleByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := model.ParseStatus(r.PathValue("status"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows, err := s.reports.ByStatus(r.Context(), status)
	s.writeReservations(w, r, rows, err)
}

func (s *Server) handleByPriority(w http.ResponseWriter, r *http.Request) {
	priority, err := model.ParsePriority(r.PathValue("priority"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows, err := s.reports.ByPriority(r.Context(), priority)
	s.writeReservations(w, r, rows, err)
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryDate(r, "to", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows, err := s.reports.ByDateRange(r.Context(), from, to)
	s.writeReservations(w, r, rows, err)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reports.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePopularInterval(w http.ResponseWriter, r *http.Request) {
	popular, err := s.reports.PopularInterval(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, popular)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from", false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryDate(r, "to", false)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	xw := report.NewExcelizeWriter()
	defer xw.Close()
	if err := s.reports.ExportBook(r.Context(), xw, model.ReservationFilter{From: from, To: to}); err != nil {
		s.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := xw.Save(&buf); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reservations_%s.xlsx"`, time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
