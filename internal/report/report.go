// Package report holds the read projections over the reservation book.
// Every query the API and the exports run goes through here.
package report

import (
	"context"
	"time"

	"cabinbook/internal/apperr"
	"cabinbook/internal/interval"
	"cabinbook/internal/model"
)

// Source is the read side of the reservation store. Rows come back in a
// stable order: created_at, then id.
type Source interface {
	ListReservations(ctx context.Context, filter model.ReservationFilter) ([]*model.Reservation, error)
	ListActions(ctx context.Context, reservationID string) ([]*model.Action, error)
}

type Reports struct {
	src Source
}

func New(src Source) *Reports {
	return &Reports{src: src}
}

func (r *Reports) ByStatus(ctx context.Context, status model.Status) ([]*model.Reservation, error) {
	return r.src.ListReservations(ctx, model.ReservationFilter{Statuses: []model.Status{status}})
}

func (r *Reports) Pending(ctx context.Context) ([]*model.Reservation, error) {
	return r.ByStatus(ctx, model.StatusPending)
}

func (r *Reports) ByPriority(ctx context.Context, priority model.Priority) ([]*model.Reservation, error) {
	return r.src.ListReservations(ctx, model.ReservationFilter{Priorities: []model.Priority{priority}})
}

// Urgent returns pending rows of HIGH priority or above, plus pending
// emergency requests of any priority.
func (r *Reports) Urgent(ctx context.Context) ([]*model.Reservation, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Reservation, 0, len(pending))
	for _, res := range pending {
		if IsUrgent(res) {
			out = append(out, res)
		}
	}
	return out, nil
}

// IsUrgent reports whether a reservation belongs in the urgent queue.
func IsUrgent(r *model.Reservation) bool {
	if r.Status != model.StatusPending {
		return false
	}
	return r.Priority >= model.PriorityHigh || r.Category == model.CategoryEmergency
}

// ByDateRange returns reservations dated within [from, to].
func (r *Reports) ByDateRange(ctx context.Context, from, to time.Time) ([]*model.Reservation, error) {
	if from.IsZero() || to.IsZero() {
		return nil, apperr.Validation("both ends of the date range are required")
	}
	if to.Before(from) {
		return nil, apperr.Validation("date range ends before it starts")
	}
	return r.src.ListReservations(ctx, model.ReservationFilter{From: from, To: to})
}

// IntervalCount is a time slot and how often it was booked.
type IntervalCount struct {
	Interval interval.Interval `json:"interval"`
	Count    int               `json:"count"`
}

// PopularInterval returns the interval most often booked among APPROVED
// reservations. Ties go to the interval seen first in the scan.
func (r *Reports) PopularInterval(ctx context.Context) (*IntervalCount, error) {
	rows, err := r.ByStatus(ctx, model.StatusApproved)
	if err != nil {
		return nil, err
	}
	return MostFrequent(rows)
}

// MostFrequent counts intervals over rows in order.
func MostFrequent(rows []*model.Reservation) (*IntervalCount, error) {
	if len(rows) == 0 {
		return nil, apperr.NotFound("no approved reservations")
	}
	counts := make(map[interval.Interval]int, len(rows))
	order := make([]interval.Interval, 0, len(rows))
	for _, res := range rows {
		if _, seen := counts[res.Interval]; !seen {
			order = append(order, res.Interval)
		}
		counts[res.Interval]++
	}

	best := IntervalCount{Interval: order[0], Count: counts[order[0]]}
	for _, iv := range order[1:] {
		if counts[iv] > best.Count {
			best = IntervalCount{Interval: iv, Count: counts[iv]}
		}
	}
	return &best, nil
}

// Stats are counts over the whole reservation book.
type Stats struct {
	Total      int                  `json:"total"`
	ByStatus   map[model.Status]int `json:"by_status"`
	ByPriority map[string]int       `json:"by_priority"`
	ByCabin    map[int64]int        `json:"by_cabin"`
	Urgent     int                  `json:"urgent"`
}

func (r *Reports) Stats(ctx context.Context) (*Stats, error) {
	rows, err := r.src.ListReservations(ctx, model.ReservationFilter{})
	if err != nil {
		return nil, err
	}
	return Summarize(rows), nil
}

// Summarize builds Stats from rows. Every status and priority is present in
// the maps, even at zero.
func Summarize(rows []*model.Reservation) *Stats {
	s := &Stats{
		Total:      len(rows),
		ByStatus:   make(map[model.Status]int, len(model.AllStatuses)),
		ByPriority: make(map[string]int, len(model.AllPriorities)),
		ByCabin:    make(map[int64]int),
	}
	for _, st := range model.AllStatuses {
		s.ByStatus[st] = 0
	}
	for _, p := range model.AllPriorities {
		s.ByPriority[p.String()] = 0
	}
	for _, res := range rows {
		s.ByStatus[res.Status]++
		s.ByPriority[res.Priority.String()]++
		s.ByCabin[res.CabinID]++
		if IsUrgent(res) {
			s.Urgent++
		}
	}
	return s
}
