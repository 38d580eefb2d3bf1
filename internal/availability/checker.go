// Package availability decides whether a cabin is free for an interval on a given day.
package availability

import (
	"context"
	"fmt"
	"time"

	"cabinbook/internal/access"
	"cabinbook/internal/apperr"
	"cabinbook/internal/domain"
	"cabinbook/internal/interval"
	"cabinbook/internal/model"
)

// Checker evaluates requests against the active reservations of a cabin.
type Checker struct {
	catalog domain.Catalog
}

func NewChecker(catalog domain.Catalog) *Checker {
	return &Checker{catalog: catalog}
}

// IsAvailable fails closed: a missing, non-active or inaccessible cabin is
// reported as unavailable. Store faults are returned as errors.
func (c *Checker) IsAvailable(ctx context.Context, reader domain.ReservationReader, cabinID int64, date time.Time, iv interval.Interval, p model.Privilege) (bool, error) {
	cabin, err := c.catalog.GetCabin(ctx, cabinID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return false, nil
		}
		return false, fmt.Errorf("get cabin %d: %w", cabinID, err)
	}
	if !cabin.IsActive() || !access.CanUseCabin(p, cabin) {
		return false, nil
	}
	return IsFree(ctx, reader, cabinID, date, iv)
}

// IsFree reports whether no active reservation overlaps iv. It does not
// consult the catalogue.
func IsFree(ctx context.Context, reader domain.ReservationReader, cabinID int64, date time.Time, iv interval.Interval) (bool, error) {
	conflicts, err := Conflicts(ctx, reader, cabinID, date, iv)
	if err != nil {
		return false, err
	}
	return len(conflicts) == 0, nil
}

// Conflicts returns the active reservations overlapping iv, ordered by start.
func Conflicts(ctx context.Context, reader domain.ReservationReader, cabinID int64, date time.Time, iv interval.Interval) ([]*model.Reservation, error) {
	active, err := reader.ListActiveReservations(ctx, cabinID, date)
	if err != nil {
		return nil, fmt.Errorf("list reservations for cabin %d: %w", cabinID, err)
	}
	return Overlapping(active, iv), nil
}

// Overlapping filters rows that are active and overlap iv.
func Overlapping(rows []*model.Reservation, iv interval.Interval) []*model.Reservation {
	var out []*model.Reservation
	for _, r := range rows {
		if r.Status.Active() && r.Interval.Overlaps(iv) {
			out = append(out, r)
		}
	}
	return out
}
