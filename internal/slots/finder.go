// Package slots suggests alternatives for a request that cannot be served as asked.
package slots

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cabinbook/internal/access"
	"cabinbook/internal/availability"
	"cabinbook/internal/domain"
	"cabinbook/internal/interval"
	"cabinbook/internal/model"
)

// DefaultLimit caps suggestions when the caller passes none.
const DefaultLimit = 5

// Finder enumerates free grid slots and free cabins.
type Finder struct {
	catalog domain.Catalog
	rules   interval.Rules
	limit   int
	now     domain.Clock
}

// NewFinder creates a finder. A zero limit falls back to DefaultLimit and a nil clock to time.Now.
func NewFinder(catalog domain.Catalog, rules interval.Rules, limit int, now domain.Clock) *Finder {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if now == nil {
		now = time.Now
	}
	return &Finder{catalog: catalog, rules: rules, limit: limit, now: now}
}

// FindAlternatives returns up to limit intervals of the requested duration,
// free on the cabin and day, closest to the requested start first. Start
// times already past are skipped when date is today.
func (f *Finder) FindAlternatives(ctx context.Context, reader domain.ReservationReader, cabinID int64, date time.Time, requested interval.Interval, limit int) ([]interval.Interval, error) {
	if limit <= 0 {
		limit = f.limit
	}
	active, err := reader.ListActiveReservations(ctx, cabinID, date)
	if err != nil {
		return nil, fmt.Errorf("list reservations for cabin %d: %w", cabinID, err)
	}

	earliest := f.rules.Open
	now := f.now()
	if model.DateOf(now).Equal(date) {
		if m := now.Hour()*60 + now.Minute(); m > earliest {
			earliest = m
		}
	}

	duration := requested.Duration()
	var candidates []interval.Interval
	for cursor := f.rules.Open; cursor+duration <= f.rules.Close; cursor += f.rules.Step {
		if cursor < earliest {
			continue
		}
		candidate := interval.Interval{Start: cursor, End: cursor + duration}
		if len(availability.Overlapping(active, candidate)) > 0 {
			continue
		}
		candidates = append(candidates, candidate)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di := distance(candidates[i].Start, requested.Start)
		dj := distance(candidates[j].Start, requested.Start)
		if di != dj {
			return di < dj
		}
		return candidates[i].Start < candidates[j].Start
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// FindAlternativeCabins returns other ACTIVE cabins the privilege class may
// use that are free for exactly iv, closest in capacity to the excluded
// cabin first, then by id.
func (f *Finder) FindAlternativeCabins(ctx context.Context, reader domain.ReservationReader, excludeID int64, date time.Time, iv interval.Interval, p model.Privilege) ([]*model.Cabin, error) {
	reference := 0
	if excluded, err := f.catalog.GetCabin(ctx, excludeID); err == nil {
		reference = excluded.Capacity
	}

	cabins, err := access.ListAccessibleCabins(ctx, f.catalog, p)
	if err != nil {
		return nil, err
	}

	var out []*model.Cabin
	for _, c := range cabins {
		if c.ID == excludeID {
			continue
		}
		free, err := availability.IsFree(ctx, reader, c.ID, date, iv)
		if err != nil {
			return nil, err
		}
		if free {
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		di := distance(out[i].Capacity, reference)
		dj := distance(out[j].Capacity, reference)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
