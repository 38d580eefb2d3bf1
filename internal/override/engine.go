// Package override resolves slot conflicts in favour of VIP requests.
//
// The engine only mutates through the transaction it is handed. The caller
// owns Begin, Commit and Rollback, so a failure at any step leaves every
// conflicting reservation as it was.
package override

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cabinbook/internal/apperr"
	"cabinbook/internal/availability"
	"cabinbook/internal/domain"
	"cabinbook/internal/lifecycle"
	"cabinbook/internal/model"
	"cabinbook/internal/slots"
)

// DisplacedReason is recorded on reservations rejected by an override.
const DisplacedReason = "displaced by priority override"

// ReallocatedReason is recorded on reservations moved by an override.
const ReallocatedReason = "reallocated by priority override"

// Reallocation describes a conflict moved to another cabin.
type Reallocation struct {
	Reservation *model.Reservation
	FromCabinID int64
	ToCabinID   int64
}

// Outcome lists what a successful override changed.
type Outcome struct {
	Reservation *model.Reservation
	Reallocated []Reallocation
	Displaced   []*model.Reservation
}

type Engine struct {
	finder    *slots.Finder
	directory domain.Directory
	fsm       *lifecycle.FSM
	now       domain.Clock
	logger    zerolog.Logger
}

func NewEngine(finder *slots.Finder, directory domain.Directory, now domain.Clock, logger zerolog.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		finder:    finder,
		directory: directory,
		fsm:       lifecycle.Default,
		now:       now,
		logger:    logger.With().Str("component", "override").Logger(),
	}
}

// Run resolves every conflict with res and inserts res as APPROVED VIP.
// res must carry id, requester, cabin, date, interval and purpose.
func (e *Engine) Run(ctx context.Context, tx domain.Tx, res *model.Reservation) (*Outcome, error) {
	conflicts, err := availability.Conflicts(ctx, tx, res.CabinID, res.Date, res.Interval)
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		if c.Priority >= model.PriorityVIP {
			e.logger.Info().
				Str("conflict_id", c.ID).
				Int64("cabin_id", res.CabinID).
				Str("interval", res.Interval.String()).
				Msg("override blocked by VIP reservation")
			return nil, apperr.ConflictUnresolvable("slot %s on cabin %d is held by VIP reservation %s",
				res.Interval, res.CabinID, c.ID)
		}
	}

	now := e.now()
	actor := res.RequesterID
	out := &Outcome{}

	for _, c := range conflicts {
		privilege, err := e.privilegeOf(ctx, c.RequesterID)
		if err != nil {
			return nil, err
		}

		alternatives, err := e.finder.FindAlternativeCabins(ctx, tx, c.CabinID, c.Date, c.Interval, privilege)
		if err != nil {
			return nil, fmt.Errorf("find cabins for %s: %w", c.ID, err)
		}

		expected := c.Version
		if len(alternatives) > 0 {
			target := alternatives[0]
			from := c.CabinID
			wasPending := c.Status == model.StatusPending
			if err := e.fsm.Transition(c, lifecycle.EventReallocate); err != nil {
				return nil, err
			}
			c.CabinID = target.ID
			if wasPending {
				c.MarkApproved(actor, now)
			}
			c.UpdatedAt = now
			if err := tx.UpdateReservation(ctx, c, expected); err != nil {
				return nil, fmt.Errorf("reallocate %s: %w", c.ID, err)
			}
			if err := tx.RecordAction(ctx, &model.Action{
				ReservationID: c.ID,
				Kind:          model.ActionReallocated,
				ActorID:       actor,
				Reason:        ReallocatedReason,
				OldCabinID:    from,
				NewCabinID:    target.ID,
				At:            now,
			}); err != nil {
				return nil, fmt.Errorf("record reallocation of %s: %w", c.ID, err)
			}
			out.Reallocated = append(out.Reallocated, Reallocation{Reservation: c, FromCabinID: from, ToCabinID: target.ID})
			continue
		}

		if err := e.fsm.Transition(c, lifecycle.EventDisplace); err != nil {
			return nil, err
		}
		c.MarkRejected(&actor, now, DisplacedReason)
		c.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, c, expected); err != nil {
			return nil, fmt.Errorf("displace %s: %w", c.ID, err)
		}
		if err := tx.RecordAction(ctx, &model.Action{
			ReservationID: c.ID,
			Kind:          model.ActionDisplaced,
			ActorID:       actor,
			Reason:        DisplacedReason,
			OldCabinID:    c.CabinID,
			At:            now,
		}); err != nil {
			return nil, fmt.Errorf("record displacement of %s: %w", c.ID, err)
		}
		out.Displaced = append(out.Displaced, c)
	}

	remaining, err := availability.Conflicts(ctx, tx, res.CabinID, res.Date, res.Interval)
	if err != nil {
		return nil, err
	}
	if len(remaining) > 0 {
		return nil, apperr.ConflictUnresolvable("slot %s on cabin %d still has %d conflicts", res.Interval, res.CabinID, len(remaining))
	}

	res.Status = model.StatusApproved
	res.Priority = model.PriorityVIP
	res.MarkApproved(actor, now)
	res.CreatedAt = now
	res.UpdatedAt = now
	if err := tx.InsertReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("insert override reservation: %w", err)
	}
	if err := tx.RecordAction(ctx, &model.Action{
		ReservationID: res.ID,
		Kind:          model.ActionOverride,
		ActorID:       actor,
		Reason:        fmt.Sprintf("%d reallocated, %d displaced", len(out.Reallocated), len(out.Displaced)),
		NewCabinID:    res.CabinID,
		At:            now,
	}); err != nil {
		return nil, fmt.Errorf("record override: %w", err)
	}

	out.Reservation = res
	e.logger.Info().
		Str("reservation_id", res.ID).
		Int64("cabin_id", res.CabinID).
		Int("reallocated", len(out.Reallocated)).
		Int("displaced", len(out.Displaced)).
		Msg("priority override applied")
	return out, nil
}

// Notify sends the messages owed to the requesters of affected
// reservations. Call it only after the transaction has committed.
func (o *Outcome) Notify(ctx context.Context, n domain.Notifier) {
	if n == nil {
		return
	}
	for _, r := range o.Reallocated {
		n.NotifyReassignment(ctx, r.Reservation.RequesterID, r.FromCabinID, r.ToCabinID, ReallocatedReason)
	}
	for _, r := range o.Displaced {
		n.NotifyRejection(ctx, r.RequesterID, DisplacedReason)
	}
}

// privilegeOf falls back to normal for requesters that no longer resolve.
func (e *Engine) privilegeOf(ctx context.Context, requesterID int64) (model.Privilege, error) {
	req, err := e.directory.GetRequester(ctx, requesterID)
	switch {
	case err == nil:
		return req.Privilege, nil
	case apperr.KindOf(err) == apperr.KindNotFound:
		e.logger.Warn().Int64("requester_id", requesterID).Msg("requester not found, assuming normal privilege")
		return model.PrivilegeNormal, nil
	default:
		return "", fmt.Errorf("get requester %d: %w", requesterID, err)
	}
}
