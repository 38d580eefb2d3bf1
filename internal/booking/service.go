// Package booking implements the reservation workflow: creation, approval,
// rejection, cancellation and the administrative overrides.
package booking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cabinbook/internal/access"
	"cabinbook/internal/apperr"
	"cabinbook/internal/availability"
	"cabinbook/internal/domain"
	"cabinbook/internal/events"
	"cabinbook/internal/interval"
	"cabinbook/internal/lifecycle"
	"cabinbook/internal/metrics"
	"cabinbook/internal/model"
	"cabinbook/internal/override"
	"cabinbook/internal/slots"
)

// EventPublisher receives lifecycle events.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

// Config holds the booking rules.
type Config struct {
	Rules             interval.Rules
	MaxAdvanceDays    int
	AlternativesLimit int
	LockTimeout       time.Duration
}

// Deps are the collaborators of the service. Notifier, Locker and Events may be nil.
type Deps struct {
	Store     domain.ReservationStore
	Catalog   domain.Catalog
	Directory domain.Directory
	Notifier  domain.Notifier
	Locker    domain.Locker
	Events    EventPublisher
	Clock     domain.Clock
	Logger    zerolog.Logger
}

// Service provides the caller-facing reservation operations.
type Service struct {
	store    domain.ReservationStore
	catalog  domain.Catalog
	access   *access.Service
	checker  *availability.Checker
	finder   *slots.Finder
	engine   *override.Engine
	notifier domain.Notifier
	locker   domain.Locker
	events   EventPublisher
	fsm      *lifecycle.FSM
	cfg      Config
	now      domain.Clock
	newID    func() string
	logger   zerolog.Logger
}

// NewService creates a new booking service.
func NewService(deps Deps, cfg Config) *Service {
	if cfg.Rules == (interval.Rules{}) {
		cfg.Rules = interval.DefaultRules
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	finder := slots.NewFinder(deps.Catalog, cfg.Rules, cfg.AlternativesLimit, deps.Clock)
	return &Service{
		store:    deps.Store,
		catalog:  deps.Catalog,
		access:   access.NewService(deps.Directory, deps.Catalog, deps.Logger),
		checker:  availability.NewChecker(deps.Catalog),
		finder:   finder,
		engine:   override.NewEngine(finder, deps.Directory, deps.Clock, deps.Logger),
		notifier: deps.Notifier,
		locker:   deps.Locker,
		events:   deps.Events,
		fsm:      lifecycle.Default,
		cfg:      cfg,
		now:      deps.Clock,
		newID:    uuid.NewString,
		logger:   deps.Logger.With().Str("component", "booking").Logger(),
	}
}

// CreateRequest is a reservation request as submitted by a requester.
type CreateRequest struct {
	RequesterID int64
	CabinID     int64
	Date        time.Time
	Interval    string // "HH:MM-HH:MM"
	Purpose     string
	Category    string
}

// CreateResult is the outcome of a successful Create. Override is set when
// the reservation preempted others.
type CreateResult struct {
	Reservation *model.Reservation
	Override    *override.Outcome
}

// Create books a cabin. A free slot yields a PENDING reservation; an occupied
// slot is preempted for VIP requesters and refused with suggestions otherwise.
func (s *Service) Create(ctx context.Context, req CreateRequest) (res *CreateResult, err error) {
	defer metrics.ObserveOperation("create", time.Now())
	defer func() {
		if err != nil {
			metrics.IncRequestRefused(string(apperr.KindOf(err)))
		}
	}()

	requester, err := s.access.Requester(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}
	date, iv, err := s.validateSlot(req.Date, req.Interval)
	if err != nil {
		return nil, err
	}
	purpose, err := validatePurpose(req.Purpose)
	if err != nil {
		return nil, err
	}
	category, err := model.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}

	cabin, err := s.access.Cabin(ctx, req.CabinID, requester.Privilege)
	if err != nil {
		return nil, err
	}
	if !cabin.IsActive() {
		alternatives, err := s.finder.FindAlternativeCabins(ctx, s.store, cabin.ID, date, iv, requester.Privilege)
		if err != nil {
			return nil, err
		}
		return nil, &SlotUnavailableError{
			CabinID:           cabin.ID,
			Date:              date,
			Requested:         iv,
			Reason:            fmt.Sprintf("cabin is %s", cabin.Status),
			AlternativeCabins: alternatives,
		}
	}

	priority := access.PriorityFor(requester.Privilege)
	now := s.now()
	r := &model.Reservation{
		ID:          s.newID(),
		RequesterID: requester.ID,
		CabinID:     cabin.ID,
		Date:        date,
		Interval:    iv,
		Purpose:     purpose,
		Category:    category,
		Status:      model.StatusPending,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	unlock, err := s.lock(ctx, r.Key())
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		outcome     *override.Outcome
		unavailable *SlotUnavailableError
	)
	err = s.inTx(ctx, func(tx domain.Tx) error {
		conflicts, err := availability.Conflicts(ctx, tx, r.CabinID, r.Date, r.Interval)
		if err != nil {
			return err
		}

		switch {
		case len(conflicts) == 0:
			if err := tx.InsertReservation(ctx, r); err != nil {
				return fmt.Errorf("insert reservation: %w", err)
			}
			return tx.RecordAction(ctx, &model.Action{
				ReservationID: r.ID,
				Kind:          model.ActionCreated,
				ActorID:       r.RequesterID,
				NewCabinID:    r.CabinID,
				At:            now,
			})

		case priority == model.PriorityVIP:
			outcome, err = s.engine.Run(ctx, tx, r)
			return err

		default:
			unavailable, err = s.unavailable(ctx, tx, r, requester.Privilege)
			if err != nil {
				return err
			}
			return unavailable
		}
	})
	unlock()
	if err != nil {
		s.logger.Debug().Err(err).
			Int64("requester_id", r.RequesterID).
			Int64("cabin_id", r.CabinID).
			Str("date", r.Date.Format(model.DateLayout)).
			Str("interval", r.Interval.String()).
			Msg("reservation refused")
		return nil, err
	}

	if outcome != nil {
		outcome.Notify(ctx, s.notifier)
		metrics.IncReservationCreated("override")
		metrics.AddOverrideConflicts(len(outcome.Reallocated), len(outcome.Displaced))
		for _, moved := range outcome.Reallocated {
			s.publish(events.ReservationReassigned, moved.Reservation, r.RequesterID, override.ReallocatedReason, moved.FromCabinID)
		}
		for _, d := range outcome.Displaced {
			s.publish(events.ReservationDisplaced, d, r.RequesterID, override.DisplacedReason, 0)
		}
		s.publish(events.ReservationOverride, r, r.RequesterID, "", 0)
	} else {
		metrics.IncReservationCreated("normal")
		s.publish(events.ReservationCreated, r, r.RequesterID, "", 0)
	}

	s.logger.Info().
		Str("reservation_id", r.ID).
		Int64("requester_id", r.RequesterID).
		Int64("cabin_id", r.CabinID).
		Str("status", string(r.Status)).
		Str("priority", r.Priority.String()).
		Msg("reservation created")
	return &CreateResult{Reservation: r, Override: outcome}, nil
}

// CheckAvailability reports whether the cabin is free for the interval. A
// zero requesterID checks with normal privilege.
func (s *Service) CheckAvailability(ctx context.Context, cabinID int64, date time.Time, text string, requesterID int64) (bool, error) {
	iv, err := s.cfg.Rules.Parse(text)
	if err != nil {
		return false, err
	}
	privilege := model.PrivilegeNormal
	if requesterID != 0 {
		requester, err := s.access.Requester(ctx, requesterID)
		if err != nil {
			return false, err
		}
		privilege = requester.Privilege
	}
	return s.checker.IsAvailable(ctx, s.store, cabinID, model.DateOf(date), iv, privilege)
}

// GetAlternatives suggests free intervals of the same duration, nearest first.
func (s *Service) GetAlternatives(ctx context.Context, cabinID int64, date time.Time, text string, limit int) ([]interval.Interval, error) {
	iv, err := s.cfg.Rules.Parse(text)
	if err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetCabin(ctx, cabinID); err != nil {
		return nil, err
	}
	return s.finder.FindAlternatives(ctx, s.store, cabinID, model.DateOf(date), iv, limit)
}

// Approve moves a PENDING reservation to APPROVED.
func (s *Service) Approve(ctx context.Context, id string, adminID int64) (*model.Reservation, error) {
	defer metrics.ObserveOperation("approve", time.Now())
	if _, err := s.access.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	now := s.now()
	r, err := s.mutate(ctx, id, func(r *model.Reservation) (*model.Action, error) {
		if err := s.fsm.Transition(r, lifecycle.EventApprove); err != nil {
			return nil, err
		}
		r.MarkApproved(adminID, now)
		return &model.Action{Kind: model.ActionApproved, ActorID: adminID, At: now}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncAdminDecision("approve")
	s.publish(events.ReservationApproved, r, adminID, "", 0)
	s.logger.Info().Str("reservation_id", id).Int64("admin_id", adminID).Msg("reservation approved")
	return r, nil
}

// Reject moves a PENDING reservation to REJECTED and tells the requester.
func (s *Service) Reject(ctx context.Context, id string, adminID int64, reason string) (*model.Reservation, error) {
	defer metrics.ObserveOperation("reject", time.Now())
	if _, err := s.access.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	now := s.now()
	r, err := s.mutate(ctx, id, func(r *model.Reservation) (*model.Action, error) {
		if err := s.fsm.Transition(r, lifecycle.EventReject); err != nil {
			return nil, err
		}
		r.MarkRejected(&adminID, now, reason)
		return &model.Action{Kind: model.ActionRejected, ActorID: adminID, Reason: reason, At: now}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncAdminDecision("reject")
	if s.notifier != nil {
		s.notifier.NotifyRejection(ctx, r.RequesterID, reason)
	}
	s.publish(events.ReservationRejected, r, adminID, reason, 0)
	s.logger.Info().Str("reservation_id", id).Int64("admin_id", adminID).Msg("reservation rejected")
	return r, nil
}

// Cancel is allowed to the original requester and to administrators.
func (s *Service) Cancel(ctx context.Context, id string, actorID int64) (*model.Reservation, error) {
	defer metrics.ObserveOperation("cancel", time.Now())
	actor, err := s.access.Requester(ctx, actorID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	r, err := s.mutate(ctx, id, func(r *model.Reservation) (*model.Action, error) {
		if r.RequesterID != actorID && !actor.Privilege.IsAdmin() {
			return nil, &access.AccessDeniedError{Reason: fmt.Sprintf("requester %d may not cancel reservation %s", actorID, r.ID)}
		}
		if err := s.fsm.Transition(r, lifecycle.EventCancel); err != nil {
			return nil, err
		}
		r.MarkCancelled(actorID, now)
		return &model.Action{Kind: model.ActionCancelled, ActorID: actorID, At: now}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncAdminDecision("cancel")
	s.publish(events.ReservationCancelled, r, actorID, "", 0)
	s.logger.Info().Str("reservation_id", id).Int64("actor_id", actorID).Msg("reservation cancelled")
	return r, nil
}

// AdminReassign moves a reservation to another cabin at the same date and
// interval. The reservation ends up APPROVED.
func (s *Service) AdminReassign(ctx context.Context, id string, newCabinID, adminID int64, reason string) (*model.Reservation, error) {
	defer metrics.ObserveOperation("reassign", time.Now())
	if _, err := s.access.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	current, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.CabinID == newCabinID {
		return nil, apperr.Validation("reservation %s is already in cabin %d", id, newCabinID)
	}
	privilege, err := s.privilegeOf(ctx, current.RequesterID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.Cabin(ctx, newCabinID, privilege); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, model.SlotKey{CabinID: newCabinID, Date: current.Date})
	if err != nil {
		return nil, err
	}
	defer unlock()

	reason = strings.TrimSpace(reason)
	now := s.now()
	var oldCabinID int64
	var r *model.Reservation
	err = s.inTx(ctx, func(tx domain.Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if !s.fsm.CanTransition(r.Status, lifecycle.EventReassign) {
			return apperr.AlreadyProcessed("reservation %s is %s, cannot reassign", r.ID, r.Status)
		}
		free, err := s.checker.IsAvailable(ctx, tx, newCabinID, r.Date, r.Interval, privilege)
		if err != nil {
			return err
		}
		if !free {
			unavailable := &SlotUnavailableError{CabinID: newCabinID, Date: r.Date, Requested: r.Interval, Reason: "target cabin is occupied or not usable"}
			unavailable.AlternativeCabins, err = s.finder.FindAlternativeCabins(ctx, tx, r.CabinID, r.Date, r.Interval, privilege)
			if err != nil {
				return err
			}
			return unavailable
		}

		expected := r.Version
		oldCabinID = r.CabinID
		if err := s.fsm.Transition(r, lifecycle.EventReassign); err != nil {
			return err
		}
		r.CabinID = newCabinID
		if r.ApprovedBy == nil {
			r.MarkApproved(adminID, now)
		}
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r, expected); err != nil {
			return fmt.Errorf("reassign %s: %w", r.ID, err)
		}
		return tx.RecordAction(ctx, &model.Action{
			ReservationID: r.ID,
			Kind:          model.ActionReassigned,
			ActorID:       adminID,
			Reason:        reason,
			OldCabinID:    oldCabinID,
			NewCabinID:    newCabinID,
			At:            now,
		})
	})
	unlock()
	if err != nil {
		return nil, err
	}

	metrics.IncAdminDecision("reassign")
	if s.notifier != nil {
		s.notifier.NotifyReassignment(ctx, r.RequesterID, oldCabinID, newCabinID, reason)
	}
	s.publish(events.ReservationReassigned, r, adminID, reason, oldCabinID)
	s.logger.Info().
		Str("reservation_id", id).
		Int64("admin_id", adminID).
		Int64("old_cabin_id", oldCabinID).
		Int64("new_cabin_id", newCabinID).
		Msg("reservation reassigned")
	return r, nil
}

// AssignRequest is an administrator placing a requester into a cabin of
// their choice after the requested one was refused.
type AssignRequest struct {
	AdminID         int64
	RequesterID     int64
	RejectedCabinID int64
	ChosenCabinID   int64
	Date            time.Time
	Interval        string
	Purpose         string
	Category        string
}

// AdminAssignAlternative creates an APPROVED reservation on the chosen
// cabin. The chosen cabin must still be free.
func (s *Service) AdminAssignAlternative(ctx context.Context, req AssignRequest) (*model.Reservation, error) {
	defer metrics.ObserveOperation("assign", time.Now())
	if _, err := s.access.RequireAdmin(ctx, req.AdminID); err != nil {
		return nil, err
	}
	requester, err := s.access.Requester(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}
	date, iv, err := s.validateSlot(req.Date, req.Interval)
	if err != nil {
		return nil, err
	}
	purpose, err := validatePurpose(req.Purpose)
	if err != nil {
		return nil, err
	}
	category, err := model.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.Cabin(ctx, req.ChosenCabinID, requester.Privilege); err != nil {
		return nil, err
	}

	now := s.now()
	r := &model.Reservation{
		ID:          s.newID(),
		RequesterID: requester.ID,
		CabinID:     req.ChosenCabinID,
		Date:        date,
		Interval:    iv,
		Purpose:     purpose,
		Category:    category,
		Status:      model.StatusApproved,
		Priority:    access.PriorityFor(requester.Privilege),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.MarkApproved(req.AdminID, now)

	unlock, err := s.lock(ctx, r.Key())
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = s.inTx(ctx, func(tx domain.Tx) error {
		free, err := s.checker.IsAvailable(ctx, tx, r.CabinID, r.Date, r.Interval, requester.Privilege)
		if err != nil {
			return err
		}
		if !free {
			unavailable, err := s.unavailable(ctx, tx, r, requester.Privilege)
			if err != nil {
				return err
			}
			return unavailable
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return tx.RecordAction(ctx, &model.Action{
			ReservationID: r.ID,
			Kind:          model.ActionAssigned,
			ActorID:       req.AdminID,
			Reason:        "assigned by administrator",
			OldCabinID:    req.RejectedCabinID,
			NewCabinID:    r.CabinID,
			At:            now,
		})
	})
	unlock()
	if err != nil {
		return nil, err
	}

	metrics.IncReservationCreated("admin")
	if s.notifier != nil {
		s.notifier.NotifyReassignment(ctx, r.RequesterID, req.RejectedCabinID, r.CabinID, "assigned by administrator")
	}
	s.publish(events.ReservationCreated, r, req.AdminID, "assigned by administrator", req.RejectedCabinID)
	s.logger.Info().
		Str("reservation_id", r.ID).
		Int64("admin_id", req.AdminID).
		Int64("cabin_id", r.CabinID).
		Msg("alternative cabin assigned")
	return r, nil
}

// Get returns a reservation by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Reservation, error) {
	return s.store.GetReservation(ctx, id)
}

// Actions returns the audit trail of a reservation.
func (s *Service) Actions(ctx context.Context, id string) ([]*model.Action, error) {
	if _, err := s.store.GetReservation(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListActions(ctx, id)
}

// RequesterReservations lists a requester's reservations in an optional date range.
func (s *Service) RequesterReservations(ctx context.Context, requesterID int64, from, to time.Time) ([]*model.Reservation, error) {
	if _, err := s.access.Requester(ctx, requesterID); err != nil && !access.IsAccessDenied(err) {
		return nil, err
	}
	return s.store.ListReservations(ctx, model.ReservationFilter{RequesterID: requesterID, From: from, To: to})
}

func (s *Service) validateSlot(date time.Time, text string) (time.Time, interval.Interval, error) {
	iv, err := s.cfg.Rules.Parse(text)
	if err != nil {
		return time.Time{}, interval.Interval{}, err
	}
	if date.IsZero() {
		return time.Time{}, interval.Interval{}, apperr.Validation("date is required")
	}
	date = model.DateOf(date)
	now := s.now()
	today := model.DateOf(now)
	switch {
	case date.Before(today):
		return time.Time{}, interval.Interval{}, apperr.Validation("date %s is in the past", date.Format(model.DateLayout))
	case date.Equal(today) && iv.Start < now.Hour()*60+now.Minute():
		return time.Time{}, interval.Interval{}, apperr.Validation("start time %s has already passed", interval.FormatMinute(iv.Start))
	case s.cfg.MaxAdvanceDays > 0 && date.After(today.AddDate(0, 0, s.cfg.MaxAdvanceDays)):
		return time.Time{}, interval.Interval{}, apperr.Validation("date %s is more than %d days ahead", date.Format(model.DateLayout), s.cfg.MaxAdvanceDays)
	}
	return date, iv, nil
}

func validatePurpose(purpose string) (string, error) {
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return "", apperr.Validation("purpose is required")
	}
	if utf8.RuneCountInString(purpose) > model.MaxPurposeLength {
		return "", apperr.Validation("purpose exceeds %d characters", model.MaxPurposeLength)
	}
	return purpose, nil
}

// unavailable builds the refusal with time and cabin suggestions.
func (s *Service) unavailable(ctx context.Context, tx domain.Tx, r *model.Reservation, p model.Privilege) (*SlotUnavailableError, error) {
	alternatives, err := s.finder.FindAlternatives(ctx, tx, r.CabinID, r.Date, r.Interval, 0)
	if err != nil {
		return nil, err
	}
	cabins, err := s.finder.FindAlternativeCabins(ctx, tx, r.CabinID, r.Date, r.Interval, p)
	if err != nil {
		return nil, err
	}
	return &SlotUnavailableError{
		CabinID:           r.CabinID,
		Date:              r.Date,
		Requested:         r.Interval,
		Alternatives:      alternatives,
		AlternativeCabins: cabins,
	}, nil
}

// mutate applies fn to a reservation inside a transaction and records the
// returned action.
func (s *Service) mutate(ctx context.Context, id string, fn func(r *model.Reservation) (*model.Action, error)) (*model.Reservation, error) {
	var out *model.Reservation
	err := s.inTx(ctx, func(tx domain.Tx) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		expected := r.Version
		action, err := fn(r)
		if err != nil {
			return err
		}
		r.UpdatedAt = s.now()
		if err := tx.UpdateReservation(ctx, r, expected); err != nil {
			return fmt.Errorf("update reservation %s: %w", id, err)
		}
		action.ReservationID = r.ID
		if err := tx.RecordAction(ctx, action); err != nil {
			return fmt.Errorf("record action on %s: %w", id, err)
		}
		out = r
		return nil
	})
	return out, err
}

func (s *Service) inTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return apperr.Store("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Store("commit transaction", err)
	}
	return nil
}

func (s *Service) lock(ctx context.Context, key model.SlotKey) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	lockCtx := ctx
	if s.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.cfg.LockTimeout)
		defer cancel()
	}
	unlock, err := s.locker.Lock(lockCtx, key.String())
	if err != nil {
		return nil, apperr.Store("acquire lock "+key.String(), err)
	}
	// safe to call twice: after commit and from the deferred release
	return sync.OnceFunc(unlock), nil
}

func (s *Service) privilegeOf(ctx context.Context, requesterID int64) (model.Privilege, error) {
	req, err := s.access.Requester(ctx, requesterID)
	switch {
	case err == nil:
		return req.Privilege, nil
	case apperr.KindOf(err) == apperr.KindNotFound, access.IsAccessDenied(err):
		return model.PrivilegeNormal, nil
	default:
		return "", err
	}
}

func (s *Service) publish(eventType string, r *model.Reservation, actorID int64, reason string, oldCabinID int64) {
	if s.events == nil {
		return
	}
	payload := events.ReservationPayload{
		ReservationID: r.ID,
		RequesterID:   r.RequesterID,
		CabinID:       r.CabinID,
		OldCabinID:    oldCabinID,
		Date:          r.Date.Format(model.DateLayout),
		Interval:      r.Interval.String(),
		Status:        string(r.Status),
		Priority:      r.Priority.String(),
		ActorID:       actorID,
		Reason:        reason,
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("reservation_id", r.ID).Msg("publish event failed")
	}
}
