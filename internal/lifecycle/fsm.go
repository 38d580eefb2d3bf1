// Package lifecycle provides the reservation status state machine.
package lifecycle

import (
	"cabinbook/internal/apperr"
	"cabinbook/internal/model"
)

// Event drives a status transition.
type Event string

const (
	EventApprove Event = "approve"
	EventReject  Event = "reject"
	EventCancel  Event = "cancel"
	// EventReallocate moves a reservation to another cabin during a priority override.
	EventReallocate Event = "reallocate"
	// EventDisplace rejects a reservation that lost its slot to a priority override.
	// It is the only way an APPROVED reservation becomes REJECTED.
	EventDisplace Event = "displace"
	// EventReassign is an administrator moving a reservation to another cabin.
	EventReassign Event = "reassign"
)

// FSM manages status transitions of reservations.
type FSM struct {
	transitions map[model.Status]map[Event]model.Status
}

// NewFSM creates a new FSM with predefined transitions. REJECTED and
// CANCELLED have no outgoing edges.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[model.Status]map[Event]model.Status{
			model.StatusPending: {
				EventApprove:    model.StatusApproved,
				EventReject:     model.StatusRejected,
				EventCancel:     model.StatusCancelled,
				EventReallocate: model.StatusApproved,
				EventDisplace:   model.StatusRejected,
				EventReassign:   model.StatusApproved,
			},
			model.StatusApproved: {
				EventCancel:     model.StatusCancelled,
				EventReallocate: model.StatusApproved,
				EventDisplace:   model.StatusRejected,
				EventReassign:   model.StatusApproved,
			},
		},
	}
}

// Default is shared by the workflow and the override engine.
var Default = NewFSM()

// Target returns the status reached from `from` on ev.
func (f *FSM) Target(from model.Status, ev Event) (model.Status, bool) {
	to, ok := f.transitions[from][ev]
	return to, ok
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from model.Status, ev Event) bool {
	_, ok := f.Target(from, ev)
	return ok
}

// Transition updates r.Status if ev is allowed from its current status.
func (f *FSM) Transition(r *model.Reservation, ev Event) error {
	to, ok := f.Target(r.Status, ev)
	if !ok {
		return apperr.AlreadyProcessed("reservation %s is %s, cannot %s", r.ID, r.Status, ev)
	}
	r.Status = to
	return nil
}
