// Package domain declares the collaborators the reservation core depends on.
package domain

import (
	"context"
	"time"

	"cabinbook/internal/model"
)

// ReservationReader reads reservation rows.
type ReservationReader interface {
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	// ListActiveReservations returns PENDING and APPROVED rows for a cabin and day, ordered by start.
	ListActiveReservations(ctx context.Context, cabinID int64, date time.Time) ([]*model.Reservation, error)
}

// ReservationWriter mutates reservation rows.
type ReservationWriter interface {
	InsertReservation(ctx context.Context, r *model.Reservation) error
	// UpdateReservation persists r if the stored version equals expectedVersion,
	// and bumps r.Version on success.
	UpdateReservation(ctx context.Context, r *model.Reservation, expectedVersion int64) error
	RecordAction(ctx context.Context, a *model.Action) error
}

// Tx is a unit of work. Reads observe the transaction's own writes.
type Tx interface {
	ReservationReader
	ReservationWriter
	Commit() error
	Rollback() error
}

// ReservationStore is the persistence boundary of the core.
type ReservationStore interface {
	ReservationReader
	Begin(ctx context.Context) (Tx, error)
	ListReservations(ctx context.Context, filter model.ReservationFilter) ([]*model.Reservation, error)
	ListActions(ctx context.Context, reservationID string) ([]*model.Action, error)
}

// Catalog is the read-only cabin catalogue.
type Catalog interface {
	GetCabin(ctx context.Context, id int64) (*model.Cabin, error)
	ListCabins(ctx context.Context) ([]*model.Cabin, error)
}

// Directory is the read-only requester directory.
type Directory interface {
	GetRequester(ctx context.Context, id int64) (*model.Requester, error)
}

// Notifier delivers fire-and-forget messages to requesters.
type Notifier interface {
	NotifyReassignment(ctx context.Context, requesterID, oldCabinID, newCabinID int64, reason string)
	NotifyRejection(ctx context.Context, requesterID int64, reason string)
}

// Locker serializes work on a key across goroutines or processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Clock is swapped in tests.
type Clock func() time.Time
