package booking

import (
	"fmt"
	"time"

	"cabinbook/internal/apperr"
	"cabinbook/internal/interval"
	"cabinbook/internal/model"
)

// SlotUnavailableError is returned when a request cannot take the slot it
// asked for. It carries what the requester could book instead.
type SlotUnavailableError struct {
	CabinID           int64
	Date              time.Time
	Requested         interval.Interval
	Reason            string
	Alternatives      []interval.Interval
	AlternativeCabins []*model.Cabin
}

func (e *SlotUnavailableError) Error() string {
	msg := fmt.Sprintf("cabin %d is not available on %s at %s", e.CabinID, e.Date.Format(model.DateLayout), e.Requested)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *SlotUnavailableError) ErrorKind() apperr.Kind { return apperr.KindSlotUnavailable }

func (e *SlotUnavailableError) Is(target error) bool {
	return target == apperr.ErrSlotUnavailable
}
