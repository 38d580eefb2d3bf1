package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabinbook/internal/apperr"
	"cabinbook/internal/interval"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestParseEnumsFailLoudly(t *testing.T) {
	st, err := ParseStatus("approved")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, st)

	_, err = ParseStatus("WAITING")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	p, err := ParsePriority("vip")
	require.NoError(t, err)
	assert.Equal(t, PriorityVIP, p)

	_, err = ParsePriority("URGENT")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	c, err := ParseCategory("")
	require.NoError(t, err)
	assert.Equal(t, CategorySingle, c)

	_, err = ParseCategory("weekly")
	assert.Error(t, err)

	_, err = ParsePrivilege("root")
	assert.Error(t, err)

	_, err = ParseCabinStatus("closed")
	assert.Error(t, err)

	_, err = ParseAccessClass("vip_only")
	assert.Error(t, err)
}

func TestPriorityOrder(t *testing.T) {
	assert.Less(t, PriorityNormal, PriorityHigh)
	assert.Less(t, PriorityHigh, PriorityVIP)
	assert.Equal(t, "HIGH", PriorityHigh.String())
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusApproved.Active())
	assert.False(t, StatusRejected.Active())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusApproved.Terminal())
}

func TestReservation_MarkApprovedAndRejectedAreExclusive(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := &Reservation{ID: "r1", Status: StatusPending}

	r.MarkApproved(7, now)
	require.NotNil(t, r.ApprovedBy)
	assert.Nil(t, r.RejectedBy)

	admin := int64(9)
	r.MarkRejected(&admin, now, "displaced")
	assert.Nil(t, r.ApprovedBy)
	assert.Nil(t, r.ApprovedAt)
	require.NotNil(t, r.RejectedBy)
	assert.Equal(t, int64(9), *r.RejectedBy)
	assert.Equal(t, "displaced", r.RejectionReason)
}

func TestReservation_CloneIsDeep(t *testing.T) {
	now := time.Now()
	r := &Reservation{ID: "r1"}
	r.MarkApproved(3, now)

	c := r.Clone()
	*c.ApprovedBy = 4

	assert.Equal(t, int64(3), *r.ApprovedBy)
	assert.Nil(t, (*Reservation)(nil).Clone())
}

func TestReservationFilter_Match(t *testing.T) {
	r := &Reservation{
		RequesterID: 5,
		CabinID:     2,
		Date:        date(2026, 3, 10),
		Interval:    interval.Interval{Start: 600, End: 660},
		Status:      StatusPending,
		Priority:    PriorityHigh,
	}

	tests := []struct {
		name   string
		filter ReservationFilter
		want   bool
	}{
		{"empty", ReservationFilter{}, true},
		{"status hit", ReservationFilter{Statuses: []Status{StatusPending}}, true},
		{"status miss", ReservationFilter{Statuses: []Status{StatusApproved}}, false},
		{"priority", ReservationFilter{Priorities: []Priority{PriorityHigh, PriorityVIP}}, true},
		{"requester miss", ReservationFilter{RequesterID: 6}, false},
		{"cabin", ReservationFilter{CabinID: 2}, true},
		{"range inclusive", ReservationFilter{From: date(2026, 3, 10), To: date(2026, 3, 10)}, true},
		{"range before", ReservationFilter{To: date(2026, 3, 9)}, false},
		{"range after", ReservationFilter{From: date(2026, 3, 11)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(r))
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, date(2026, 3, 10), d)

	_, err = ParseDate("10.03.2026")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	assert.Equal(t, date(2026, 3, 10), DateOf(time.Date(2026, 3, 10, 17, 4, 0, 0, time.UTC)))
	assert.Equal(t, "cabin:2:2026-03-10", SlotKey{CabinID: 2, Date: date(2026, 3, 10)}.String())
}
