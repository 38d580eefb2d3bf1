package model

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"cabinbook/internal/apperr"
	"cabinbook/internal/interval"
)

// DateLayout is the calendar date format used on every boundary.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// Active reports whether the status holds its slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

// AllStatuses in workflow order.
var AllStatuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusCancelled}

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return st, nil
	}
	return "", apperr.Validation("unknown reservation status %q", s)
}

// Priority is totally ordered: NORMAL < HIGH < VIP.
type Priority int

const (
	PriorityNormal Priority = iota + 1
	PriorityHigh
	PriorityVIP
)

var AllPriorities = []Priority{PriorityNormal, PriorityHigh, PriorityVIP}

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityVIP:
		return "VIP"
	}
	return "UNKNOWN"
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NORMAL":
		return PriorityNormal, nil
	case "HIGH":
		return PriorityHigh, nil
	case "VIP":
		return PriorityVIP, nil
	}
	return 0, apperr.Validation("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Category is informational; only emergency affects urgency queries.
type Category string

const (
	CategorySingle    Category = "single"
	CategoryMultiDay  Category = "multi_day"
	CategoryRecurring Category = "recurring"
	CategoryEmergency Category = "emergency"
)

// ParseCategory treats an empty value as single.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CategorySingle, nil
	case CategorySingle, CategoryMultiDay, CategoryRecurring, CategoryEmergency:
		return c, nil
	}
	return "", apperr.Validation("unknown category %q", s)
}

// MaxPurposeLength is counted in characters.
const MaxPurposeLength = 500

type Reservation struct {
	ID              string            `json:"id"`
	RequesterID     int64             `json:"requester_id"`
	CabinID         int64             `json:"cabin_id"`
	Date            time.Time         `json:"date"`
	Interval        interval.Interval `json:"interval"`
	Purpose         string            `json:"purpose"`
	Category        Category          `json:"category"`
	Status          Status            `json:"status"`
	Priority        Priority          `json:"priority"`
	ApprovedBy      *int64            `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time        `json:"approved_at,omitempty"`
	RejectedBy      *int64            `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time        `json:"rejected_at,omitempty"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	CancelledBy     *int64            `json:"cancelled_by,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Version         int64             `json:"version"`
}

// Clone returns a deep copy so stores never share pointers with callers.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	c.ApprovedBy = cloneID(r.ApprovedBy)
	c.ApprovedAt = cloneTime(r.ApprovedAt)
	c.RejectedBy = cloneID(r.RejectedBy)
	c.RejectedAt = cloneTime(r.RejectedAt)
	c.CancelledBy = cloneID(r.CancelledBy)
	c.CancelledAt = cloneTime(r.CancelledAt)
	return &c
}

// MarkApproved stamps the approval and clears any rejection.
func (r *Reservation) MarkApproved(by int64, at time.Time) {
	r.ApprovedBy = &by
	r.ApprovedAt = &at
	r.RejectedBy = nil
	r.RejectedAt = nil
	r.RejectionReason = ""
}

// MarkRejected stamps the rejection and clears any approval.
func (r *Reservation) MarkRejected(by *int64, at time.Time, reason string) {
	r.RejectedBy = cloneID(by)
	r.RejectedAt = &at
	r.RejectionReason = reason
	r.ApprovedBy = nil
	r.ApprovedAt = nil
}

func (r *Reservation) MarkCancelled(by int64, at time.Time) {
	r.CancelledBy = &by
	r.CancelledAt = &at
}

// Key identifies the (cabin, date) pair the reservation competes for.
func (r *Reservation) Key() SlotKey {
	return SlotKey{CabinID: r.CabinID, Date: r.Date}
}

// SlotKey names a cabin on a calendar day.
type SlotKey struct {
	CabinID int64
	Date    time.Time
}

func (k SlotKey) String() string {
	return "cabin:" + strconv.FormatInt(k.CabinID, 10) + ":" + k.Date.Format(DateLayout)
}

// ReservationFilter narrows ListReservations. Zero fields do not filter.
type ReservationFilter struct {
	Statuses    []Status
	Priorities  []Priority
	RequesterID int64
	CabinID     int64
	From        time.Time // inclusive
	To          time.Time // inclusive
}

// Match applies the filter to a single row.
func (f ReservationFilter) Match(r *Reservation) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, r.Priority) {
		return false
	}
	if f.RequesterID != 0 && r.RequesterID != f.RequesterID {
		return false
	}
	if f.CabinID != 0 && r.CabinID != f.CabinID {
		return false
	}
	if !f.From.IsZero() && r.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Date.After(f.To) {
		return false
	}
	return true
}

// ParseDate reads YYYY-MM-DD as a UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Validation("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// DateOf truncates t to its calendar day in UTC, keeping the wall date of t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cloneID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
