package model

import (
	"strings"
	"time"

	"cabinbook/internal/apperr"
)

type AccessClass string

const (
	AccessGeneral    AccessClass = "general"
	AccessRestricted AccessClass = "restricted"
)

func ParseAccessClass(s string) (AccessClass, error) {
	switch a := AccessClass(strings.ToLower(strings.TrimSpace(s))); a {
	case AccessGeneral, AccessRestricted:
		return a, nil
	}
	return "", apperr.Validation("unknown access class %q", s)
}

type CabinStatus string

const (
	CabinActive      CabinStatus = "active"
	CabinMaintenance CabinStatus = "maintenance"
	CabinInactive    CabinStatus = "inactive"
)

func ParseCabinStatus(s string) (CabinStatus, error) {
	switch st := CabinStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case CabinActive, CabinMaintenance, CabinInactive:
		return st, nil
	}
	return "", apperr.Validation("unknown cabin status %q", s)
}

type Cabin struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Capacity  int         `json:"capacity"`
	Access    AccessClass `json:"access"`
	Status    CabinStatus `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (c *Cabin) IsActive() bool { return c.Status == CabinActive }

type Privilege string

const (
	PrivilegeNormal     Privilege = "normal"
	PrivilegeVIP        Privilege = "vip"
	PrivilegeAdmin      Privilege = "admin"
	PrivilegeSuperAdmin Privilege = "super_admin"
)

func ParsePrivilege(s string) (Privilege, error) {
	switch p := Privilege(strings.ToLower(strings.TrimSpace(s))); p {
	case PrivilegeNormal, PrivilegeVIP, PrivilegeAdmin, PrivilegeSuperAdmin:
		return p, nil
	}
	return "", apperr.Validation("unknown privilege %q", s)
}

// IsAdmin covers both administrator classes.
func (p Privilege) IsAdmin() bool {
	return p == PrivilegeAdmin || p == PrivilegeSuperAdmin
}

type Requester struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Privilege Privilege `json:"privilege"`
	Active    bool      `json:"active"`
	ChatID    int64     `json:"chat_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActionKind names an entry in the reservation action log.
type ActionKind string

const (
	ActionCreated     ActionKind = "created"
	ActionApproved    ActionKind = "approved"
	ActionRejected    ActionKind = "rejected"
	ActionCancelled   ActionKind = "cancelled"
	ActionReassigned  ActionKind = "reassigned"
	ActionReallocated ActionKind = "reallocated"
	ActionDisplaced   ActionKind = "displaced"
	ActionAssigned    ActionKind = "assigned"
	ActionOverride    ActionKind = "override"
)

// Action is one audited change to a reservation.
type Action struct {
	ID            int64      `json:"id"`
	ReservationID string     `json:"reservation_id"`
	Kind          ActionKind `json:"action"`
	ActorID       int64      `json:"actor_id"`
	Reason        string     `json:"reason,omitempty"`
	OldCabinID    int64      `json:"old_cabin_id,omitempty"`
	NewCabinID    int64      `json:"new_cabin_id,omitempty"`
	At            time.Time  `json:"at"`
}
