// Package access decides who may book which cabin and who may administer reservations.
package access

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"cabinbook/internal/apperr"
	"cabinbook/internal/domain"
	"cabinbook/internal/model"
)

// PriorityFor derives the immutable reservation priority from a privilege class.
func PriorityFor(p model.Privilege) model.Priority {
	switch p {
	case model.PrivilegeVIP:
		return model.PriorityVIP
	case model.PrivilegeAdmin, model.PrivilegeSuperAdmin:
		return model.PriorityHigh
	default:
		return model.PriorityNormal
	}
}

// CanUseCabin reports whether the privilege class may book the cabin.
// Restricted cabins are open to VIPs and administrators.
func CanUseCabin(p model.Privilege, c *model.Cabin) bool {
	if c == nil {
		return false
	}
	if c.Access == model.AccessRestricted {
		return p == model.PrivilegeVIP || p.IsAdmin()
	}
	return true
}

// Service resolves requesters and cabins against the access policy.
type Service struct {
	directory domain.Directory
	catalog   domain.Catalog
	logger    zerolog.Logger
}

// NewService creates a new access control service.
func NewService(directory domain.Directory, catalog domain.Catalog, logger zerolog.Logger) *Service {
	return &Service{
		directory: directory,
		catalog:   catalog,
		logger:    logger.With().Str("component", "access").Logger(),
	}
}

// Requester returns an active requester.
func (s *Service) Requester(ctx context.Context, id int64) (*model.Requester, error) {
	req, err := s.directory.GetRequester(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get requester %d: %w", id, err)
	}
	if !req.Active {
		s.logger.Debug().Int64("requester_id", id).Msg("inactive requester refused")
		return nil, &AccessDeniedError{Reason: fmt.Sprintf("requester %d is not active", id)}
	}
	return req, nil
}

// RequireAdmin returns the requester if it holds an administrator class.
func (s *Service) RequireAdmin(ctx context.Context, id int64) (*model.Requester, error) {
	req, err := s.Requester(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Privilege.IsAdmin() {
		s.logger.Info().Int64("requester_id", id).Str("privilege", string(req.Privilege)).Msg("admin action refused")
		return nil, &AccessDeniedError{Reason: fmt.Sprintf("requester %d is not an administrator", id)}
	}
	return req, nil
}

// Cabin returns the cabin if the privilege class may book it, whatever its
// operational status.
func (s *Service) Cabin(ctx context.Context, id int64, p model.Privilege) (*model.Cabin, error) {
	cabin, err := s.catalog.GetCabin(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cabin %d: %w", id, err)
	}
	if !CanUseCabin(p, cabin) {
		return nil, &AccessDeniedError{Reason: fmt.Sprintf("cabin %d is restricted", id)}
	}
	return cabin, nil
}

// AccessibleCabins lists ACTIVE cabins the privilege class may book, by id.
func (s *Service) AccessibleCabins(ctx context.Context, p model.Privilege) ([]*model.Cabin, error) {
	return ListAccessibleCabins(ctx, s.catalog, p)
}

// ListAccessibleCabins is AccessibleCabins for callers holding only a catalog.
func ListAccessibleCabins(ctx context.Context, catalog domain.Catalog, p model.Privilege) ([]*model.Cabin, error) {
	cabins, err := catalog.ListCabins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cabins: %w", err)
	}
	var out []*model.Cabin
	for _, c := range cabins {
		if c.IsActive() && CanUseCabin(p, c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AccessDeniedError is returned when a requester lacks the needed privilege.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return e.Reason
}

func (e *AccessDeniedError) ErrorKind() apperr.Kind { return apperr.KindAccessDenied }

// Is lets errors.Is(err, apperr.ErrAccessDenied) match.
func (e *AccessDeniedError) Is(target error) bool {
	return target == apperr.ErrAccessDenied
}

// IsAccessDenied checks if error is access denied.
func IsAccessDenied(err error) bool {
	return apperr.KindOf(err) == apperr.KindAccessDenied
}
