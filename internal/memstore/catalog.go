package memstore

import (
	"context"
	"errors"
	"sort"

	"cabinbook/internal/apperr"
	"cabinbook/internal/model"
)

var (
	errTxDone      = errors.New("transaction already finished")
	errDuplicateID = errors.New("duplicate reservation id")
)

func (s *Store) GetCabin(ctx context.Context, id int64) (*model.Cabin, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	c, ok := s.cabins[id]
	if !ok {
		return nil, apperr.NotFound("cabin %d not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListCabins(ctx context.Context) ([]*model.Cabin, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	out := make([]*model.Cabin, 0, len(s.cabins))
	for _, c := range s.cabins {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetRequester(ctx context.Context, id int64) (*model.Requester, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	r, ok := s.requesters[id]
	if !ok {
		return nil, apperr.NotFound("requester %d not found", id)
	}
	cp := *r
	return &cp, nil
}

// PutCabin inserts or replaces a cabin.
func (s *Store) PutCabin(c model.Cabin) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	c.UpdatedAt = s.clock()
	s.cabins[c.ID] = &c
}

// PutRequester inserts or replaces a requester.
func (s *Store) PutRequester(r model.Requester) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	r.UpdatedAt = s.clock()
	s.requesters[r.ID] = &r
}

// SyncCatalog replaces the catalogue with the given set. Cabins and
// requesters missing from it are kept but marked inactive, so existing
// reservations still resolve.
func (s *Store) SyncCatalog(ctx context.Context, cabins []model.Cabin, requesters []model.Requester) error {
	if err := ctx.Err(); err != nil {
		return apperr.Store("sync catalog", err)
	}
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	now := s.clock()

	seenCabins := make(map[int64]bool, len(cabins))
	for _, c := range cabins {
		c.UpdatedAt = now
		s.cabins[c.ID] = &c
		seenCabins[c.ID] = true
	}
	for id, c := range s.cabins {
		if !seenCabins[id] && c.Status != model.CabinInactive {
			c.Status = model.CabinInactive
			c.UpdatedAt = now
		}
	}

	seenRequesters := make(map[int64]bool, len(requesters))
	for _, r := range requesters {
		r.UpdatedAt = now
		s.requesters[r.ID] = &r
		seenRequesters[r.ID] = true
	}
	for id, r := range s.requesters {
		if !seenRequesters[id] && r.Active {
			r.Active = false
			r.UpdatedAt = now
		}
	}
	return nil
}
