package services

import (
	"context"
	"fmt"

	"promptory/internal/authz"
	"promptory/internal/store"
)

type AdminService struct {
	store store.Store
}

func NewAdminService(st store.Store) *AdminService {
	return &AdminService{store: st}
}

// Counts returns table sizes for the admin dashboard.
func (s *AdminService) Counts(ctx context.Context, who authz.Identity) (store.Counts, error) {
	if err := authz.Require(who, authz.AdminPrompts); err != nil {
		return store.Counts{}, err
	}
	c, err := s.store.Counts(ctx)
	if err != nil {
		return store.Counts{}, fmt.Errorf("count rows: %w", err)
	}
	return c, nil
}
