// Package services implements the procedures: list and detail queries,
// owner-checked mutations, like toggles and the admin operations.
package services

import (
	"log/slog"
	"time"

	"promptory/internal/store"
)

type Options struct {
	TokenTTL time.Duration
	Logger   *slog.Logger
}

type Services struct {
	Prompts     *PromptService
	Collections *CollectionService
	Accounts    *AccountService
	Admin       *AdminService
}

func New(st store.Store, opts Options) *Services {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * 24 * time.Hour
	}
	return &Services{
		Prompts:     NewPromptService(st, opts.Logger),
		Collections: NewCollectionService(st, opts.Logger),
		Accounts:    NewAccountService(st, opts.TokenTTL),
		Admin:       NewAdminService(st),
	}
}
