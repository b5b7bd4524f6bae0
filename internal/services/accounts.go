package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promptory/internal/authz"
	"promptory/internal/models"
	"promptory/internal/store"
	"promptory/internal/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RegisterInput struct {
	Email    string `json:"email" form:"email" binding:"required,email,max=254"`
	Password string `json:"password" form:"password" binding:"required,min=8,max=72"`
	Nickname string `json:"nickname" form:"nickname" binding:"max=30"`
}

type LoginInput struct {
	Email    string `json:"email" form:"email" binding:"required,email"`
	Password string `json:"password" form:"password" binding:"required"`
}

type NicknameInput struct {
	Nickname string `json:"nickname" binding:"required,notblank,max=30"`
}

// Session is an issued bearer token.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Me struct {
	UserID   string `json:"id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
	IsAdmin  bool   `json:"isAdmin"`
}

// AccountService is the minimal password identity adapter: it issues opaque
// tokens and resolves them back into identities.
type AccountService struct {
	store    store.Store
	tokenTTL time.Duration
	now      func() time.Time
}

func NewAccountService(st store.Store, tokenTTL time.Duration) *AccountService {
	return &AccountService{store: st, tokenTTL: tokenTTL, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validate(in); err != nil {
		return nil, err
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	nickname := strings.TrimSpace(in.Nickname)
	if nickname == "" {
		nickname = strings.SplitN(in.Email, "@", 2)[0]
		if r := []rune(nickname); len(r) > 30 {
			nickname = string(r[:30])
		}
	}
	p := &models.Profile{
		Email:        in.Email,
		Nickname:     nickname,
		PasswordHash: hash,
		Metadata:     datatypes.JSONMap{},
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return s.issue(ctx, p.UserID)
}

func (s *AccountService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validate(in); err != nil {
		return nil, err
	}
	p, err := s.store.GetProfileByEmail(ctx, in.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if !utils.CheckPasswordHash(in.Password, p.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, p.UserID)
}

func (s *AccountService) issue(ctx context.Context, userID string) (*Session, error) {
	t := &models.AuthToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.tokenTTL),
	}
	if err := s.store.CreateToken(ctx, t); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	return &Session{Token: t.Token, UserID: userID, ExpiresAt: t.ExpiresAt}, nil
}

func (s *AccountService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteToken(ctx, token); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// Resolve turns a bearer token into an identity. Unknown or expired tokens
// resolve to the anonymous identity. The admin flag is read from the profile
// on every call.
func (s *AccountService) Resolve(ctx context.Context, token string) (authz.Identity, error) {
	if token == "" {
		return authz.Identity{}, nil
	}
	t, err := s.store.GetToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return authz.Identity{}, nil
	}
	if err != nil {
		return authz.Identity{}, fmt.Errorf("load token: %w", err)
	}
	if t.Expired(s.now()) {
		_ = s.store.DeleteToken(ctx, token)
		return authz.Identity{}, nil
	}
	p, err := s.store.GetProfile(ctx, t.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return authz.Identity{}, nil
	}
	if err != nil {
		return authz.Identity{}, fmt.Errorf("load profile: %w", err)
	}
	return authz.Identity{UserID: p.UserID, Token: token, Admin: p.IsAdmin()}, nil
}

func (s *AccountService) Me(ctx context.Context, who authz.Identity) (*Me, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return nil, err
	}
	p, err := s.store.GetProfile(ctx, who.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return &Me{UserID: p.UserID, Email: p.Email, Nickname: p.Nickname, IsAdmin: p.IsAdmin()}, nil
}

func (s *AccountService) UpdateNickname(ctx context.Context, who authz.Identity, in NicknameInput) (*Me, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateNickname(ctx, who.UserID, strings.TrimSpace(in.Nickname)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update nickname: %w", err)
	}
	return s.Me(ctx, who)
}

// SetRole writes the role claim into the profile metadata of email. An empty
// role removes the claim. Used by operator tooling, not exposed over rpc.
func (s *AccountService) SetRole(ctx context.Context, email, role string) error {
	p, err := s.store.GetProfileByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	meta := p.Metadata
	if meta == nil {
		meta = datatypes.JSONMap{}
	}
	if role == "" {
		delete(meta, "role")
	} else {
		meta["role"] = role
	}
	if err := s.store.SetProfileMetadata(ctx, p.UserID, meta); err != nil {
		return fmt.Errorf("set profile metadata: %w", err)
	}
	return nil
}
