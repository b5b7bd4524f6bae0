package services

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"promptory/internal/authz"
	"promptory/internal/models"
	"promptory/internal/store"
	"promptory/internal/utils"
)

const (
	LikeAdded   = "added"
	LikeRemoved = "removed"

	maxLatestPrompts = 24
)

type PromptListInput struct {
	Category string `json:"category" form:"category" binding:"omitempty,uuid"`
	Q        string `json:"q" form:"q" binding:"max=200"`
	UserID   string `json:"userId" form:"userId" binding:"max=64"`
	Page
}

type PromptList struct {
	Items      []models.Prompt `json:"items"`
	Total      int64           `json:"total"`
	TotalPages int             `json:"totalPages"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
}

type PromptDetail struct {
	models.Prompt
	ContentHTML template.HTML `json:"contentHtml"`
}

type CreatePromptInput struct {
	Title      string `json:"title" form:"title" binding:"required,notblank,max=200"`
	Content    string `json:"content" form:"content" binding:"required,notblank,max=20000"`
	CategoryID string `json:"categoryId" form:"categoryId" binding:"omitempty,uuid"`
}

type UpdatePromptInput struct {
	ID         string  `json:"id" binding:"required,uuid"`
	Title      *string `json:"title" binding:"omitempty,notblank,max=200"`
	Content    *string `json:"content" binding:"omitempty,notblank,max=20000"`
	CategoryID *string `json:"categoryId" binding:"omitempty,max=36"`
}

type IDsInput struct {
	IDs []string `json:"ids" binding:"required,min=1,max=100,dive,uuid"`
}

type LikeResult struct {
	Action    string `json:"action"`
	Liked     bool   `json:"liked"`
	LikeCount int    `json:"likeCount"`
}

type LikeStatus struct {
	IsLiked   bool `json:"isLiked"`
	LikeCount int  `json:"likeCount"`
}

type PromptService struct {
	store  store.Store
	logger *slog.Logger
}

func NewPromptService(st store.Store, logger *slog.Logger) *PromptService {
	return &PromptService{store: st, logger: logger}
}

// decoratePrompts attaches category names and like counts with one keyed
// lookup each for the ids on the page.
func decoratePrompts(ctx context.Context, st store.Store, prompts []models.Prompt) error {
	if len(prompts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(prompts))
	var categoryIDs []string
	for _, p := range prompts {
		ids = append(ids, p.ID)
		if p.CategoryID != nil {
			categoryIDs = append(categoryIDs, *p.CategoryID)
		}
	}

	names, err := st.CategoryNames(ctx, dedupe(categoryIDs))
	if err != nil {
		return fmt.Errorf("load category names: %w", err)
	}
	counts, err := st.PromptLikeCounts(ctx, ids)
	if err != nil {
		return fmt.Errorf("count likes: %w", err)
	}

	for i := range prompts {
		prompts[i].Category = nil
		if prompts[i].CategoryID != nil {
			if name, ok := names[*prompts[i].CategoryID]; ok {
				prompts[i].Category = &name
			}
		}
		prompts[i].LikeCount = counts[prompts[i].ID]
	}
	return nil
}

func (s *PromptService) list(ctx context.Context, f store.PromptFilter, p Page) (*PromptList, error) {
	page, size := p.normalize()
	f.Offset, f.Limit = (page-1)*size, size

	rows, total, err := s.store.ListPrompts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	out := &PromptList{
		Items:      []models.Prompt{},
		Total:      total,
		TotalPages: TotalPages(total, size),
		Page:       page,
		PageSize:   size,
	}
	if len(rows) == 0 {
		return out, nil
	}
	if err := decoratePrompts(ctx, s.store, rows); err != nil {
		return nil, err
	}
	out.Items = rows
	return out, nil
}

// List returns one page of prompts, newest first.
func (s *PromptService) List(ctx context.Context, in PromptListInput) (*PromptList, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	return s.list(ctx, store.PromptFilter{
		CategoryID: in.Category,
		Query:      strings.TrimSpace(in.Q),
		UserID:     in.UserID,
	}, in.Page)
}

func (s *PromptService) Latest(ctx context.Context, limit int) ([]models.Prompt, error) {
	if limit < 1 || limit > maxLatestPrompts {
		return nil, invalid("limit", "must be between 1 and %d", maxLatestPrompts)
	}
	list, err := s.list(ctx, store.PromptFilter{}, Page{Page: 1, PageSize: limit})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// ByUser returns every prompt owned by userID, newest first.
func (s *PromptService) ByUser(ctx context.Context, userID string) ([]models.Prompt, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("userId", "is required")
	}
	return s.all(ctx, store.PromptFilter{UserID: userID})
}

// LikedBy returns every prompt userID has liked, newest first.
func (s *PromptService) LikedBy(ctx context.Context, userID string) ([]models.Prompt, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("userId", "is required")
	}
	return s.all(ctx, store.PromptFilter{LikedBy: userID})
}

func (s *PromptService) all(ctx context.Context, f store.PromptFilter) ([]models.Prompt, error) {
	rows, _, err := s.store.ListPrompts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	if rows == nil {
		rows = []models.Prompt{}
	}
	if err := decoratePrompts(ctx, s.store, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PromptService) Categories(ctx context.Context) ([]models.Category, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if cats == nil {
		cats = []models.Category{}
	}
	return cats, nil
}

// Get returns the prompt with rendered content, or nil when it does not exist.
func (s *PromptService) Get(ctx context.Context, id string) (*PromptDetail, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("id", "is required")
	}
	if !validID(id) {
		return nil, nil
	}
	p, err := s.store.GetPrompt(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	rows := []models.Prompt{*p}
	if err := decoratePrompts(ctx, s.store, rows); err != nil {
		return nil, err
	}
	return &PromptDetail{Prompt: rows[0], ContentHTML: utils.RenderMarkdown(rows[0].Content)}, nil
}

func (s *PromptService) checkCategory(ctx context.Context, categoryID string) error {
	if categoryID == "" {
		return nil
	}
	if !validID(categoryID) {
		return invalid("categoryId", "unknown category")
	}
	names, err := s.store.CategoryNames(ctx, []string{categoryID})
	if err != nil {
		return fmt.Errorf("load category: %w", err)
	}
	if _, ok := names[categoryID]; !ok {
		return invalid("categoryId", "unknown category")
	}
	return nil
}

func (s *PromptService) Create(ctx context.Context, who authz.Identity, in CreatePromptInput) (string, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return "", err
	}
	if err := validate(in); err != nil {
		return "", err
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return "", err
	}

	p := &models.Prompt{
		Title:   strings.TrimSpace(in.Title),
		Content: in.Content,
		UserID:  who.UserID,
	}
	if in.CategoryID != "" {
		p.CategoryID = &in.CategoryID
	}
	if err := s.store.CreatePrompt(ctx, p); err != nil {
		return "", fmt.Errorf("create prompt: %w", err)
	}
	return p.ID, nil
}

// Update changes the caller's own prompt. Ownership is checked against a
// freshly loaded row.
func (s *PromptService) Update(ctx context.Context, who authz.Identity, in UpdatePromptInput) (string, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return "", err
	}
	if err := validate(in); err != nil {
		return "", err
	}
	current, err := s.load(ctx, in.ID)
	if err != nil {
		return "", err
	}
	if err := authz.Require(who, authz.Owner(current.UserID)); err != nil {
		return "", err
	}
	return in.ID, s.apply(ctx, in)
}

func (s *PromptService) apply(ctx context.Context, in UpdatePromptInput) error {
	u := store.PromptUpdate{Content: in.Content, CategoryID: in.CategoryID}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		u.Title = &title
	}
	if in.CategoryID != nil {
		if err := s.checkCategory(ctx, *in.CategoryID); err != nil {
			return err
		}
	}
	if err := s.store.UpdatePrompt(ctx, in.ID, u); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update prompt: %w", err)
	}
	return nil
}

func (s *PromptService) Delete(ctx context.Context, who authz.Identity, id string) (string, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return "", err
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	if err := authz.Require(who, authz.Owner(current.UserID)); err != nil {
		return "", err
	}
	return id, s.remove(ctx, id)
}

func (s *PromptService) load(ctx context.Context, id string) (*models.Prompt, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("id", "is required")
	}
	if !validID(id) {
		return nil, ErrNotFound
	}
	p, err := s.store.GetPrompt(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return p, nil
}

func (s *PromptService) remove(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	if err := s.store.DeletePrompt(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete prompt: %w", err)
	}
	return nil
}

// ToggleLike adds the caller's like if absent and removes it otherwise.
func (s *PromptService) ToggleLike(ctx context.Context, who authz.Identity, promptID string) (*LikeResult, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return nil, err
	}
	if strings.TrimSpace(promptID) == "" {
		return nil, invalid("promptId", "is required")
	}
	if !validID(promptID) {
		return nil, ErrNotFound
	}

	result := &LikeResult{}
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetPrompt(ctx, promptID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		_, err := tx.FindLike(ctx, who.UserID, promptID)
		switch {
		case err == nil:
			if _, err := tx.DeleteLike(ctx, who.UserID, promptID); err != nil {
				return err
			}
			result.Action, result.Liked = LikeRemoved, false
		case errors.Is(err, store.ErrNotFound):
			err := tx.CreateLike(ctx, &models.Like{UserID: who.UserID, PromptID: promptID})
			if err != nil && !errors.Is(err, store.ErrDuplicate) {
				return err
			}
			result.Action, result.Liked = LikeAdded, true
		default:
			return err
		}

		counts, err := tx.PromptLikeCounts(ctx, []string{promptID})
		if err != nil {
			return err
		}
		result.LikeCount = counts[promptID]
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("toggle like: %w", err)
	}
	return result, nil
}

// LikeStatus reports the like count and whether the caller has liked the
// prompt. Anonymous callers always see isLiked false.
func (s *PromptService) LikeStatus(ctx context.Context, who authz.Identity, promptID string) (*LikeStatus, error) {
	if _, err := s.load(ctx, promptID); err != nil {
		return nil, err
	}
	status := &LikeStatus{}
	if who.Authenticated() {
		_, err := s.store.FindLike(ctx, who.UserID, promptID)
		switch {
		case err == nil:
			status.IsLiked = true
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("find like: %w", err)
		}
	}
	counts, err := s.store.PromptLikeCounts(ctx, []string{promptID})
	if err != nil {
		return nil, fmt.Errorf("count likes: %w", err)
	}
	status.LikeCount = counts[promptID]
	return status, nil
}

type AdminPromptListInput struct {
	Q        string `json:"q" form:"q" binding:"max=200"`
	Category string `json:"category" form:"category" binding:"omitempty,uuid"`
	UserID   string `json:"userId" form:"userId" binding:"max=64"`
	Page
}

func (s *PromptService) AdminList(ctx context.Context, who authz.Identity, in AdminPromptListInput) (*PromptList, error) {
	if err := authz.Require(who, authz.AdminPrompts); err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}
	return s.list(ctx, store.PromptFilter{
		CategoryID: in.Category,
		Query:      strings.TrimSpace(in.Q),
		UserID:     in.UserID,
	}, in.Page)
}

// AdminUpdate edits any prompt without the ownership check.
func (s *PromptService) AdminUpdate(ctx context.Context, who authz.Identity, in UpdatePromptInput) (string, error) {
	if err := authz.Require(who, authz.AdminPrompts); err != nil {
		return "", err
	}
	if err := validate(in); err != nil {
		return "", err
	}
	return in.ID, s.apply(ctx, in)
}

func (s *PromptService) AdminDelete(ctx context.Context, who authz.Identity, id string) (string, error) {
	if err := authz.Require(who, authz.AdminPrompts); err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", invalid("id", "is required")
	}
	return id, s.remove(ctx, id)
}

// AdminDeleteMany deletes each id in its own transaction and reports which
// ones failed. It only fails as a whole on authorization or validation.
func (s *PromptService) AdminDeleteMany(ctx context.Context, who authz.Identity, in IDsInput) (*BatchResult, error) {
	if err := authz.Require(who, authz.AdminPrompts); err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}
	result := newBatchResult()
	for _, id := range dedupe(in.IDs) {
		if err := s.remove(ctx, id); err != nil {
			result.Failed = append(result.Failed, BatchFailure{ID: id, Reason: batchReason(err)})
			if !errors.Is(err, ErrNotFound) {
				s.logger.Error("admin delete prompt", "id", id, "error", err)
			}
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

func batchReason(err error) string {
	if errors.Is(err, ErrNotFound) {
		return "not found"
	}
	return "failed to delete"
}
