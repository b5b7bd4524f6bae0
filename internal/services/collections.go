package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"promptory/internal/authz"
	"promptory/internal/models"
	"promptory/internal/store"
)

type CollectionListInput struct {
	Category string `json:"category" form:"category" binding:"omitempty,uuid"`
	Q        string `json:"q" form:"q" binding:"max=200"`
	UserID   string `json:"userId" form:"userId" binding:"max=64"`
	// OnlyPublic defaults to true. false is honoured only for the caller's
	// own collections or for admins.
	OnlyPublic *bool `json:"onlyPublic" form:"onlyPublic"`
	Page
}

type CollectionList struct {
	Items      []models.Collection `json:"items"`
	Total      int64               `json:"total"`
	TotalPages int                 `json:"totalPages"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
}

type CollectionItem struct {
	models.Prompt
	OrderIndex int       `json:"order_index"`
	AddedAt    time.Time `json:"added_at"`
}

type CollectionDetail struct {
	models.Collection
	Prompts []CollectionItem `json:"prompts"`
}

type CreateCollectionInput struct {
	Name        string   `json:"name" binding:"required,notblank,max=255"`
	Description string   `json:"description" binding:"max=2000"`
	CategoryID  string   `json:"categoryId" binding:"omitempty,uuid"`
	IsPublic    *bool    `json:"isPublic"`
	PromptIDs   []string `json:"promptIds" binding:"max=100,dive,uuid"`
}

type UpdateCollectionInput struct {
	ID          string  `json:"id" binding:"required,uuid"`
	Name        *string `json:"name" binding:"omitempty,notblank,max=255"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
	CategoryID  *string `json:"categoryId" binding:"omitempty,max=36"`
	IsPublic    *bool   `json:"isPublic"`
}

type AdminUpdateCollectionInput struct {
	UpdateCollectionInput
	IsFeatured *bool `json:"isFeatured"`
}

type AddPromptInput struct {
	CollectionID string `json:"collectionId" binding:"required,uuid"`
	PromptID     string `json:"promptId" binding:"required,uuid"`
	OrderIndex   *int   `json:"orderIndex" binding:"omitempty,min=0"`
}

type RemovePromptInput struct {
	CollectionID string `json:"collectionId" binding:"required,uuid"`
	PromptID     string `json:"promptId" binding:"required,uuid"`
}

// AddPromptResult reports Added false when the prompt was already in the collection.
type AddPromptResult struct {
	CollectionID string `json:"collectionId"`
	Added        bool   `json:"added"`
	PromptCount  int    `json:"promptCount"`
}

type RemovePromptResult struct {
	CollectionID string `json:"collectionId"`
	Removed      bool   `json:"removed"`
	PromptCount  int    `json:"promptCount"`
}

type AdminCollectionListInput struct {
	Q          string `json:"q" form:"q" binding:"max=200"`
	Category   string `json:"category" form:"category" binding:"omitempty,uuid"`
	Visibility string `json:"visibility" form:"visibility" binding:"omitempty,oneof=all public private"`
	Sort       string `json:"sort" form:"sort" binding:"omitempty,oneof=name created_at user_id prompt_count view_count like_count"`
	Dir        string `json:"dir" form:"dir" binding:"omitempty,oneof=asc desc"`
	Page
}

type CollectionService struct {
	store  store.Store
	logger *slog.Logger
}

func NewCollectionService(st store.Store, logger *slog.Logger) *CollectionService {
	return &CollectionService{store: st, logger: logger}
}

func (s *CollectionService) attachCategories(ctx context.Context, rows []models.Collection) error {
	var ids []string
	for _, c := range rows {
		if c.CategoryID != nil {
			ids = append(ids, *c.CategoryID)
		}
	}
	names, err := s.store.CollectionCategoryNames(ctx, dedupe(ids))
	if err != nil {
		return fmt.Errorf("load collection categories: %w", err)
	}
	for i := range rows {
		rows[i].Category = nil
		if rows[i].CategoryID != nil {
			if name, ok := names[*rows[i].CategoryID]; ok {
				rows[i].Category = &name
			}
		}
	}
	return nil
}

func (s *CollectionService) list(ctx context.Context, f store.CollectionFilter, p Page) (*CollectionList, error) {
	page, size := p.normalize()
	f.Offset, f.Limit = (page-1)*size, size

	rows, total, err := s.store.ListCollections(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	out := &CollectionList{
		Items:      []models.Collection{},
		Total:      total,
		TotalPages: TotalPages(total, size),
		Page:       page,
		PageSize:   size,
	}
	if len(rows) == 0 {
		return out, nil
	}
	if err := s.attachCategories(ctx, rows); err != nil {
		return nil, err
	}
	out.Items = rows
	return out, nil
}

// List returns one page of collections, newest first. Like counts come from
// the like_count counter.
func (s *CollectionService) List(ctx context.Context, who authz.Identity, in CollectionListInput) (*CollectionList, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	f := store.CollectionFilter{
		CategoryID: in.Category,
		Query:      strings.TrimSpace(in.Q),
		UserID:     in.UserID,
	}
	includePrivate := in.OnlyPublic != nil && !*in.OnlyPublic &&
		(who.Admin || (who.Authenticated() && in.UserID == who.UserID))
	if !includePrivate {
		public := true
		f.Public = &public
	}
	return s.list(ctx, f, in.Page)
}

// Mine returns all of the caller's collections, private ones included.
func (s *CollectionService) Mine(ctx context.Context, who authz.Identity) ([]models.Collection, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return nil, err
	}
	rows, _, err := s.store.ListCollections(ctx, store.CollectionFilter{UserID: who.UserID})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if rows == nil {
		rows = []models.Collection{}
	}
	if err := s.attachCategories(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *CollectionService) Categories(ctx context.Context) ([]models.CollectionCategory, error) {
	cats, err := s.store.ListCollectionCategories(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list collection categories: %w", err)
	}
	if cats == nil {
		cats = []models.CollectionCategory{}
	}
	return cats, nil
}

func canView(who authz.Identity, c *models.Collection) bool {
	return c.IsPublic || who.Admin || (who.Authenticated() && who.UserID == c.UserID)
}

// Get returns the collection with its prompts in order_index order and bumps
// view_count. It returns nil for missing collections and for private ones the
// caller may not see.
func (s *CollectionService) Get(ctx context.Context, who authz.Identity, id string) (*CollectionDetail, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("id", "is required")
	}
	if !validID(id) {
		return nil, nil
	}
	c, err := s.store.GetCollection(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	if !canView(who, c) {
		return nil, nil
	}

	members, err := s.store.ListCollectionPrompts(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list collection prompts: %w", err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.PromptID)
	}
	prompts, err := s.store.PromptsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load collection prompts: %w", err)
	}
	if err := decoratePrompts(ctx, s.store, prompts); err != nil {
		return nil, err
	}
	byID := make(map[string]models.Prompt, len(prompts))
	for _, p := range prompts {
		byID[p.ID] = p
	}

	detail := &CollectionDetail{Prompts: []CollectionItem{}}
	for _, m := range members {
		p, ok := byID[m.PromptID]
		if !ok {
			continue
		}
		detail.Prompts = append(detail.Prompts, CollectionItem{Prompt: p, OrderIndex: m.OrderIndex, AddedAt: m.AddedAt})
	}

	rows := []models.Collection{*c}
	if err := s.attachCategories(ctx, rows); err != nil {
		return nil, err
	}
	detail.Collection = rows[0]

	// Read-then-write: concurrent viewers may under-count.
	detail.ViewCount++
	if err := s.store.SetCollectionViewCount(ctx, c.ID, detail.ViewCount); err != nil {
		s.logger.Warn("bump collection views", "id", c.ID, "error", err)
	}
	return detail, nil
}

func (s *CollectionService) checkCategory(ctx context.Context, categoryID string) error {
	if categoryID == "" {
		return nil
	}
	if !validID(categoryID) {
		return invalid("categoryId", "unknown category")
	}
	names, err := s.store.CollectionCategoryNames(ctx, []string{categoryID})
	if err != nil {
		return fmt.Errorf("load collection category: %w", err)
	}
	if _, ok := names[categoryID]; !ok {
		return invalid("categoryId", "unknown category")
	}
	return nil
}

// Create writes the collection and its initial prompts in one transaction.
// Repeated prompt ids collapse to their first position.
func (s *CollectionService) Create(ctx context.Context, who authz.Identity, in CreateCollectionInput) (string, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return "", err
	}
	if err := validate(in); err != nil {
		return "", err
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return "", err
	}
	promptIDs := dedupe(in.PromptIDs)

	c := &models.Collection{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		UserID:      who.UserID,
		IsPublic:    in.IsPublic == nil || *in.IsPublic,
		PromptCount: len(promptIDs),
	}
	if in.CategoryID != "" {
		c.CategoryID = &in.CategoryID
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if len(promptIDs) > 0 {
			found, err := tx.PromptsByIDs(ctx, promptIDs)
			if err != nil {
				return err
			}
			if len(found) != len(promptIDs) {
				return invalid("promptIds", "unknown prompt")
			}
		}
		if err := tx.CreateCollection(ctx, c); err != nil {
			return err
		}
		for i, pid := range promptIDs {
			if err := tx.AddCollectionPrompt(ctx, &models.CollectionPrompt{
				CollectionID: c.ID,
				PromptID:     pid,
				OrderIndex:   i,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return "", err
		}
		return "", fmt.Errorf("create collection: %w", err)
	}
	return c.ID, nil
}

func (s *CollectionService) load(ctx context.Context, st store.Store, id string) (*models.Collection, error) {
	return s.fetch(ctx, id, st.GetCollection)
}

// lock loads the collection inside tx and holds its row until tx ends.
func (s *CollectionService) lock(ctx context.Context, tx store.Store, id string) (*models.Collection, error) {
	return s.fetch(ctx, id, tx.GetCollectionForUpdate)
}

func (s *CollectionService) fetch(ctx context.Context, id string, get func(context.Context, string) (*models.Collection, error)) (*models.Collection, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("id", "is required")
	}
	if !validID(id) {
		return nil, ErrNotFound
	}
	c, err := get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return c, nil
}

func (s *CollectionService) apply(ctx context.Context, id string, u store.CollectionUpdate) error {
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		u.Name = &name
	}
	if u.CategoryID != nil {
		if err := s.checkCategory(ctx, *u.CategoryID); err != nil {
			return err
		}
	}
	if err := s.store.UpdateCollection(ctx, id, u); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update collection: %w", err)
	}
	return nil
}

func (s *CollectionService) Update(ctx context.Context, who authz.Identity, in UpdateCollectionInput) (string, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return "", err
	}
	if err := validate(in); err != nil {
		return "", err
	}
	current, err := s.load(ctx, s.store, in.ID)
	if err != nil {
		return "", err
	}
	if err := authz.Require(who, authz.Owner(current.UserID)); err != nil {
		return "", err
	}
	return in.ID, s.apply(ctx, in.ID, store.CollectionUpdate{
		Name:        in.Name,
		Description: in.Description,
		CategoryID:  in.CategoryID,
		IsPublic:    in.IsPublic,
	})
}

func (s *CollectionService) Delete(ctx context.Context, who authz.Identity, id string) (string, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return "", err
	}
	current, err := s.load(ctx, s.store, id)
	if err != nil {
		return "", err
	}
	if err := authz.Require(who, authz.Owner(current.UserID)); err != nil {
		return "", err
	}
	return id, s.remove(ctx, id)
}

func (s *CollectionService) remove(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	if err := s.store.DeleteCollection(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// AddPrompt appends a prompt to the caller's collection. Adding a prompt that
// is already present succeeds without change; otherwise a collection holding
// MaxCollectionPrompts prompts rejects the add with ErrCollectionFull.
func (s *CollectionService) AddPrompt(ctx context.Context, who authz.Identity, in AddPromptInput) (*AddPromptResult, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}

	result := &AddPromptResult{CollectionID: in.CollectionID}
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		c, err := s.lock(ctx, tx, in.CollectionID)
		if err != nil {
			return err
		}
		if err := authz.Require(who, authz.Owner(c.UserID)); err != nil {
			return err
		}
		result.PromptCount = c.PromptCount

		if _, err := tx.GetPrompt(ctx, in.PromptID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		_, err = tx.FindCollectionPrompt(ctx, c.ID, in.PromptID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if c.PromptCount >= models.MaxCollectionPrompts {
			return ErrCollectionFull
		}
		order := c.PromptCount
		if in.OrderIndex != nil {
			order = *in.OrderIndex
		}
		err = tx.AddCollectionPrompt(ctx, &models.CollectionPrompt{
			CollectionID: c.ID,
			PromptID:     in.PromptID,
			OrderIndex:   order,
		})
		if errors.Is(err, store.ErrDuplicate) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.AdjustCollectionCounters(ctx, c.ID, 1, 0); err != nil {
			return err
		}
		result.Added = true
		result.PromptCount++
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "add prompt to collection")
	}
	return result, nil
}

func (s *CollectionService) RemovePrompt(ctx context.Context, who authz.Identity, in RemovePromptInput) (*RemovePromptResult, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}

	result := &RemovePromptResult{CollectionID: in.CollectionID}
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		c, err := s.lock(ctx, tx, in.CollectionID)
		if err != nil {
			return err
		}
		if err := authz.Require(who, authz.Owner(c.UserID)); err != nil {
			return err
		}
		result.PromptCount = c.PromptCount

		removed, err := tx.RemoveCollectionPrompt(ctx, c.ID, in.PromptID)
		if err != nil || !removed {
			return err
		}
		if err := tx.AdjustCollectionCounters(ctx, c.ID, -1, 0); err != nil {
			return err
		}
		result.Removed = true
		result.PromptCount = max(result.PromptCount-1, 0)
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "remove prompt from collection")
	}
	return result, nil
}

// ToggleLike flips the caller's like on a visible collection, keeping
// like_count in step within the same transaction.
func (s *CollectionService) ToggleLike(ctx context.Context, who authz.Identity, collectionID string) (*LikeResult, error) {
	if err := authz.Require(who, authz.Authenticated); err != nil {
		return nil, err
	}

	result := &LikeResult{}
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		c, err := s.lock(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if !canView(who, c) {
			return ErrNotFound
		}

		delta := 0
		_, err = tx.FindCollectionLike(ctx, who.UserID, c.ID)
		switch {
		case err == nil:
			removed, err := tx.DeleteCollectionLike(ctx, who.UserID, c.ID)
			if err != nil {
				return err
			}
			if removed {
				delta = -1
			}
			result.Action, result.Liked = LikeRemoved, false
		case errors.Is(err, store.ErrNotFound):
			err := tx.CreateCollectionLike(ctx, &models.CollectionLike{UserID: who.UserID, CollectionID: c.ID})
			switch {
			case err == nil:
				delta = 1
			case !errors.Is(err, store.ErrDuplicate):
				return err
			}
			result.Action, result.Liked = LikeAdded, true
		default:
			return err
		}

		if delta != 0 {
			if err := tx.AdjustCollectionCounters(ctx, c.ID, 0, delta); err != nil {
				return err
			}
		}
		result.LikeCount = max(c.LikeCount+delta, 0)
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "toggle collection like")
	}
	return result, nil
}

func (s *CollectionService) LikeStatus(ctx context.Context, who authz.Identity, collectionID string) (*LikeStatus, error) {
	c, err := s.load(ctx, s.store, collectionID)
	if err != nil {
		return nil, err
	}
	if !canView(who, c) {
		return nil, ErrNotFound
	}
	status := &LikeStatus{LikeCount: c.LikeCount}
	if who.Authenticated() {
		_, err := s.store.FindCollectionLike(ctx, who.UserID, c.ID)
		switch {
		case err == nil:
			status.IsLiked = true
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("find collection like: %w", err)
		}
	}
	return status, nil
}

func (s *CollectionService) AdminList(ctx context.Context, who authz.Identity, in AdminCollectionListInput) (*CollectionList, error) {
	if err := authz.Require(who, authz.AdminCollections); err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}
	f := store.CollectionFilter{
		CategoryID:       in.Category,
		Query:            strings.TrimSpace(in.Q),
		MatchDescription: true,
		Sort:             in.Sort,
		Asc:              in.Dir == "asc",
	}
	switch in.Visibility {
	case "public":
		v := true
		f.Public = &v
	case "private":
		v := false
		f.Public = &v
	}
	return s.list(ctx, f, in.Page)
}

// AdminUpdate edits any collection without the ownership check.
func (s *CollectionService) AdminUpdate(ctx context.Context, who authz.Identity, in AdminUpdateCollectionInput) (string, error) {
	if err := authz.Require(who, authz.AdminCollections); err != nil {
		return "", err
	}
	if err := validate(in); err != nil {
		return "", err
	}
	return in.ID, s.apply(ctx, in.ID, store.CollectionUpdate{
		Name:        in.Name,
		Description: in.Description,
		CategoryID:  in.CategoryID,
		IsPublic:    in.IsPublic,
		IsFeatured:  in.IsFeatured,
	})
}

func (s *CollectionService) AdminDelete(ctx context.Context, who authz.Identity, id string) (string, error) {
	if err := authz.Require(who, authz.AdminCollections); err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", invalid("id", "is required")
	}
	return id, s.remove(ctx, id)
}

func (s *CollectionService) AdminDeleteMany(ctx context.Context, who authz.Identity, in IDsInput) (*BatchResult, error) {
	if err := authz.Require(who, authz.AdminCollections); err != nil {
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
				s.logger.Error("admin delete collection", "id", id, "error", err)
			}
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

// passThrough keeps domain errors intact and wraps backend failures.
func passThrough(err error, op string) error {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCollectionFull),
		errors.Is(err, authz.ErrForbidden), errors.Is(err, authz.ErrUnauthenticated),
		errors.As(err, &verr):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
