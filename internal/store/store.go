// Package store is the data boundary: every read and write the procedures
// perform goes through Store, backed by Postgres (GormStore) or by process
// memory (MemoryStore) for local runs and tests.
package store

import (
	"context"
	"errors"
	"strings"

	"promptory/internal/models"

	"gorm.io/datatypes"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// PromptFilter narrows ListPrompts. Empty fields are ignored; the rest AND together.
type PromptFilter struct {
	CategoryID string
	Query      string
	UserID     string
	// LikedBy restricts results to prompts the given user has liked.
	LikedBy string
	Offset  int
	Limit   int
}

// Collection sort fields accepted by ListCollections.
const (
	SortName        = "name"
	SortCreatedAt   = "created_at"
	SortUserID      = "user_id"
	SortPromptCount = "prompt_count"
	SortViewCount   = "view_count"
	SortLikeCount   = "like_count"
)

var collectionSorts = map[string]bool{
	SortName: true, SortCreatedAt: true, SortUserID: true,
	SortPromptCount: true, SortViewCount: true, SortLikeCount: true,
}

// ValidCollectionSort reports whether field can be used in CollectionFilter.Sort.
func ValidCollectionSort(field string) bool {
	return collectionSorts[field]
}

type CollectionFilter struct {
	CategoryID string
	Query      string
	// MatchDescription extends Query to the description column.
	MatchDescription bool
	UserID           string
	Public           *bool
	Sort             string
	Asc              bool
	Offset           int
	Limit            int
}

// PromptUpdate carries the fields to change. A nil pointer leaves the column
// alone; an empty CategoryID clears the category.
type PromptUpdate struct {
	Title      *string
	Content    *string
	CategoryID *string
}

type CollectionUpdate struct {
	Name        *string
	Description *string
	CategoryID  *string
	IsPublic    *bool
	IsFeatured  *bool
}

// Counts is a row count snapshot used by the admin dashboard.
type Counts struct {
	Prompts     int64 `json:"prompts"`
	Collections int64 `json:"collections"`
	Likes       int64 `json:"likes"`
	Profiles    int64 `json:"profiles"`
}

type Store interface {
	// WithTx runs fn against a transactional view. Returning an error rolls
	// back every write fn made; nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	GetPrompt(ctx context.Context, id string) (*models.Prompt, error)
	ListPrompts(ctx context.Context, f PromptFilter) ([]models.Prompt, int64, error)
	PromptsByIDs(ctx context.Context, ids []string) ([]models.Prompt, error)
	CreatePrompt(ctx context.Context, p *models.Prompt) error
	UpdatePrompt(ctx context.Context, id string, u PromptUpdate) error
	// DeletePrompt also removes the prompt's likes and collection memberships,
	// keeping the affected collections' prompt_count in step.
	DeletePrompt(ctx context.Context, id string) error

	ListCategories(ctx context.Context) ([]models.Category, error)
	CategoryNames(ctx context.Context, ids []string) (map[string]string, error)
	EnsureCategory(ctx context.Context, c *models.Category) error
	ListCollectionCategories(ctx context.Context, activeOnly bool) ([]models.CollectionCategory, error)
	CollectionCategoryNames(ctx context.Context, ids []string) (map[string]string, error)
	EnsureCollectionCategory(ctx context.Context, c *models.CollectionCategory) error

	FindLike(ctx context.Context, userID, promptID string) (*models.Like, error)
	// CreateLike returns ErrDuplicate when the (user, prompt) pair already exists.
	CreateLike(ctx context.Context, l *models.Like) error
	DeleteLike(ctx context.Context, userID, promptID string) (bool, error)
	// PromptLikeCounts counts like rows per prompt id. Ids without likes are absent.
	PromptLikeCounts(ctx context.Context, promptIDs []string) (map[string]int, error)

	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	// GetCollectionForUpdate reads the row and holds it until the surrounding
	// transaction ends, so counter checks cannot interleave.
	GetCollectionForUpdate(ctx context.Context, id string) (*models.Collection, error)
	ListCollections(ctx context.Context, f CollectionFilter) ([]models.Collection, int64, error)
	CreateCollection(ctx context.Context, c *models.Collection) error
	UpdateCollection(ctx context.Context, id string, u CollectionUpdate) error
	DeleteCollection(ctx context.Context, id string) error
	SetCollectionViewCount(ctx context.Context, id string, views int) error
	AdjustCollectionCounters(ctx context.Context, id string, promptDelta, likeDelta int) error

	ListCollectionPrompts(ctx context.Context, collectionID string) ([]models.CollectionPrompt, error)
	FindCollectionPrompt(ctx context.Context, collectionID, promptID string) (*models.CollectionPrompt, error)
	AddCollectionPrompt(ctx context.Context, cp *models.CollectionPrompt) error
	RemoveCollectionPrompt(ctx context.Context, collectionID, promptID string) (bool, error)

	FindCollectionLike(ctx context.Context, userID, collectionID string) (*models.CollectionLike, error)
	CreateCollectionLike(ctx context.Context, l *models.CollectionLike) error
	DeleteCollectionLike(ctx context.Context, userID, collectionID string) (bool, error)

	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error)
	CreateProfile(ctx context.Context, p *models.Profile) error
	UpdateNickname(ctx context.Context, userID, nickname string) error
	SetProfileMetadata(ctx context.Context, userID string, meta datatypes.JSONMap) error

	CreateToken(ctx context.Context, t *models.AuthToken) error
	GetToken(ctx context.Context, token string) (*models.AuthToken, error)
	DeleteToken(ctx context.Context, token string) error

	Counts(ctx context.Context) (Counts, error)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching q anywhere, with LIKE
// metacharacters in q taken literally.
func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}
