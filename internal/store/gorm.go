package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promptory/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the Postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---- prompts ----

func (s *GormStore) GetPrompt(ctx context.Context, id string) (*models.Prompt, error) {
	var p models.Prompt
	if err := s.conn(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *GormStore) ListPrompts(ctx context.Context, f PromptFilter) ([]models.Prompt, int64, error) {
	query := s.conn(ctx).Model(&models.Prompt{})
	if f.CategoryID != "" {
		query = query.Where("category_id = ?", f.CategoryID)
	}
	if f.Query != "" {
		query = query.Where("title ILIKE ?", containsPattern(f.Query))
	}
	if f.UserID != "" {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.LikedBy != "" {
		query = query.Where("id IN (?)", s.conn(ctx).Model(&models.Like{}).Select("prompt_id").Where("user_id = ?", f.LikedBy))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count prompts: %w", err)
	}

	var prompts []models.Prompt
	query = query.Order("created_at DESC").Order("id DESC").Offset(f.Offset)
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if err := query.Find(&prompts).Error; err != nil {
		return nil, 0, fmt.Errorf("list prompts: %w", err)
	}
	return prompts, total, nil
}

func (s *GormStore) PromptsByIDs(ctx context.Context, ids []string) ([]models.Prompt, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var prompts []models.Prompt
	err := s.conn(ctx).Where("id IN ?", ids).Find(&prompts).Error
	return prompts, err
}

func (s *GormStore) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	return s.conn(ctx).Create(p).Error
}

func (s *GormStore) UpdatePrompt(ctx context.Context, id string, u PromptUpdate) error {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if u.Title != nil {
		updates["title"] = *u.Title
	}
	if u.Content != nil {
		updates["content"] = *u.Content
	}
	if u.CategoryID != nil {
		updates["category_id"] = nullable(*u.CategoryID)
	}
	res := s.conn(ctx).Model(&models.Prompt{}).Where("id = ?", id).UpdateColumns(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeletePrompt(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(txs Store) error {
		tx := txs.(*GormStore).db

		var collectionIDs []string
		if err := tx.Model(&models.CollectionPrompt{}).Where("prompt_id = ?", id).Pluck("collection_id", &collectionIDs).Error; err != nil {
			return err
		}
		if len(collectionIDs) > 0 {
			if err := tx.Where("prompt_id = ?", id).Delete(&models.CollectionPrompt{}).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Collection{}).Where("id IN ?", collectionIDs).
				UpdateColumn("prompt_count", gorm.Expr("GREATEST(prompt_count - 1, 0)")).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("prompt_id = ?", id).Delete(&models.Like{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Prompt{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ---- categories ----

func (s *GormStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	var cats []models.Category
	err := s.conn(ctx).Order("display_order ASC").Order("name ASC").Find(&cats).Error
	return cats, err
}

func (s *GormStore) CategoryNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string)
	if len(ids) == 0 {
		return names, nil
	}
	var cats []models.Category
	if err := s.conn(ctx).Select("id", "name").Where("id IN ?", ids).Find(&cats).Error; err != nil {
		return nil, err
	}
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	return names, nil
}

func (s *GormStore) EnsureCategory(ctx context.Context, c *models.Category) error {
	return s.conn(ctx).Where(models.Category{Name: c.Name}).
		Assign(models.Category{DisplayOrder: c.DisplayOrder}).
		FirstOrCreate(c).Error
}

func (s *GormStore) ListCollectionCategories(ctx context.Context, activeOnly bool) ([]models.CollectionCategory, error) {
	var cats []models.CollectionCategory
	query := s.conn(ctx).Order("display_order ASC").Order("name ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Find(&cats).Error
	return cats, err
}

func (s *GormStore) CollectionCategoryNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string)
	if len(ids) == 0 {
		return names, nil
	}
	var cats []models.CollectionCategory
	if err := s.conn(ctx).Select("id", "name").Where("id IN ?", ids).Find(&cats).Error; err != nil {
		return nil, err
	}
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	return names, nil
}

func (s *GormStore) EnsureCollectionCategory(ctx context.Context, c *models.CollectionCategory) error {
	return s.conn(ctx).Where(models.CollectionCategory{Name: c.Name}).
		Assign(map[string]interface{}{
			"description":   c.Description,
			"icon_name":     c.IconName,
			"display_order": c.DisplayOrder,
			"is_active":     c.IsActive,
		}).
		FirstOrCreate(c).Error
}

// ---- likes ----

func (s *GormStore) FindLike(ctx context.Context, userID, promptID string) (*models.Like, error) {
	var l models.Like
	if err := s.conn(ctx).Where("user_id = ? AND prompt_id = ?", userID, promptID).First(&l).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *GormStore) CreateLike(ctx context.Context, l *models.Like) error {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(l)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *GormStore) DeleteLike(ctx context.Context, userID, promptID string) (bool, error) {
	res := s.conn(ctx).Where("user_id = ? AND prompt_id = ?", userID, promptID).Delete(&models.Like{})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) PromptLikeCounts(ctx context.Context, promptIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(promptIDs))
	if len(promptIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		PromptID string
		Count    int
	}
	err := s.conn(ctx).Model(&models.Like{}).
		Select("prompt_id, count(*) as count").
		Where("prompt_id IN ?", promptIDs).
		Group("prompt_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.PromptID] = r.Count
	}
	return counts, nil
}

// ---- collections ----

func (s *GormStore) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	var c models.Collection
	if err := s.conn(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *GormStore) GetCollectionForUpdate(ctx context.Context, id string) (*models.Collection, error) {
	var c models.Collection
	err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *GormStore) ListCollections(ctx context.Context, f CollectionFilter) ([]models.Collection, int64, error) {
	query := s.conn(ctx).Model(&models.Collection{})
	if f.CategoryID != "" {
		query = query.Where("category_id = ?", f.CategoryID)
	}
	if f.Query != "" {
		pattern := containsPattern(f.Query)
		if f.MatchDescription {
			query = query.Where("(name ILIKE ? OR description ILIKE ?)", pattern, pattern)
		} else {
			query = query.Where("name ILIKE ?", pattern)
		}
	}
	if f.UserID != "" {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.Public != nil {
		query = query.Where("is_public = ?", *f.Public)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count collections: %w", err)
	}

	sort := f.Sort
	if !ValidCollectionSort(sort) {
		sort = SortCreatedAt
	}
	dir := "DESC"
	if f.Asc {
		dir = "ASC"
	}
	query = query.Order(sort + " " + dir).Order("id " + dir).Offset(f.Offset)
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var collections []models.Collection
	if err := query.Find(&collections).Error; err != nil {
		return nil, 0, fmt.Errorf("list collections: %w", err)
	}
	return collections, total, nil
}

func (s *GormStore) CreateCollection(ctx context.Context, c *models.Collection) error {
	return s.conn(ctx).Create(c).Error
}

func (s *GormStore) UpdateCollection(ctx context.Context, id string, u CollectionUpdate) error {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if u.Name != nil {
		updates["name"] = *u.Name
	}
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.CategoryID != nil {
		updates["category_id"] = nullable(*u.CategoryID)
	}
	if u.IsPublic != nil {
		updates["is_public"] = *u.IsPublic
	}
	if u.IsFeatured != nil {
		updates["is_featured"] = *u.IsFeatured
	}
	res := s.conn(ctx).Model(&models.Collection{}).Where("id = ?", id).UpdateColumns(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteCollection(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(txs Store) error {
		tx := txs.(*GormStore).db
		if err := tx.Where("collection_id = ?", id).Delete(&models.CollectionPrompt{}).Error; err != nil {
			return err
		}
		if err := tx.Where("collection_id = ?", id).Delete(&models.CollectionLike{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Collection{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) SetCollectionViewCount(ctx context.Context, id string, views int) error {
	return s.conn(ctx).Model(&models.Collection{}).Where("id = ?", id).UpdateColumn("view_count", views).Error
}

func (s *GormStore) AdjustCollectionCounters(ctx context.Context, id string, promptDelta, likeDelta int) error {
	res := s.conn(ctx).Model(&models.Collection{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
		"prompt_count": gorm.Expr("GREATEST(prompt_count + ?, 0)", promptDelta),
		"like_count":   gorm.Expr("GREATEST(like_count + ?, 0)", likeDelta),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListCollectionPrompts(ctx context.Context, collectionID string) ([]models.CollectionPrompt, error) {
	var rows []models.CollectionPrompt
	err := s.conn(ctx).Where("collection_id = ?", collectionID).
		Order("order_index ASC").Order("added_at ASC").
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) FindCollectionPrompt(ctx context.Context, collectionID, promptID string) (*models.CollectionPrompt, error) {
	var cp models.CollectionPrompt
	if err := s.conn(ctx).Where("collection_id = ? AND prompt_id = ?", collectionID, promptID).First(&cp).Error; err != nil {
		return nil, notFound(err)
	}
	return &cp, nil
}

func (s *GormStore) AddCollectionPrompt(ctx context.Context, cp *models.CollectionPrompt) error {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(cp)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *GormStore) RemoveCollectionPrompt(ctx context.Context, collectionID, promptID string) (bool, error) {
	res := s.conn(ctx).Where("collection_id = ? AND prompt_id = ?", collectionID, promptID).Delete(&models.CollectionPrompt{})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) FindCollectionLike(ctx context.Context, userID, collectionID string) (*models.CollectionLike, error) {
	var l models.CollectionLike
	if err := s.conn(ctx).Where("user_id = ? AND collection_id = ?", userID, collectionID).First(&l).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *GormStore) CreateCollectionLike(ctx context.Context, l *models.CollectionLike) error {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(l)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *GormStore) DeleteCollectionLike(ctx context.Context, userID, collectionID string) (bool, error) {
	res := s.conn(ctx).Where("user_id = ? AND collection_id = ?", userID, collectionID).Delete(&models.CollectionLike{})
	return res.RowsAffected > 0, res.Error
}

// ---- profiles & tokens ----

func (s *GormStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := s.conn(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *GormStore) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	var p models.Profile
	if err := s.conn(ctx).Where("email = ?", email).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *GormStore) CreateProfile(ctx context.Context, p *models.Profile) error {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *GormStore) UpdateNickname(ctx context.Context, userID, nickname string) error {
	res := s.conn(ctx).Model(&models.Profile{}).Where("user_id = ?", userID).
		UpdateColumns(map[string]interface{}{"nickname": nickname, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SetProfileMetadata(ctx context.Context, userID string, meta datatypes.JSONMap) error {
	res := s.conn(ctx).Model(&models.Profile{}).Where("user_id = ?", userID).
		UpdateColumns(map[string]interface{}{"metadata": meta, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateToken(ctx context.Context, t *models.AuthToken) error {
	return s.conn(ctx).Create(t).Error
}

func (s *GormStore) GetToken(ctx context.Context, token string) (*models.AuthToken, error) {
	var t models.AuthToken
	if err := s.conn(ctx).Where("token = ?", token).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *GormStore) DeleteToken(ctx context.Context, token string) error {
	return s.conn(ctx).Where("token = ?", token).Delete(&models.AuthToken{}).Error
}

func (s *GormStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, item := range []struct {
		model interface{}
		dst   *int64
	}{
		{&models.Prompt{}, &c.Prompts},
		{&models.Collection{}, &c.Collections},
		{&models.Like{}, &c.Likes},
		{&models.Profile{}, &c.Profiles},
	} {
		if err := s.conn(ctx).Model(item.model).Count(item.dst).Error; err != nil {
			return Counts{}, err
		}
	}
	return c, nil
}

func nullable(id string) interface{} {
	if id == "" {
		return nil
	}
	return id
}
