package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"promptory/internal/models"
	"promptory/internal/realtime"

	"gorm.io/datatypes"
)

// Publisher receives the change events a MemoryStore commits, standing in for
// the Postgres change triggers.
type Publisher interface {
	Publish(ev realtime.Event)
}

type memData struct {
	prompts              map[string]models.Prompt
	categories           map[string]models.Category
	collectionCategories map[string]models.CollectionCategory
	collections          map[string]models.Collection
	collectionPrompts    map[string]models.CollectionPrompt
	likes                map[string]models.Like
	collectionLikes      map[string]models.CollectionLike
	profiles             map[string]models.Profile
	tokens               map[string]models.AuthToken
}

func newMemData() *memData {
	return &memData{
		prompts:              map[string]models.Prompt{},
		categories:           map[string]models.Category{},
		collectionCategories: map[string]models.CollectionCategory{},
		collections:          map[string]models.Collection{},
		collectionPrompts:    map[string]models.CollectionPrompt{},
		likes:                map[string]models.Like{},
		collectionLikes:      map[string]models.CollectionLike{},
		profiles:             map[string]models.Profile{},
		tokens:               map[string]models.AuthToken{},
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *memData) clone() *memData {
	return &memData{
		prompts:              cloneMap(d.prompts),
		categories:           cloneMap(d.categories),
		collectionCategories: cloneMap(d.collectionCategories),
		collections:          cloneMap(d.collections),
		collectionPrompts:    cloneMap(d.collectionPrompts),
		likes:                cloneMap(d.likes),
		collectionLikes:      cloneMap(d.collectionLikes),
		profiles:             cloneMap(d.profiles),
		tokens:               cloneMap(d.tokens),
	}
}

type memState struct {
	// writeMu serializes writers; a transaction holds it until commit.
	writeMu sync.Mutex
	mu      sync.RWMutex
	data    *memData
	last    time.Time
	pub     Publisher

	faultMu sync.Mutex
	faults  map[string]error
}

// now returns a strictly increasing timestamp so creation order is total.
// Callers hold writeMu.
func (st *memState) now() time.Time {
	t := time.Now()
	if !t.After(st.last) {
		t = st.last.Add(time.Microsecond)
	}
	st.last = t
	return t
}

func (st *memState) fault(op string) error {
	st.faultMu.Lock()
	defer st.faultMu.Unlock()
	return st.faults[op]
}

func (st *memState) publish(events []realtime.Event) {
	if st.pub == nil {
		return
	}
	for _, ev := range events {
		st.pub.Publish(ev)
	}
}

type memTx struct {
	data   *memData
	events []realtime.Event
}

// MemoryStore keeps every table in process memory. Transactions work on a
// private copy that replaces the shared data on commit.
type MemoryStore struct {
	state *memState
	tx    *memTx
}

func NewMemoryStore(pub Publisher) *MemoryStore {
	return &MemoryStore{state: &memState{
		data:   newMemData(),
		pub:    pub,
		faults: map[string]error{},
	}}
}

// SetFault makes every call of the named method fail with err until cleared
// with a nil err.
func (s *MemoryStore) SetFault(op string, err error) {
	s.state.faultMu.Lock()
	defer s.state.faultMu.Unlock()
	if err == nil {
		delete(s.state.faults, op)
		return
	}
	s.state.faults[op] = err
}

func (s *MemoryStore) read(ctx context.Context, op string, fn func(d *memData) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.state.fault(op); err != nil {
		return err
	}
	if s.tx != nil {
		return fn(s.tx.data)
	}
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	return fn(s.state.data)
}

type emitFunc func(ev realtime.Event)

func (s *MemoryStore) write(ctx context.Context, op string, fn func(d *memData, emit emitFunc) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.state.fault(op); err != nil {
		return err
	}
	if s.tx != nil {
		return fn(s.tx.data, func(ev realtime.Event) { s.tx.events = append(s.tx.events, ev) })
	}

	st := s.state
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	var events []realtime.Event
	st.mu.Lock()
	err := fn(st.data, func(ev realtime.Event) { events = append(events, ev) })
	st.mu.Unlock()
	if err != nil {
		return err
	}
	st.publish(events)
	return nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	st := s.state
	st.writeMu.Lock()
	committed := false
	defer func() {
		if !committed {
			st.writeMu.Unlock()
		}
	}()

	st.mu.RLock()
	view := &MemoryStore{state: st, tx: &memTx{data: st.data.clone()}}
	st.mu.RUnlock()

	if err := fn(view); err != nil {
		return err
	}

	st.mu.Lock()
	st.data = view.tx.data
	st.mu.Unlock()
	committed = true
	st.writeMu.Unlock()

	st.publish(view.tx.events)
	return nil
}

func containsFold(s, q string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(q))
}

func window[T any](rows []T, offset, limit int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	if offset < 0 {
		offset = 0
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}

func copyMeta(m datatypes.JSONMap) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ---- prompts ----

func (s *MemoryStore) GetPrompt(ctx context.Context, id string) (*models.Prompt, error) {
	var out *models.Prompt
	err := s.read(ctx, "GetPrompt", func(d *memData) error {
		p, ok := d.prompts[id]
		if !ok {
			return ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (s *MemoryStore) ListPrompts(ctx context.Context, f PromptFilter) ([]models.Prompt, int64, error) {
	var out []models.Prompt
	var total int64
	err := s.read(ctx, "ListPrompts", func(d *memData) error {
		var liked map[string]bool
		if f.LikedBy != "" {
			liked = map[string]bool{}
			for _, l := range d.likes {
				if l.UserID == f.LikedBy {
					liked[l.PromptID] = true
				}
			}
		}
		var rows []models.Prompt
		for _, p := range d.prompts {
			if f.CategoryID != "" && (p.CategoryID == nil || *p.CategoryID != f.CategoryID) {
				continue
			}
			if f.Query != "" && !containsFold(p.Title, f.Query) {
				continue
			}
			if f.UserID != "" && p.UserID != f.UserID {
				continue
			}
			if liked != nil && !liked[p.ID] {
				continue
			}
			rows = append(rows, p)
		}
		sort.Slice(rows, func(i, j int) bool {
			if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
				return rows[i].CreatedAt.After(rows[j].CreatedAt)
			}
			return rows[i].ID > rows[j].ID
		})
		total = int64(len(rows))
		out = window(rows, f.Offset, f.Limit)
		return nil
	})
	return out, total, err
}

func (s *MemoryStore) PromptsByIDs(ctx context.Context, ids []string) ([]models.Prompt, error) {
	var out []models.Prompt
	err := s.read(ctx, "PromptsByIDs", func(d *memData) error {
		for _, id := range ids {
			if p, ok := d.prompts[id]; ok {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

func (s *MemoryStore) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	return s.write(ctx, "CreatePrompt", func(d *memData, emit emitFunc) error {
		if p.ID == "" {
			p.ID = models.NewID()
		}
		if _, ok := d.prompts[p.ID]; ok {
			return ErrDuplicate
		}
		now := s.state.now()
		p.CreatedAt, p.UpdatedAt = now, now
		d.prompts[p.ID] = *p
		emit(realtime.Event{Table: realtime.TablePrompts, Type: realtime.Insert, RecordID: p.ID, UserID: p.UserID, Title: p.Title})
		return nil
	})
}

func (s *MemoryStore) UpdatePrompt(ctx context.Context, id string, u PromptUpdate) error {
	return s.write(ctx, "UpdatePrompt", func(d *memData, emit emitFunc) error {
		p, ok := d.prompts[id]
		if !ok {
			return ErrNotFound
		}
		if u.Title != nil {
			p.Title = *u.Title
		}
		if u.Content != nil {
			p.Content = *u.Content
		}
		if u.CategoryID != nil {
			p.CategoryID = optionalID(*u.CategoryID)
		}
		p.UpdatedAt = s.state.now()
		d.prompts[id] = p
		emit(realtime.Event{Table: realtime.TablePrompts, Type: realtime.Update, RecordID: p.ID, UserID: p.UserID, Title: p.Title})
		return nil
	})
}

func (s *MemoryStore) DeletePrompt(ctx context.Context, id string) error {
	return s.write(ctx, "DeletePrompt", func(d *memData, emit emitFunc) error {
		p, ok := d.prompts[id]
		if !ok {
			return ErrNotFound
		}
		for key, cp := range d.collectionPrompts {
			if cp.PromptID != id {
				continue
			}
			delete(d.collectionPrompts, key)
			if c, ok := d.collections[cp.CollectionID]; ok && c.PromptCount > 0 {
				c.PromptCount--
				d.collections[c.ID] = c
			}
			emit(realtime.Event{Table: realtime.TableCollectionPrompts, Type: realtime.Delete, RecordID: cp.CollectionID})
		}
		for key, l := range d.likes {
			if l.PromptID == id {
				delete(d.likes, key)
				emit(realtime.Event{Table: realtime.TableLikes, Type: realtime.Delete, RecordID: id, UserID: l.UserID})
			}
		}
		delete(d.prompts, id)
		emit(realtime.Event{Table: realtime.TablePrompts, Type: realtime.Delete, RecordID: id, UserID: p.UserID, Title: p.Title})
		return nil
	})
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// ---- categories ----

func (s *MemoryStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	var out []models.Category
	err := s.read(ctx, "ListCategories", func(d *memData) error {
		for _, c := range d.categories {
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].DisplayOrder != out[j].DisplayOrder {
				return out[i].DisplayOrder < out[j].DisplayOrder
			}
			return out[i].Name < out[j].Name
		})
		return nil
	})
	return out, err
}

func (s *MemoryStore) CategoryNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string)
	err := s.read(ctx, "CategoryNames", func(d *memData) error {
		for _, id := range ids {
			if c, ok := d.categories[id]; ok {
				names[id] = c.Name
			}
		}
		return nil
	})
	return names, err
}

func (s *MemoryStore) EnsureCategory(ctx context.Context, c *models.Category) error {
	return s.write(ctx, "EnsureCategory", func(d *memData, _ emitFunc) error {
		for _, existing := range d.categories {
			if existing.Name == c.Name {
				existing.DisplayOrder = c.DisplayOrder
				d.categories[existing.ID] = existing
				*c = existing
				return nil
			}
		}
		if c.ID == "" {
			c.ID = models.NewID()
		}
		c.CreatedAt = s.state.now()
		d.categories[c.ID] = *c
		return nil
	})
}

func (s *MemoryStore) ListCollectionCategories(ctx context.Context, activeOnly bool) ([]models.CollectionCategory, error) {
	var out []models.CollectionCategory
	err := s.read(ctx, "ListCollectionCategories", func(d *memData) error {
		for _, c := range d.collectionCategories {
			if activeOnly && !c.IsActive {
				continue
			}
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].DisplayOrder != out[j].DisplayOrder {
				return out[i].DisplayOrder < out[j].DisplayOrder
			}
			return out[i].Name < out[j].Name
		})
		return nil
	})
	return out, err
}

func (s *MemoryStore) CollectionCategoryNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string)
	err := s.read(ctx, "CollectionCategoryNames", func(d *memData) error {
		for _, id := range ids {
			if c, ok := d.collectionCategories[id]; ok {
				names[id] = c.Name
			}
		}
		return nil
	})
	return names, err
}

func (s *MemoryStore) EnsureCollectionCategory(ctx context.Context, c *models.CollectionCategory) error {
	return s.write(ctx, "EnsureCollectionCategory", func(d *memData, _ emitFunc) error {
		now := s.state.now()
		for _, existing := range d.collectionCategories {
			if existing.Name == c.Name {
				c.ID, c.CreatedAt, c.UpdatedAt = existing.ID, existing.CreatedAt, now
				d.collectionCategories[c.ID] = *c
				return nil
			}
		}
		if c.ID == "" {
			c.ID = models.NewID()
		}
		c.CreatedAt, c.UpdatedAt = now, now
		d.collectionCategories[c.ID] = *c
		return nil
	})
}

// ---- likes ----

func likeKey(userID, targetID string) string {
	return userID + "|" + targetID
}

func (s *MemoryStore) FindLike(ctx context.Context, userID, promptID string) (*models.Like, error) {
	var out *models.Like
	err := s.read(ctx, "FindLike", func(d *memData) error {
		l, ok := d.likes[likeKey(userID, promptID)]
		if !ok {
			return ErrNotFound
		}
		out = &l
		return nil
	})
	return out, err
}

func (s *MemoryStore) CreateLike(ctx context.Context, l *models.Like) error {
	return s.write(ctx, "CreateLike", func(d *memData, emit emitFunc) error {
		key := likeKey(l.UserID, l.PromptID)
		if _, ok := d.likes[key]; ok {
			return ErrDuplicate
		}
		if l.ID == "" {
			l.ID = models.NewID()
		}
		l.CreatedAt = s.state.now()
		d.likes[key] = *l
		emit(realtime.Event{Table: realtime.TableLikes, Type: realtime.Insert, RecordID: l.PromptID, UserID: l.UserID})
		return nil
	})
}

func (s *MemoryStore) DeleteLike(ctx context.Context, userID, promptID string) (bool, error) {
	var removed bool
	err := s.write(ctx, "DeleteLike", func(d *memData, emit emitFunc) error {
		key := likeKey(userID, promptID)
		if _, ok := d.likes[key]; !ok {
			return nil
		}
		delete(d.likes, key)
		removed = true
		emit(realtime.Event{Table: realtime.TableLikes, Type: realtime.Delete, RecordID: promptID, UserID: userID})
		return nil
	})
	return removed, err
}

func (s *MemoryStore) PromptLikeCounts(ctx context.Context, promptIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(promptIDs))
	err := s.read(ctx, "PromptLikeCounts", func(d *memData) error {
		wanted := make(map[string]bool, len(promptIDs))
		for _, id := range promptIDs {
			wanted[id] = true
		}
		for _, l := range d.likes {
			if wanted[l.PromptID] {
				counts[l.PromptID]++
			}
		}
		return nil
	})
	return counts, err
}

// ---- collections ----

func (s *MemoryStore) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	var out *models.Collection
	err := s.read(ctx, "GetCollection", func(d *memData) error {
		c, ok := d.collections[id]
		if !ok {
			return ErrNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

// GetCollectionForUpdate needs no row lock here: transactions already run one
// at a time.
func (s *MemoryStore) GetCollectionForUpdate(ctx context.Context, id string) (*models.Collection, error) {
	var out *models.Collection
	err := s.read(ctx, "GetCollectionForUpdate", func(d *memData) error {
		c, ok := d.collections[id]
		if !ok {
			return ErrNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func collectionLess(a, b models.Collection, field string) int {
	switch field {
	case SortName:
		return strings.Compare(a.Name, b.Name)
	case SortUserID:
		return strings.Compare(a.UserID, b.UserID)
	case SortPromptCount:
		return a.PromptCount - b.PromptCount
	case SortViewCount:
		return a.ViewCount - b.ViewCount
	case SortLikeCount:
		return a.LikeCount - b.LikeCount
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (s *MemoryStore) ListCollections(ctx context.Context, f CollectionFilter) ([]models.Collection, int64, error) {
	var out []models.Collection
	var total int64
	err := s.read(ctx, "ListCollections", func(d *memData) error {
		var rows []models.Collection
		for _, c := range d.collections {
			if f.CategoryID != "" && (c.CategoryID == nil || *c.CategoryID != f.CategoryID) {
				continue
			}
			if f.Query != "" && !containsFold(c.Name, f.Query) &&
				!(f.MatchDescription && containsFold(c.Description, f.Query)) {
				continue
			}
			if f.UserID != "" && c.UserID != f.UserID {
				continue
			}
			if f.Public != nil && c.IsPublic != *f.Public {
				continue
			}
			rows = append(rows, c)
		}
		sort.Slice(rows, func(i, j int) bool {
			cmp := collectionLess(rows[i], rows[j], f.Sort)
			if cmp == 0 {
				cmp = strings.Compare(rows[i].ID, rows[j].ID)
			}
			if f.Asc {
				return cmp < 0
			}
			return cmp > 0
		})
		total = int64(len(rows))
		out = window(rows, f.Offset, f.Limit)
		return nil
	})
	return out, total, err
}

func (s *MemoryStore) CreateCollection(ctx context.Context, c *models.Collection) error {
	return s.write(ctx, "CreateCollection", func(d *memData, emit emitFunc) error {
		if c.ID == "" {
			c.ID = models.NewID()
		}
		if _, ok := d.collections[c.ID]; ok {
			return ErrDuplicate
		}
		now := s.state.now()
		c.CreatedAt, c.UpdatedAt = now, now
		d.collections[c.ID] = *c
		emit(realtime.Event{Table: realtime.TableCollections, Type: realtime.Insert, RecordID: c.ID, UserID: c.UserID, Title: c.Name})
		return nil
	})
}

func (s *MemoryStore) UpdateCollection(ctx context.Context, id string, u CollectionUpdate) error {
	return s.write(ctx, "UpdateCollection", func(d *memData, emit emitFunc) error {
		c, ok := d.collections[id]
		if !ok {
			return ErrNotFound
		}
		if u.Name != nil {
			c.Name = *u.Name
		}
		if u.Description != nil {
			c.Description = *u.Description
		}
		if u.CategoryID != nil {
			c.CategoryID = optionalID(*u.CategoryID)
		}
		if u.IsPublic != nil {
			c.IsPublic = *u.IsPublic
		}
		if u.IsFeatured != nil {
			c.IsFeatured = *u.IsFeatured
		}
		c.UpdatedAt = s.state.now()
		d.collections[id] = c
		emit(realtime.Event{Table: realtime.TableCollections, Type: realtime.Update, RecordID: id, UserID: c.UserID, Title: c.Name})
		return nil
	})
}

func (s *MemoryStore) DeleteCollection(ctx context.Context, id string) error {
	return s.write(ctx, "DeleteCollection", func(d *memData, emit emitFunc) error {
		c, ok := d.collections[id]
		if !ok {
			return ErrNotFound
		}
		for key, cp := range d.collectionPrompts {
			if cp.CollectionID == id {
				delete(d.collectionPrompts, key)
			}
		}
		for key, l := range d.collectionLikes {
			if l.CollectionID == id {
				delete(d.collectionLikes, key)
			}
		}
		delete(d.collections, id)
		emit(realtime.Event{Table: realtime.TableCollections, Type: realtime.Delete, RecordID: id, UserID: c.UserID, Title: c.Name})
		return nil
	})
}

func (s *MemoryStore) SetCollectionViewCount(ctx context.Context, id string, views int) error {
	return s.write(ctx, "SetCollectionViewCount", func(d *memData, _ emitFunc) error {
		c, ok := d.collections[id]
		if !ok {
			return nil
		}
		c.ViewCount = views
		d.collections[id] = c
		return nil
	})
}

func (s *MemoryStore) AdjustCollectionCounters(ctx context.Context, id string, promptDelta, likeDelta int) error {
	return s.write(ctx, "AdjustCollectionCounters", func(d *memData, emit emitFunc) error {
		c, ok := d.collections[id]
		if !ok {
			return ErrNotFound
		}
		c.PromptCount = max(c.PromptCount+promptDelta, 0)
		c.LikeCount = max(c.LikeCount+likeDelta, 0)
		d.collections[id] = c
		emit(realtime.Event{Table: realtime.TableCollections, Type: realtime.Update, RecordID: id, UserID: c.UserID, Title: c.Name})
		return nil
	})
}

func (s *MemoryStore) ListCollectionPrompts(ctx context.Context, collectionID string) ([]models.CollectionPrompt, error) {
	var out []models.CollectionPrompt
	err := s.read(ctx, "ListCollectionPrompts", func(d *memData) error {
		for _, cp := range d.collectionPrompts {
			if cp.CollectionID == collectionID {
				out = append(out, cp)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].OrderIndex != out[j].OrderIndex {
				return out[i].OrderIndex < out[j].OrderIndex
			}
			return out[i].AddedAt.Before(out[j].AddedAt)
		})
		return nil
	})
	return out, err
}

func (s *MemoryStore) FindCollectionPrompt(ctx context.Context, collectionID, promptID string) (*models.CollectionPrompt, error) {
	var out *models.CollectionPrompt
	err := s.read(ctx, "FindCollectionPrompt", func(d *memData) error {
		cp, ok := d.collectionPrompts[likeKey(collectionID, promptID)]
		if !ok {
			return ErrNotFound
		}
		out = &cp
		return nil
	})
	return out, err
}

func (s *MemoryStore) AddCollectionPrompt(ctx context.Context, cp *models.CollectionPrompt) error {
	return s.write(ctx, "AddCollectionPrompt", func(d *memData, emit emitFunc) error {
		key := likeKey(cp.CollectionID, cp.PromptID)
		if _, ok := d.collectionPrompts[key]; ok {
			return ErrDuplicate
		}
		if cp.ID == "" {
			cp.ID = models.NewID()
		}
		cp.AddedAt = s.state.now()
		d.collectionPrompts[key] = *cp
		emit(realtime.Event{Table: realtime.TableCollectionPrompts, Type: realtime.Insert, RecordID: cp.CollectionID})
		return nil
	})
}

func (s *MemoryStore) RemoveCollectionPrompt(ctx context.Context, collectionID, promptID string) (bool, error) {
	var removed bool
	err := s.write(ctx, "RemoveCollectionPrompt", func(d *memData, emit emitFunc) error {
		key := likeKey(collectionID, promptID)
		if _, ok := d.collectionPrompts[key]; !ok {
			return nil
		}
		delete(d.collectionPrompts, key)
		removed = true
		emit(realtime.Event{Table: realtime.TableCollectionPrompts, Type: realtime.Delete, RecordID: collectionID})
		return nil
	})
	return removed, err
}

func (s *MemoryStore) FindCollectionLike(ctx context.Context, userID, collectionID string) (*models.CollectionLike, error) {
	var out *models.CollectionLike
	err := s.read(ctx, "FindCollectionLike", func(d *memData) error {
		l, ok := d.collectionLikes[likeKey(userID, collectionID)]
		if !ok {
			return ErrNotFound
		}
		out = &l
		return nil
	})
	return out, err
}

func (s *MemoryStore) CreateCollectionLike(ctx context.Context, l *models.CollectionLike) error {
	return s.write(ctx, "CreateCollectionLike", func(d *memData, emit emitFunc) error {
		key := likeKey(l.UserID, l.CollectionID)
		if _, ok := d.collectionLikes[key]; ok {
			return ErrDuplicate
		}
		if l.ID == "" {
			l.ID = models.NewID()
		}
		l.CreatedAt = s.state.now()
		d.collectionLikes[key] = *l
		emit(realtime.Event{Table: realtime.TableCollectionLikes, Type: realtime.Insert, RecordID: l.CollectionID, UserID: l.UserID})
		return nil
	})
}

func (s *MemoryStore) DeleteCollectionLike(ctx context.Context, userID, collectionID string) (bool, error) {
	var removed bool
	err := s.write(ctx, "DeleteCollectionLike", func(d *memData, emit emitFunc) error {
		key := likeKey(userID, collectionID)
		if _, ok := d.collectionLikes[key]; !ok {
			return nil
		}
		delete(d.collectionLikes, key)
		removed = true
		emit(realtime.Event{Table: realtime.TableCollectionLikes, Type: realtime.Delete, RecordID: collectionID, UserID: userID})
		return nil
	})
	return removed, err
}

// ---- profiles & tokens ----

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var out *models.Profile
	err := s.read(ctx, "GetProfile", func(d *memData) error {
		p, ok := d.profiles[userID]
		if !ok {
			return ErrNotFound
		}
		p.Metadata = copyMeta(p.Metadata)
		out = &p
		return nil
	})
	return out, err
}

func (s *MemoryStore) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	var out *models.Profile
	err := s.read(ctx, "GetProfileByEmail", func(d *memData) error {
		for _, p := range d.profiles {
			if p.Email == email {
				p.Metadata = copyMeta(p.Metadata)
				out = &p
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (s *MemoryStore) CreateProfile(ctx context.Context, p *models.Profile) error {
	return s.write(ctx, "CreateProfile", func(d *memData, _ emitFunc) error {
		if p.UserID == "" {
			p.UserID = models.NewID()
		}
		for _, existing := range d.profiles {
			if existing.UserID == p.UserID || existing.Email == p.Email {
				return ErrDuplicate
			}
		}
		now := s.state.now()
		p.CreatedAt, p.UpdatedAt = now, now
		stored := *p
		stored.Metadata = copyMeta(p.Metadata)
		d.profiles[p.UserID] = stored
		return nil
	})
}

func (s *MemoryStore) UpdateNickname(ctx context.Context, userID, nickname string) error {
	return s.write(ctx, "UpdateNickname", func(d *memData, _ emitFunc) error {
		p, ok := d.profiles[userID]
		if !ok {
			return ErrNotFound
		}
		p.Nickname = nickname
		p.UpdatedAt = s.state.now()
		d.profiles[userID] = p
		return nil
	})
}

func (s *MemoryStore) SetProfileMetadata(ctx context.Context, userID string, meta datatypes.JSONMap) error {
	return s.write(ctx, "SetProfileMetadata", func(d *memData, _ emitFunc) error {
		p, ok := d.profiles[userID]
		if !ok {
			return ErrNotFound
		}
		p.Metadata = copyMeta(meta)
		p.UpdatedAt = s.state.now()
		d.profiles[userID] = p
		return nil
	})
}

func (s *MemoryStore) CreateToken(ctx context.Context, t *models.AuthToken) error {
	return s.write(ctx, "CreateToken", func(d *memData, _ emitFunc) error {
		if _, ok := d.tokens[t.Token]; ok {
			return ErrDuplicate
		}
		t.CreatedAt = s.state.now()
		d.tokens[t.Token] = *t
		return nil
	})
}

func (s *MemoryStore) GetToken(ctx context.Context, token string) (*models.AuthToken, error) {
	var out *models.AuthToken
	err := s.read(ctx, "GetToken", func(d *memData) error {
		t, ok := d.tokens[token]
		if !ok {
			return ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (s *MemoryStore) DeleteToken(ctx context.Context, token string) error {
	return s.write(ctx, "DeleteToken", func(d *memData, _ emitFunc) error {
		delete(d.tokens, token)
		return nil
	})
}

func (s *MemoryStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.read(ctx, "Counts", func(d *memData) error {
		c = Counts{
			Prompts:     int64(len(d.prompts)),
			Collections: int64(len(d.collections)),
			Likes:       int64(len(d.likes)),
			Profiles:    int64(len(d.profiles)),
		}
		return nil
	})
	return c, err
}
