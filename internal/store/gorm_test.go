package store_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"promptory/internal/db"
	"promptory/internal/models"
	"promptory/internal/realtime"
	"promptory/internal/services"
	"promptory/internal/store"

	"gorm.io/gorm"
)

// openTestDB connects to PROMPTORY_TEST_DATABASE_URL, applies the SQL
// migrations and empties every table. The database is shared, so these tests
// do not run in parallel.
func openTestDB(t *testing.T) (*gorm.DB, string) {
	t.Helper()
	dsn := os.Getenv("PROMPTORY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PROMPTORY_TEST_DATABASE_URL not set")
	}
	if _, err := db.Migrate(filepath.Join("..", "..", "db", "migrations"), dsn); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	conn, err := db.Open(dsn, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	err = conn.Exec(`TRUNCATE collection_likes, likes, collection_prompts, collections,
		prompts, collection_categories, categories, auth_tokens, profiles`).Error
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return conn, dsn
}

func newServices(conn *gorm.DB) *services.Services {
	return services.New(store.NewGormStore(conn), services.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestGormPromptAndCollectionFlow(t *testing.T) {
	conn, _ := openTestDB(t)
	ctx := context.Background()
	svc := newServices(conn)

	s, err := svc.Accounts.Register(ctx, services.RegisterInput{Email: "ada@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	who, err := svc.Accounts.Resolve(ctx, s.Token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	a, err := svc.Prompts.Create(ctx, who, services.CreatePromptInput{Title: "Alpha Guide", Content: "one"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := svc.Prompts.Create(ctx, who, services.CreatePromptInput{Title: "Beta 100%", Content: "two"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := svc.Prompts.List(ctx, services.PromptListInput{Q: "alpha"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Total != 1 || list.Items[0].ID != a {
		t.Fatalf("search alpha: %+v", list)
	}
	list, err = svc.Prompts.List(ctx, services.PromptListInput{Q: "%"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Total != 1 || list.Items[0].ID != b {
		t.Fatalf("literal %% search: %+v", list)
	}

	like, err := svc.Prompts.ToggleLike(ctx, who, a)
	if err != nil || !like.Liked || like.LikeCount != 1 {
		t.Fatalf("ToggleLike: %+v, %v", like, err)
	}

	public := true
	colID, err := svc.Collections.Create(ctx, who, services.CreateCollectionInput{
		Name: "Starter", IsPublic: &public, PromptIDs: []string{a, b, a},
	})
	if err != nil {
		t.Fatalf("Create collection: %v", err)
	}
	detail, err := svc.Collections.Get(ctx, who, colID)
	if err != nil || detail == nil {
		t.Fatalf("Get collection: %+v, %v", detail, err)
	}
	if detail.PromptCount != 2 || len(detail.Prompts) != 2 || detail.Prompts[0].ID != a {
		t.Fatalf("unexpected members: count=%d prompts=%+v", detail.PromptCount, detail.Prompts)
	}

	if _, err := svc.Prompts.Delete(ctx, who, b); err != nil {
		t.Fatalf("Delete prompt: %v", err)
	}
	detail, err = svc.Collections.Get(ctx, who, colID)
	if err != nil || detail.PromptCount != 1 || len(detail.Prompts) != 1 {
		t.Fatalf("membership not cleaned up: %+v, %v", detail, err)
	}
}

func TestGormChangeNotifications(t *testing.T) {
	conn, dsn := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := realtime.NewPGSource(realtime.StaticDSN(dsn)).Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close(context.Background())

	svc := newServices(conn)
	s, err := svc.Accounts.Register(ctx, services.RegisterInput{Email: "ada@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	who, err := svc.Accounts.Resolve(ctx, s.Token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	id, err := svc.Prompts.Create(ctx, who, services.CreatePromptInput{Title: "Hello", Content: "world"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Prompts.ToggleLike(ctx, who, id); err != nil {
		t.Fatalf("ToggleLike: %v", err)
	}

	ev, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Table != realtime.TablePrompts || ev.Type != realtime.Insert || ev.RecordID != id || ev.Title != "Hello" {
		t.Fatalf("unexpected prompt event: %+v", ev)
	}
	ev, err = sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Table != realtime.TableLikes || ev.RecordID != id || ev.UserID != who.UserID {
		t.Fatalf("unexpected like event: %+v", ev)
	}
}

func TestGormConcurrentAddsRespectCap(t *testing.T) {
	conn, _ := openTestDB(t)
	ctx := context.Background()
	svc := newServices(conn)

	s, err := svc.Accounts.Register(ctx, services.RegisterInput{Email: "ada@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	who, err := svc.Accounts.Resolve(ctx, s.Token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	extra := 6
	ids := make([]string, 0, models.MaxCollectionPrompts-1+extra)
	for i := 0; i < cap(ids); i++ {
		id, err := svc.Prompts.Create(ctx, who, services.CreatePromptInput{Title: fmt.Sprintf("Prompt %03d", i), Content: "body"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, id)
	}
	public := true
	colID, err := svc.Collections.Create(ctx, who, services.CreateCollectionInput{
		Name: "Almost full", IsPublic: &public, PromptIDs: ids[:models.MaxCollectionPrompts-1],
	})
	if err != nil {
		t.Fatalf("Create collection: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, extra)
	for _, pid := range ids[models.MaxCollectionPrompts-1:] {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			_, err := svc.Collections.AddPrompt(ctx, who, services.AddPromptInput{CollectionID: colID, PromptID: pid})
			errs <- err
		}(pid)
	}
	wg.Wait()
	close(errs)

	added := 0
	for err := range errs {
		switch {
		case err == nil:
			added++
		case !errors.Is(err, services.ErrCollectionFull):
			t.Fatalf("unexpected error %v", err)
		}
	}
	var members int64
	if err := conn.Model(&models.CollectionPrompt{}).Where("collection_id = ?", colID).Count(&members).Error; err != nil {
		t.Fatalf("count members: %v", err)
	}
	if added != 1 || members != models.MaxCollectionPrompts {
		t.Fatalf("added=%d members=%d", added, members)
	}
}
