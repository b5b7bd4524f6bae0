package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"promptory/internal/authz"
	"promptory/internal/metrics"
	"promptory/internal/middleware"
	"promptory/internal/services"
	"promptory/internal/store"
	"promptory/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

type testEnv struct {
	engine *gin.Engine
	store  *store.MemoryStore
	svc    *services.Services
	cache  *utils.QueryCache
	rec    *metrics.Recorder
}

type response struct {
	Result *struct {
		Data json.RawMessage `json:"data"`
	} `json:"result"`
	Error *Error `json:"error"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemoryStore(nil)
	svc := services.New(st, services.Options{Logger: logger})
	cache, err := utils.NewQueryCache(100, time.Minute)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}
	rec := metrics.NewRecorder()
	srv := NewServer(Config{
		Registry: NewRegistry(Procedures(svc, rec)...),
		Cache:    cache,
		Metrics:  rec,
		Logger:   logger,
	})

	r := gin.New()
	r.Use(sessions.Sessions("promptory", cookie.NewStore([]byte("test-secret"))))
	r.Use(middleware.LoadIdentity(svc.Accounts, logger))
	r.Any("/api/rpc/:procedure", srv.Handle)
	return &testEnv{engine: r, store: st, svc: svc, cache: cache, rec: rec}
}

// user registers email and returns its bearer token.
func (e *testEnv) user(t *testing.T, email string, admin bool) string {
	t.Helper()
	ctx := context.Background()
	s, err := e.svc.Accounts.Register(ctx, services.RegisterInput{Email: email, Password: "password123"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if admin {
		if err := e.svc.Accounts.SetRole(ctx, email, "admin"); err != nil {
			t.Fatalf("SetRole: %v", err)
		}
	}
	return s.Token
}

func (e *testEnv) do(t *testing.T, method, token, proc string, input interface{}) (int, response) {
	t.Helper()
	var raw []byte
	if input != nil {
		var err error
		if raw, err = json.Marshal(input); err != nil {
			t.Fatalf("marshal input: %v", err)
		}
	}

	target := "/api/rpc/" + proc
	var body io.Reader
	if method == http.MethodGet {
		if raw != nil {
			target += "?input=" + url.QueryEscape(string(raw))
		}
	} else {
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var res response
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode %s response %q: %v", proc, w.Body.String(), err)
	}
	return w.Code, res
}

func (e *testEnv) query(t *testing.T, token, proc string, input interface{}) (int, response) {
	return e.do(t, http.MethodGet, token, proc, input)
}

func (e *testEnv) mutate(t *testing.T, token, proc string, input interface{}) (int, response) {
	return e.do(t, http.MethodPost, token, proc, input)
}

func decodeData(t *testing.T, res response, dst interface{}) {
	t.Helper()
	if res.Result == nil {
		t.Fatalf("expected a result, got error %+v", res.Error)
	}
	if err := json.Unmarshal(res.Result.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", res.Result.Data, err)
	}
}

func expectError(t *testing.T, code int, res response, wantStatus int, wantCode string) {
	t.Helper()
	if code != wantStatus {
		t.Fatalf("status = %d, want %d", code, wantStatus)
	}
	if res.Error == nil || res.Error.Code != wantCode {
		t.Fatalf("expected error code %s, got %+v", wantCode, res.Error)
	}
}

func TestCreateThenList(t *testing.T) {
	e := newTestEnv(t)
	alice := e.user(t, "alice@example.com", false)

	code, res := e.query(t, "", "prompt.list", nil)
	if code != http.StatusOK {
		t.Fatalf("list status %d", code)
	}
	var list services.PromptList
	decodeData(t, res, &list)
	if list.Total != 0 || list.TotalPages != 1 || len(list.Items) != 0 {
		t.Fatalf("unexpected empty list %+v", list)
	}

	code, res = e.mutate(t, alice, "prompt.create", map[string]string{"title": "Alpha Guide", "content": "# hello"})
	if code != http.StatusOK {
		t.Fatalf("create status %d: %+v", code, res.Error)
	}
	var id string
	decodeData(t, res, &id)

	// the earlier list result was cached; the mutation must have dropped it
	_, res = e.query(t, "", "prompt.list", nil)
	decodeData(t, res, &list)
	if list.Total != 1 || list.Items[0].ID != id {
		t.Fatalf("new prompt missing from list: %+v", list)
	}

	_, res = e.query(t, "", "prompt.byId", map[string]string{"id": id})
	var detail struct {
		Title       string `json:"title"`
		ContentHTML string `json:"contentHtml"`
		LikeCount   int    `json:"likeCount"`
	}
	decodeData(t, res, &detail)
	if detail.Title != "Alpha Guide" || !strings.Contains(detail.ContentHTML, "<h1") {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestQueryResultsAreCached(t *testing.T) {
	e := newTestEnv(t)
	e.query(t, "", "prompt.list", map[string]int{"page": 1})
	if e.cache.Len() != 1 {
		t.Fatalf("expected one cached entry, got %d", e.cache.Len())
	}
	e.query(t, "", "prompt.list", map[string]int{"page": 1})
	if e.cache.Len() != 1 {
		t.Fatalf("repeated query should reuse the entry, got %d", e.cache.Len())
	}
	e.query(t, "", "collection.byId", map[string]string{"id": "00000000-0000-0000-0000-000000000000"})
	if e.cache.Len() != 1 {
		t.Fatal("collection.byId must not be cached")
	}
}

func TestMissingDetailIsNull(t *testing.T) {
	e := newTestEnv(t)
	for _, proc := range []string{"prompt.byId", "collection.byId"} {
		code, res := e.query(t, "", proc, map[string]string{"id": "00000000-0000-0000-0000-000000000000"})
		if code != http.StatusOK || res.Result == nil || string(res.Result.Data) != "null" {
			t.Fatalf("%s: expected null data, got %d %+v", proc, code, res)
		}
	}
}

func TestMalformedIDs(t *testing.T) {
	e := newTestEnv(t)
	alice := e.user(t, "alice@example.com", false)

	for _, proc := range []string{"prompt.byId", "collection.byId"} {
		code, res := e.query(t, "", proc, map[string]string{"id": "abc"})
		if code != http.StatusOK || res.Result == nil || string(res.Result.Data) != "null" {
			t.Fatalf("%s: expected null data, got %d %+v", proc, code, res)
		}
	}

	code, res := e.mutate(t, alice, "prompt.toggleLike", map[string]string{"promptId": "abc"})
	expectError(t, code, res, http.StatusNotFound, CodeNotFound)

	code, res = e.query(t, "", "prompt.list", map[string]string{"category": "writing"})
	expectError(t, code, res, http.StatusBadRequest, CodeBadRequest)
}

func TestNonOwnerCollectionDeleteForbidden(t *testing.T) {
	e := newTestEnv(t)
	alice := e.user(t, "alice@example.com", false)
	bob := e.user(t, "bob@example.com", false)

	_, res := e.mutate(t, alice, "collection.create", map[string]interface{}{"name": "Keep me"})
	var id string
	decodeData(t, res, &id)

	code, res := e.mutate(t, bob, "collection.delete", map[string]string{"id": id})
	expectError(t, code, res, http.StatusForbidden, CodeForbidden)

	_, res = e.query(t, alice, "collection.byId", map[string]string{"id": id})
	var detail struct {
		ID string `json:"id"`
	}
	decodeData(t, res, &detail)
	if detail.ID != id {
		t.Fatal("collection should still exist after a rejected delete")
	}
}

func TestErrorCodes(t *testing.T) {
	e := newTestEnv(t)
	alice := e.user(t, "alice@example.com", false)

	code, res := e.query(t, "", "prompt.nope", nil)
	expectError(t, code, res, http.StatusNotFound, CodeNotFound)

	code, res = e.query(t, alice, "prompt.create", map[string]string{"title": "x", "content": "y"})
	expectError(t, code, res, http.StatusMethodNotAllowed, CodeMethodNotSupported)

	code, res = e.mutate(t, alice, "prompt.list", nil)
	expectError(t, code, res, http.StatusMethodNotAllowed, CodeMethodNotSupported)

	code, res = e.mutate(t, "", "prompt.create", map[string]string{"title": "x", "content": "y"})
	expectError(t, code, res, http.StatusUnauthorized, CodeUnauthorized)

	code, res = e.mutate(t, alice, "prompt.create", map[string]string{"title": "", "content": "y"})
	expectError(t, code, res, http.StatusBadRequest, CodeBadRequest)

	code, res = e.mutate(t, alice, "prompt.delete", map[string]string{"id": "00000000-0000-0000-0000-000000000000"})
	expectError(t, code, res, http.StatusNotFound, CodeNotFound)

	code, res = e.query(t, alice, "prompt.adminList", nil)
	expectError(t, code, res, http.StatusForbidden, CodeForbidden)

	req := httptest.NewRequest(http.MethodGet, "/api/rpc/prompt.list?input=%7Bnot-json", nil)
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed input status = %d", w.Code)
	}
}

func TestCollectionFullIsConflict(t *testing.T) {
	e := newTestEnv(t)
	alice := e.user(t, "alice@example.com", false)
	who, _ := e.svc.Accounts.Resolve(context.Background(), alice)

	ids := make([]string, 0, 101)
	for i := 0; i < 101; i++ {
		id, err := e.svc.Prompts.Create(context.Background(), who, services.CreatePromptInput{Title: "p", Content: "c"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, id)
	}
	cid, err := e.svc.Collections.Create(context.Background(), who, services.CreateCollectionInput{Name: "Full", PromptIDs: ids[:100]})
	if err != nil {
		t.Fatalf("Create collection: %v", err)
	}

	code, res := e.mutate(t, alice, "collection.addPrompt", map[string]string{"collectionId": cid, "promptId": ids[100]})
	expectError(t, code, res, http.StatusConflict, CodeConflict)
}

func TestBackendFailureIsGeneric(t *testing.T) {
	e := newTestEnv(t)
	alice := e.user(t, "alice@example.com", false)
	e.store.SetFault("ListPrompts", errors.New("connection reset by peer"))
	e.store.SetFault("CreatePrompt", errors.New("connection reset by peer"))

	code, res := e.query(t, "", "prompt.list", nil)
	expectError(t, code, res, http.StatusInternalServerError, CodeInternal)
	if res.Error.Message != "failed to load" {
		t.Fatalf("backend detail leaked: %q", res.Error.Message)
	}

	code, res = e.mutate(t, alice, "prompt.create", map[string]string{"title": "x", "content": "y"})
	expectError(t, code, res, http.StatusInternalServerError, CodeInternal)
	if res.Error.Message != "failed to save" {
		t.Fatalf("backend detail leaked: %q", res.Error.Message)
	}
}

func TestToggleLikeOverRPC(t *testing.T) {
	e := newTestEnv(t)
	alice := e.user(t, "alice@example.com", false)
	bob := e.user(t, "bob@example.com", false)

	_, res := e.mutate(t, alice, "prompt.create", map[string]string{"title": "Likeable", "content": "c"})
	var id string
	decodeData(t, res, &id)

	var status services.LikeStatus
	_, res = e.query(t, bob, "prompt.likeStatus", map[string]string{"promptId": id})
	decodeData(t, res, &status)
	if status.IsLiked || status.LikeCount != 0 {
		t.Fatalf("unexpected initial status %+v", status)
	}

	var like services.LikeResult
	_, res = e.mutate(t, bob, "prompt.toggleLike", map[string]string{"promptId": id})
	decodeData(t, res, &like)
	if like.Action != services.LikeAdded || !like.Liked || like.LikeCount != 1 {
		t.Fatalf("unexpected toggle result %+v", like)
	}

	_, res = e.query(t, bob, "prompt.likeStatus", map[string]string{"promptId": id})
	decodeData(t, res, &status)
	if !status.IsLiked || status.LikeCount != 1 {
		t.Fatalf("cached status not invalidated: %+v", status)
	}
}

func TestAdminStats(t *testing.T) {
	e := newTestEnv(t)
	alice := e.user(t, "alice@example.com", false)
	root := e.user(t, "root@example.com", true)

	e.query(t, "", "prompt.list", nil)

	code, res := e.query(t, alice, "admin.stats", nil)
	expectError(t, code, res, http.StatusForbidden, CodeForbidden)

	_, res = e.query(t, root, "admin.stats", nil)
	var stats Stats
	decodeData(t, res, &stats)
	if stats.Counts.Profiles != 2 {
		t.Fatalf("profiles = %d, want 2", stats.Counts.Profiles)
	}
	found := false
	for _, s := range stats.Procedures {
		if s.Name == "prompt.list" && s.Count >= 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("prompt.list latency missing from %+v", stats.Procedures)
	}
}

func TestRegistryCoversProcedures(t *testing.T) {
	reg := NewRegistry(Procedures(services.New(store.NewMemoryStore(nil), services.Options{}), nil)...)
	for _, name := range []string{
		"prompt.list", "prompt.byId", "prompt.create", "prompt.update", "prompt.delete",
		"prompt.toggleLike", "prompt.likeStatus", "prompt.adminList", "prompt.adminDelete",
		"prompt.adminDeleteMany", "collection.list", "collection.byId", "collection.create",
		"collection.update", "collection.delete", "collection.addPrompt", "collection.removePrompt",
		"collection.toggleLike", "collection.likeStatus", "collection.adminList",
		"collection.adminUpdate", "collection.adminDelete", "collection.adminDeleteMany",
		"admin.stats", "profile.me", "profile.updateNickname",
	} {
		if _, ok := reg.Lookup(name); !ok {
			t.Errorf("procedure %s not registered", name)
		}
	}
}

func TestQueryOvertakenByMutationIsNotCached(t *testing.T) {
	cache, err := utils.NewQueryCache(10, time.Minute)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}

	var mu sync.Mutex
	value, first := 0, true
	reading := make(chan struct{})
	release := make(chan struct{})

	read := Procedure{Name: "counter.get", Kind: Query, Tables: []string{"prompts"}, Handle: func(*Call) (interface{}, error) {
		mu.Lock()
		v, wait := value, first
		first = false
		mu.Unlock()
		if wait {
			close(reading)
			<-release
		}
		return v, nil
	}}
	bump := Procedure{Name: "counter.bump", Kind: Mutation, Tables: []string{"prompts"}, Handle: func(*Call) (interface{}, error) {
		mu.Lock()
		value++
		mu.Unlock()
		return nil, nil
	}}
	srv := NewServer(Config{
		Registry: NewRegistry(read, bump),
		Cache:    cache,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()
	anon := authz.Identity{}

	done := make(chan interface{}, 1)
	go func() {
		v, _ := srv.Invoke(ctx, anon, read, nil)
		done <- v
	}()
	<-reading
	if _, err := srv.Invoke(ctx, anon, bump, nil); err != nil {
		t.Fatalf("bump: %v", err)
	}
	close(release)
	if v := <-done; v != 0 {
		t.Fatalf("in-flight read returned %v, want 0", v)
	}

	v, err := srv.Invoke(ctx, anon, read, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 1 {
		t.Fatalf("read after mutation returned %v, want 1", v)
	}
}
