package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"promptory/internal/authz"
	"promptory/internal/handlers"
	"promptory/internal/realtime"
	"promptory/internal/rpc"
	"promptory/internal/services"
	"promptory/internal/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

type app struct {
	engine *gin.Engine
	svc    *services.Services
	hub    *realtime.Hub
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemoryStore(nil)
	svc := services.New(st, services.Options{Logger: logger})
	hub := realtime.NewHub(8)

	tmpl, err := handlers.LoadTemplates("../../web/templates")
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	r := gin.New()
	r.HTMLRender = tmpl
	r.Use(sessions.Sessions("promptory_session", cookie.NewStore([]byte("test-secret"))))
	RegisterRoutes(r, Deps{
		Services:      svc,
		RPC:           rpc.NewServer(rpc.Config{Registry: rpc.NewRegistry(rpc.Procedures(svc, nil)...), Logger: logger}),
		Hub:           hub,
		RealtimeState: func() string { return "subscribed" },
		Logger:        logger,
	})
	return &app{engine: r, svc: svc, hub: hub}
}

func (a *app) get(path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *app) register(t *testing.T, email string) (string, authz.Identity) {
	t.Helper()
	s, err := a.svc.Accounts.Register(context.Background(), services.RegisterInput{Email: email, Password: "password123"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	who, _ := a.svc.Accounts.Resolve(context.Background(), s.Token)
	return s.Token, who
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func TestHealthz(t *testing.T) {
	a := newApp(t)
	w := a.get("/healthz", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"realtime":"subscribed"`) {
		t.Fatalf("unexpected healthz %d %s", w.Code, w.Body.String())
	}
}

func TestPromptPages(t *testing.T) {
	a := newApp(t)
	_, alice := a.register(t, "alice@example.com")
	id, err := a.svc.Prompts.Create(context.Background(), alice, services.CreatePromptInput{
		Title:   "Alpha Guide",
		Content: "Use this:\n\n```go\nfmt.Println(1)\n```",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := a.get("/prompts?q=alpha", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Alpha Guide") {
		t.Fatalf("list page: %d", w.Code)
	}

	w = a.get("/prompts/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detail page: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "copyable") {
		t.Fatal("code blocks should be marked copyable")
	}

	w = a.get("/prompts/00000000-0000-0000-0000-000000000000", nil)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Not found") {
		t.Fatalf("missing prompt: %d", w.Code)
	}

	w = a.get("/prompts?page=0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("page=0 should fall back to the first page, got %d", w.Code)
	}
	w = a.get("/prompts?pageSize=1000", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized pageSize should be rejected, got %d", w.Code)
	}
}

func TestMalformedIDPages(t *testing.T) {
	a := newApp(t)
	for _, path := range []string{"/prompts/abc", "/collections/abc"} {
		if w := a.get(path, nil); w.Code != http.StatusNotFound {
			t.Fatalf("%s: %d", path, w.Code)
		}
	}
	if w := a.get("/prompts?category=writing", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("non-id category filter: %d", w.Code)
	}
}

func TestPrivateCollectionPage(t *testing.T) {
	a := newApp(t)
	token, alice := a.register(t, "alice@example.com")
	private := false
	id, err := a.svc.Collections.Create(context.Background(), alice, services.CreateCollectionInput{Name: "Secret", IsPublic: &private})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if w := a.get("/collections/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("anonymous viewer got %d", w.Code)
	}
	if w := a.get("/collections/"+id, bearer(token)); w.Code != http.StatusOK {
		t.Fatalf("owner got %d", w.Code)
	}
	w := a.get("/collections", nil)
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "Secret") {
		t.Fatal("private collection listed publicly")
	}
}

func TestCollectionPageShowsLikeState(t *testing.T) {
	a := newApp(t)
	_, alice := a.register(t, "alice@example.com")
	bobToken, bob := a.register(t, "bob@example.com")
	public := true
	id, err := a.svc.Collections.Create(context.Background(), alice, services.CreateCollectionInput{Name: "Shared", IsPublic: &public})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := a.svc.Collections.ToggleLike(context.Background(), bob, id); err != nil {
		t.Fatalf("ToggleLike: %v", err)
	}

	w := a.get("/collections/"+id, bearer(bobToken))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `data-liked="true"`) {
		t.Fatalf("liker should see the collection as liked: %d", w.Code)
	}
	w = a.get("/collections/"+id, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `data-liked="false"`) {
		t.Fatalf("anonymous viewer: %d", w.Code)
	}
}

func TestOwnerActionsAndEditors(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	aliceToken, alice := a.register(t, "alice@example.com")
	bobToken, _ := a.register(t, "bob@example.com")
	pid, err := a.svc.Prompts.Create(ctx, alice, services.CreatePromptInput{Title: "Mine", Content: "body"})
	if err != nil {
		t.Fatalf("Create prompt: %v", err)
	}
	cid, err := a.svc.Collections.Create(ctx, alice, services.CreateCollectionInput{Name: "Shelf", PromptIDs: []string{pid}})
	if err != nil {
		t.Fatalf("Create collection: %v", err)
	}

	body := a.get("/prompts/"+pid, bearer(aliceToken)).Body.String()
	for _, want := range []string{`href="/prompts/` + pid + `/edit"`, `data-rpc-action="prompt.delete"`, `data-rpc-form="collection.addPrompt"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("owner prompt page lacks %s", want)
		}
	}
	if body := a.get("/prompts/"+pid, bearer(bobToken)).Body.String(); strings.Contains(body, "prompt.delete") {
		t.Fatal("non-owner sees delete action")
	}
	body = a.get("/collections/"+cid, bearer(aliceToken)).Body.String()
	for _, want := range []string{`data-rpc-action="collection.delete"`, `data-rpc-action="collection.removePrompt"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("owner collection page lacks %s", want)
		}
	}

	for path, want := range map[string]string{
		"/prompts/new":                  `data-rpc-form="prompt.create"`,
		"/prompts/" + pid + "/edit":     `data-rpc-form="prompt.update"`,
		"/collections/new":              `data-rpc-form="collection.create"`,
		"/collections/" + cid + "/edit": `data-rpc-form="collection.update"`,
		"/me":                           `data-rpc-form="profile.updateNickname"`,
	} {
		w := a.get(path, bearer(aliceToken))
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), want) {
			t.Fatalf("%s: %d", path, w.Code)
		}
		if w := a.get(path, nil); w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), "/login") {
			t.Fatalf("%s anonymous: %d", path, w.Code)
		}
	}

	if w := a.get("/prompts/"+pid+"/edit", bearer(bobToken)); w.Code != http.StatusForbidden {
		t.Fatalf("non-owner edit: %d", w.Code)
	}
	if w := a.get("/collections/"+cid+"/edit", bearer(bobToken)); w.Code != http.StatusForbidden {
		t.Fatalf("non-owner collection edit: %d", w.Code)
	}
}

func TestMePageListsOwnAndLiked(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	aliceToken, alice := a.register(t, "alice@example.com")
	_, bob := a.register(t, "bob@example.com")
	if _, err := a.svc.Prompts.Create(ctx, alice, services.CreatePromptInput{Title: "Written by Alice", Content: "x"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	other, err := a.svc.Prompts.Create(ctx, bob, services.CreatePromptInput{Title: "Written by Bob", Content: "y"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := a.svc.Prompts.ToggleLike(ctx, alice, other); err != nil {
		t.Fatalf("ToggleLike: %v", err)
	}
	if _, err := a.svc.Collections.Create(ctx, alice, services.CreateCollectionInput{Name: "Alice shelf"}); err != nil {
		t.Fatalf("Create collection: %v", err)
	}

	w := a.get("/me", bearer(aliceToken))
	body := w.Body.String()
	if w.Code != http.StatusOK {
		t.Fatalf("/me: %d", w.Code)
	}
	for _, want := range []string{"Written by Alice", "Written by Bob", "Alice shelf", "alice@example.com"} {
		if !strings.Contains(body, want) {
			t.Fatalf("/me lacks %q", want)
		}
	}
}

func TestAdminPagesGuarded(t *testing.T) {
	a := newApp(t)
	userToken, _ := a.register(t, "user@example.com")
	adminToken, _ := a.register(t, "root@example.com")
	if err := a.svc.Accounts.SetRole(context.Background(), "root@example.com", "admin"); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	for _, path := range []string{"/admin/prompts", "/admin/collections"} {
		w := a.get(path, nil)
		if w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), "/login") {
			t.Fatalf("%s anonymous: %d %s", path, w.Code, w.Header().Get("Location"))
		}
		if w := a.get(path, bearer(userToken)); w.Code != http.StatusForbidden {
			t.Fatalf("%s non-admin: %d", path, w.Code)
		}
		if w := a.get(path, bearer(adminToken)); w.Code != http.StatusOK {
			t.Fatalf("%s admin: %d", path, w.Code)
		}
	}
}

func TestAuthJSONFlow(t *testing.T) {
	a := newApp(t)
	post := func(path, body, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		a.engine.ServeHTTP(w, req)
		return w
	}

	w := post("/auth/register", `{"email":"carol@example.com","password":"password123"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	var s services.Session
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil || s.Token == "" {
		t.Fatalf("register response: %v %s", err, w.Body.String())
	}

	if w := post("/auth/register", `{"email":"carol@example.com","password":"password123"}`, ""); w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: %d", w.Code)
	}
	if w := post("/auth/login", `{"email":"carol@example.com","password":"nope-nope"}`, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: %d", w.Code)
	}

	w = a.get("/api/rpc/profile.me", bearer(s.Token))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "carol@example.com") {
		t.Fatalf("profile.me: %d %s", w.Code, w.Body.String())
	}

	if w := post("/auth/logout", `{}`, s.Token); w.Code != http.StatusOK {
		t.Fatalf("logout: %d", w.Code)
	}
	if w := a.get("/api/rpc/profile.me", bearer(s.Token)); w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token still works: %d", w.Code)
	}
}

func TestFormLoginSetsSession(t *testing.T) {
	a := newApp(t)
	form := url.Values{"email": {"dana@example.com"}, "password": {"password123"}, "next": {"/collections"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/collections" {
		t.Fatalf("form register: %d %s", w.Code, w.Header().Get("Location"))
	}

	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie")
	}
	req = httptest.NewRequest(http.MethodGet, "/prompts", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "Sign out") {
		t.Fatal("session cookie did not sign the user in")
	}
}

func TestLoginRedirectStaysOnSite(t *testing.T) {
	a := newApp(t)
	cases := map[string]string{
		"/collections":         "/collections",
		"//evil.example":       "/prompts",
		"/\\evil.example":      "/prompts",
		"https://evil.example": "/prompts",
	}
	i := 0
	for next, want := range cases {
		i++
		form := url.Values{"email": {fmt.Sprintf("user%d@example.com", i)}, "password": {"password123"}, "next": {next}}
		req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		a.engine.ServeHTTP(w, req)
		if w.Code != http.StatusFound || w.Header().Get("Location") != want {
			t.Fatalf("next=%q: %d %q, want %q", next, w.Code, w.Header().Get("Location"), want)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	a := newApp(t)
	if w := a.get("/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown route: %d", w.Code)
	}
}

// streamRecorder adds the CloseNotify gin's Stream expects.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func TestEventStream(t *testing.T) {
	a := newApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool)}

	done := make(chan struct{})
	go func() {
		a.engine.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for a.hub.Len() == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	a.hub.Broadcast(realtime.Event{Table: realtime.TablePrompts, Type: realtime.Insert, RecordID: "p1", UserID: "someone", Title: "Fresh"})

	// give the stream a moment to write before hanging up
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event:change") || !strings.Contains(body, "New prompt: Fresh") {
		t.Fatalf("unexpected stream body %q", body)
	}
	if a.hub.Len() != 0 {
		t.Fatal("listener not released after disconnect")
	}
}
