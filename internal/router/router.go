package router

import (
	"log/slog"
	"net/http"

	"promptory/internal/authz"
	"promptory/internal/handlers"
	"promptory/internal/middleware"
	"promptory/internal/realtime"
	"promptory/internal/rpc"
	"promptory/internal/services"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Services *services.Services
	RPC      *rpc.Server
	Hub      *realtime.Hub
	// RealtimeState feeds /healthz; nil omits it.
	RealtimeState func() string
	Logger        *slog.Logger
}

// RegisterRoutes mounts every route. Sessions middleware must already be installed.
func RegisterRoutes(r *gin.Engine, d Deps) {
	services.RegisterValidators()
	r.Use(middleware.LoadIdentity(d.Services.Accounts, d.Logger))

	authHandler := handlers.NewAuthHandler(d.Services.Accounts, d.Logger)
	pageHandler := handlers.NewPageHandler(d.Services, d.Logger)
	eventsHandler := handlers.NewEventsHandler(d.Hub)

	r.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/prompts") })
	r.GET("/healthz", handlers.Health(d.RealtimeState))

	// Pages
	r.GET("/prompts", pageHandler.PromptList)
	r.GET("/prompts/:id", pageHandler.PromptDetail)
	r.GET("/collections", pageHandler.CollectionList)
	r.GET("/collections/:id", pageHandler.CollectionDetail)
	r.GET("/login", authHandler.ShowLogin)

	// Editing; the forms submit through /api/rpc.
	authed := middleware.AuthRequired()
	r.GET("/prompts/new", authed, pageHandler.NewPrompt)
	r.GET("/prompts/:id/edit", authed, pageHandler.EditPrompt)
	r.GET("/collections/new", authed, pageHandler.NewCollection)
	r.GET("/collections/:id/edit", authed, pageHandler.EditCollection)
	r.GET("/me", authed, pageHandler.Me)

	admin := r.Group("/admin")
	{
		admin.GET("/prompts", middleware.AdminRequired(authz.AdminPrompts), pageHandler.AdminPrompts)
		admin.GET("/collections", middleware.AdminRequired(authz.AdminCollections), pageHandler.AdminCollections)
	}

	// Identity
	auth := r.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
	}

	// API
	api := r.Group("/api")
	{
		api.Any("/rpc/:procedure", d.RPC.Handle)
		api.GET("/events", eventsHandler.Stream)
	}

	r.NoRoute(func(c *gin.Context) {
		handlers.RenderNotFound(c, "page")
	})
}
