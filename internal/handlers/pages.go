package handlers

import (
	"log/slog"
	"net/http"

	"promptory/internal/middleware"
	"promptory/internal/services"

	"github.com/gin-gonic/gin"
)

// PageHandler serves the browser pages on top of the same services the rpc
// endpoint uses.
type PageHandler struct {
	svc    *services.Services
	logger *slog.Logger
}

func NewPageHandler(svc *services.Services, logger *slog.Logger) *PageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageHandler{svc: svc, logger: logger}
}

func (h *PageHandler) loadFailed(c *gin.Context, what string, err error) {
	h.logger.Error("page load failed", "path", c.Request.URL.Path, "error", err)
	RenderError(c, http.StatusInternalServerError, "Failed to load "+what+". Please try again.")
}

func (h *PageHandler) PromptList(c *gin.Context) {
	var in services.PromptListInput
	if err := c.ShouldBindQuery(&in); err != nil {
		RenderError(c, http.StatusBadRequest, "Invalid filter: "+err.Error())
		return
	}
	list, err := h.svc.Prompts.List(c.Request.Context(), in)
	if err != nil {
		h.loadFailed(c, "prompts", err)
		return
	}
	categories, err := h.svc.Prompts.Categories(c.Request.Context())
	if err != nil {
		h.loadFailed(c, "categories", err)
		return
	}
	Render(c, http.StatusOK, "prompt/list.html", gin.H{
		"Title":      "Prompts",
		"List":       list,
		"Categories": categories,
		"Category":   in.Category,
		"Query":      in.Q,
	})
}

func (h *PageHandler) PromptDetail(c *gin.Context) {
	ctx := c.Request.Context()
	prompt, err := h.svc.Prompts.Get(ctx, c.Param("id"))
	if err != nil {
		h.loadFailed(c, "the prompt", err)
		return
	}
	if prompt == nil {
		RenderNotFound(c, "prompt")
		return
	}
	who := middleware.CurrentIdentity(c)
	status, err := h.svc.Prompts.LikeStatus(ctx, who, prompt.ID)
	if err != nil {
		h.loadFailed(c, "the prompt", err)
		return
	}
	data := gin.H{
		"Title":   prompt.Title,
		"Prompt":  prompt,
		"Like":    status,
		"IsOwner": who.Authenticated() && who.UserID == prompt.UserID,
	}
	if who.Authenticated() {
		mine, err := h.svc.Collections.Mine(ctx, who)
		if err != nil {
			h.loadFailed(c, "your collections", err)
			return
		}
		data["MyCollections"] = mine
	}
	Render(c, http.StatusOK, "prompt/detail.html", data)
}

func (h *PageHandler) NewPrompt(c *gin.Context) {
	categories, err := h.svc.Prompts.Categories(c.Request.Context())
	if err != nil {
		h.loadFailed(c, "categories", err)
		return
	}
	Render(c, http.StatusOK, "prompt/form.html", gin.H{
		"Title":      "New prompt",
		"CategoryID": "",
		"Categories": categories,
	})
}

func (h *PageHandler) EditPrompt(c *gin.Context) {
	ctx := c.Request.Context()
	prompt, err := h.svc.Prompts.Get(ctx, c.Param("id"))
	if err != nil {
		h.loadFailed(c, "the prompt", err)
		return
	}
	if prompt == nil {
		RenderNotFound(c, "prompt")
		return
	}
	if middleware.CurrentIdentity(c).UserID != prompt.UserID {
		RenderError(c, http.StatusForbidden, "You can only edit your own prompts.")
		return
	}
	categories, err := h.svc.Prompts.Categories(ctx)
	if err != nil {
		h.loadFailed(c, "categories", err)
		return
	}
	categoryID := ""
	if prompt.CategoryID != nil {
		categoryID = *prompt.CategoryID
	}
	Render(c, http.StatusOK, "prompt/form.html", gin.H{
		"Title":      "Edit " + prompt.Title,
		"Prompt":     prompt,
		"CategoryID": categoryID,
		"Categories": categories,
	})
}

func (h *PageHandler) CollectionList(c *gin.Context) {
	var in services.CollectionListInput
	if err := c.ShouldBindQuery(&in); err != nil {
		RenderError(c, http.StatusBadRequest, "Invalid filter: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	list, err := h.svc.Collections.List(ctx, middleware.CurrentIdentity(c), in)
	if err != nil {
		h.loadFailed(c, "collections", err)
		return
	}
	categories, err := h.svc.Collections.Categories(ctx)
	if err != nil {
		h.loadFailed(c, "categories", err)
		return
	}
	Render(c, http.StatusOK, "collection/list.html", gin.H{
		"Title":      "Collections",
		"List":       list,
		"Categories": categories,
		"Category":   in.Category,
		"Query":      in.Q,
	})
}

func (h *PageHandler) CollectionDetail(c *gin.Context) {
	who := middleware.CurrentIdentity(c)
	collection, err := h.svc.Collections.Get(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		h.loadFailed(c, "the collection", err)
		return
	}
	if collection == nil {
		RenderNotFound(c, "collection")
		return
	}
	status, err := h.svc.Collections.LikeStatus(c.Request.Context(), who, collection.ID)
	if err != nil {
		h.loadFailed(c, "the collection", err)
		return
	}
	Render(c, http.StatusOK, "collection/detail.html", gin.H{
		"Title":      collection.Name,
		"Collection": collection,
		"Like":       status,
		"IsOwner":    who.Authenticated() && who.UserID == collection.UserID,
	})
}

func (h *PageHandler) NewCollection(c *gin.Context) {
	categories, err := h.svc.Collections.Categories(c.Request.Context())
	if err != nil {
		h.loadFailed(c, "categories", err)
		return
	}
	Render(c, http.StatusOK, "collection/form.html", gin.H{
		"Title":      "New collection",
		"CategoryID": "",
		"Categories": categories,
		"IsPublic":   true,
	})
}

func (h *PageHandler) EditCollection(c *gin.Context) {
	ctx := c.Request.Context()
	who := middleware.CurrentIdentity(c)
	collection, err := h.svc.Collections.Get(ctx, who, c.Param("id"))
	if err != nil {
		h.loadFailed(c, "the collection", err)
		return
	}
	if collection == nil {
		RenderNotFound(c, "collection")
		return
	}
	if who.UserID != collection.UserID {
		RenderError(c, http.StatusForbidden, "You can only edit your own collections.")
		return
	}
	categories, err := h.svc.Collections.Categories(ctx)
	if err != nil {
		h.loadFailed(c, "categories", err)
		return
	}
	categoryID := ""
	if collection.CategoryID != nil {
		categoryID = *collection.CategoryID
	}
	Render(c, http.StatusOK, "collection/form.html", gin.H{
		"Title":      "Edit " + collection.Name,
		"Collection": collection,
		"CategoryID": categoryID,
		"IsPublic":   collection.IsPublic,
		"Categories": categories,
	})
}

// Me shows the caller's profile, prompts, likes and collections.
func (h *PageHandler) Me(c *gin.Context) {
	ctx := c.Request.Context()
	who := middleware.CurrentIdentity(c)
	me, err := h.svc.Accounts.Me(ctx, who)
	if err != nil {
		h.loadFailed(c, "your profile", err)
		return
	}
	prompts, err := h.svc.Prompts.ByUser(ctx, who.UserID)
	if err != nil {
		h.loadFailed(c, "your prompts", err)
		return
	}
	liked, err := h.svc.Prompts.LikedBy(ctx, who.UserID)
	if err != nil {
		h.loadFailed(c, "liked prompts", err)
		return
	}
	collections, err := h.svc.Collections.Mine(ctx, who)
	if err != nil {
		h.loadFailed(c, "your collections", err)
		return
	}
	Render(c, http.StatusOK, "account/me.html", gin.H{
		"Title":       me.Nickname,
		"Me":          me,
		"Prompts":     prompts,
		"Liked":       liked,
		"Collections": collections,
	})
}

func (h *PageHandler) AdminPrompts(c *gin.Context) {
	var in services.AdminPromptListInput
	if err := c.ShouldBindQuery(&in); err != nil {
		RenderError(c, http.StatusBadRequest, "Invalid filter: "+err.Error())
		return
	}
	list, err := h.svc.Prompts.AdminList(c.Request.Context(), middleware.CurrentIdentity(c), in)
	if err != nil {
		h.loadFailed(c, "prompts", err)
		return
	}
	Render(c, http.StatusOK, "admin/prompts.html", gin.H{
		"Title": "Manage prompts",
		"List":  list,
		"Query": in.Q,
	})
}

func (h *PageHandler) AdminCollections(c *gin.Context) {
	var in services.AdminCollectionListInput
	if err := c.ShouldBindQuery(&in); err != nil {
		RenderError(c, http.StatusBadRequest, "Invalid filter: "+err.Error())
		return
	}
	list, err := h.svc.Collections.AdminList(c.Request.Context(), middleware.CurrentIdentity(c), in)
	if err != nil {
		h.loadFailed(c, "collections", err)
		return
	}
	Render(c, http.StatusOK, "admin/collections.html", gin.H{
		"Title":      "Manage collections",
		"List":       list,
		"Query":      in.Q,
		"Visibility": in.Visibility,
		"Sort":       in.Sort,
		"Dir":        in.Dir,
	})
}
