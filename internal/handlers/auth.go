package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"promptory/internal/middleware"
	"promptory/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	accounts *services.AccountService
	logger   *slog.Logger
}

func NewAuthHandler(accounts *services.AccountService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{accounts: accounts, logger: logger}
}

// safeNext keeps post-login redirects on this site. Browsers read a backslash
// after the leading slash as a second slash.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/prompts"
	}
	return next
}

func (h *AuthHandler) ShowLogin(c *gin.Context) {
	Render(c, http.StatusOK, "auth/login.html", gin.H{"Title": "Sign in", "Next": safeNext(c.Query("next"))})
}

func (h *AuthHandler) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	msg := "Something went wrong. Please try again."
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		code, msg = http.StatusBadRequest, verr.Error()
	case errors.Is(err, services.ErrEmailTaken):
		code, msg = http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrInvalidCredentials):
		code, msg = http.StatusUnauthorized, err.Error()
	default:
		h.logger.Error("auth failed", "path", c.Request.URL.Path, "error", err)
	}

	if wantsJSON(c) {
		c.JSON(code, gin.H{"error": msg})
		return
	}
	Render(c, code, "auth/login.html", gin.H{"Title": "Sign in", "Error": msg, "Next": safeNext(c.PostForm("next"))})
}

// bind decodes JSON or form bodies; validation happens in the service.
func bind(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBind(dst); err != nil {
		return &services.ValidationError{Message: err.Error()}
	}
	return nil
}

func (h *AuthHandler) start(c *gin.Context, s *services.Session) {
	session := sessions.Default(c)
	session.Set(middleware.SessionTokenKey, s.Token)
	if err := session.Save(); err != nil {
		h.logger.Warn("save session", "error", err)
	}
	if wantsJSON(c) {
		c.JSON(http.StatusOK, s)
		return
	}
	c.Redirect(http.StatusFound, safeNext(c.PostForm("next")))
}

func (h *AuthHandler) Register(c *gin.Context) {
	var in services.RegisterInput
	if err := bind(c, &in); err != nil {
		h.fail(c, err)
		return
	}
	s, err := h.accounts.Register(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.start(c, s)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var in services.LoginInput
	if err := bind(c, &in); err != nil {
		h.fail(c, err)
		return
	}
	s, err := h.accounts.Login(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.start(c, s)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	token := middleware.BearerToken(c)
	if token == "" {
		token, _ = session.Get(middleware.SessionTokenKey).(string)
	}
	if err := h.accounts.Logout(c.Request.Context(), token); err != nil {
		h.logger.Warn("revoke token", "error", err)
	}
	session.Clear()
	_ = session.Save()

	if wantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	c.Redirect(http.StatusFound, "/prompts")
}
