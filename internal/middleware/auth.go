package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"promptory/internal/authz"
	"promptory/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	IdentityKey = "identity"
	// SessionTokenKey is the cookie session field holding the bearer token.
	SessionTokenKey = "auth_token"
)

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// LoadIdentity resolves the caller from the bearer header, falling back to the
// cookie session, and stores it on the context. Stale session tokens are
// cleared.
func LoadIdentity(accounts *services.AccountService, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, fromSession := BearerToken(c), false
		if token == "" {
			if v, ok := session.Get(SessionTokenKey).(string); ok {
				token, fromSession = v, true
			}
		}

		who, err := accounts.Resolve(c.Request.Context(), token)
		if err != nil {
			logger.Warn("resolve identity", "error", err)
			who = authz.Identity{}
		}
		if fromSession && !who.Authenticated() && err == nil {
			session.Delete(SessionTokenKey)
			_ = session.Save()
		}
		c.Set(IdentityKey, who)
		c.Next()
	}
}

// CurrentIdentity returns the caller stored by LoadIdentity, or the anonymous
// identity.
func CurrentIdentity(c *gin.Context) authz.Identity {
	if v, ok := c.Get(IdentityKey); ok {
		if who, ok := v.(authz.Identity); ok {
			return who
		}
	}
	return authz.Identity{}
}

// AuthRequired sends anonymous page visitors to the login page.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentIdentity(c).Authenticated() {
			c.Redirect(http.StatusFound, loginURL(c))
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminRequired renders the forbidden page unless the caller holds need.
func AdminRequired(need authz.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := authz.Check(CurrentIdentity(c), need)
		if d.Authorized {
			c.Next()
			return
		}
		if d.Unauthenticated {
			c.Redirect(http.StatusFound, loginURL(c))
			c.Abort()
			return
		}
		c.HTML(http.StatusForbidden, "error.html", gin.H{
			"Error":       "You do not have access to this page.",
			"CurrentPath": c.Request.URL.Path,
		})
		c.Abort()
	}
}

func loginURL(c *gin.Context) string {
	return "/login?next=" + url.QueryEscape(c.Request.URL.RequestURI())
}
