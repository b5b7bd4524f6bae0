package handlers

import (
	"net/http"
	"strings"

	"promptory/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Render injects the values every layout needs: the caller and the current path.
func Render(c *gin.Context, code int, name string, obj gin.H) {
	if obj == nil {
		obj = gin.H{}
	}

	who := middleware.CurrentIdentity(c)
	if who.Authenticated() {
		obj["CurrentUser"] = who
	}
	obj["IsAdmin"] = who.Admin
	obj["CurrentPath"] = c.Request.URL.Path

	c.HTML(code, name, obj)
}

func RenderError(c *gin.Context, code int, message string) {
	Render(c, code, "error.html", gin.H{"Error": message, "Code": code})
}

func RenderNotFound(c *gin.Context, what string) {
	Render(c, http.StatusNotFound, "not_found.html", gin.H{"What": what})
}

// wantsJSON reports whether the client sent or asked for JSON rather than a form.
func wantsJSON(c *gin.Context) bool {
	return c.ContentType() == gin.MIMEJSON || strings.Contains(c.GetHeader("Accept"), gin.MIMEJSON)
}
