package handlers

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/url"
	"path/filepath"
	"time"

	"promptory/internal/utils"

	"github.com/gin-contrib/multitemplate"
)

// views lists every page template by the name handlers render it under.
var views = []string{
	"prompt/list.html",
	"prompt/detail.html",
	"prompt/form.html",
	"collection/list.html",
	"collection/detail.html",
	"collection/form.html",
	"account/me.html",
	"admin/prompts.html",
	"admin/collections.html",
	"auth/login.html",
	"error.html",
	"not_found.html",
}

func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"dict": func(values ...interface{}) (map[string]interface{}, error) {
			if len(values)%2 != 0 {
				return nil, fmt.Errorf("invalid dict call")
			}
			dict := make(map[string]interface{}, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict keys must be strings")
				}
				dict[key] = values[i+1]
			}
			return dict, nil
		},
		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },
		// seq returns 1..n.
		"seq": func(n int) []int {
			out := make([]int, n)
			for i := range out {
				out[i] = i + 1
			}
			return out
		},
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"excerpt": func(s string, n int) string {
			return utils.Excerpt(s, n)
		},
		"timeAgo": func(t time.Time) string {
			d := time.Since(t)
			switch {
			case d < time.Minute:
				return "just now"
			case d < time.Hour:
				return fmt.Sprintf("%dm ago", int(d.Minutes()))
			case d < 24*time.Hour:
				return fmt.Sprintf("%dh ago", int(d.Hours()))
			case d < 30*24*time.Hour:
				return fmt.Sprintf("%dd ago", int(d.Hours()/24))
			}
			return t.Format("Jan 2, 2006")
		},
		"urlquery": url.QueryEscape,
		// json feeds rpc inputs to data attributes.
		"json": func(v interface{}) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
	}
}

// LoadTemplates builds the renderer: each view is parsed together with the
// layouts, includes and components under dir.
func LoadTemplates(dir string) (multitemplate.Renderer, error) {
	r := multitemplate.NewRenderer()

	var shared []string
	for _, pattern := range []string{"layouts/*.html", "includes/*.html", "components/*.html"} {
		files, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		shared = append(shared, files...)
	}
	if len(shared) == 0 {
		return nil, fmt.Errorf("no layouts found under %s", dir)
	}

	funcs := TemplateFuncs()
	for _, view := range views {
		files := append(append([]string{}, shared...), filepath.Join(dir, "views", view))
		tmpl, err := template.New(filepath.Base(files[0])).Funcs(funcs).ParseFiles(files...)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", view, err)
		}
		r.Add(view, tmpl)
	}
	return r, nil
}
