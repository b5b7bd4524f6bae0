package utils

import (
	"html/template"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// EnhanceHTMLContent adds loading hints to images and marks code blocks
// copyable. Input must already be sanitized.
func EnhanceHTMLContent(htmlStr string) template.HTML {
	if htmlStr == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return template.HTML(htmlStr)
	}

	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		s.SetAttr("referrerpolicy", "no-referrer")
		s.SetAttr("loading", "lazy")
	})

	doc.Find("pre").Each(func(i int, s *goquery.Selection) {
		s.AddClass("copyable")
		s.SetAttr("data-copy", s.Text())
		code := s.Find("code").First()
		if class, ok := code.Attr("class"); ok {
			for _, token := range strings.Fields(class) {
				if lang, found := strings.CutPrefix(token, "language-"); found {
					s.SetAttr("data-language", lang)
					break
				}
			}
		}
	})

	// goquery wraps fragments in html/body; only the body content is wanted
	html, _ := doc.Find("body").Html()
	if html == "" {
		html, _ = doc.Html()
	}

	return template.HTML(html)
}

// PlainText strips markup from an HTML fragment.
func PlainText(htmlStr string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return htmlStr
	}
	return strings.TrimSpace(doc.Text())
}
