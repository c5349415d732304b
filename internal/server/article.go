package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mdblog/internal/content"
	"mdblog/internal/mentions"
)

//nolint:gosec // article HTML is rendered from the operator's own Markdown
var articleTemplate = template.Must(template.New("article").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{if .WebmentionURL}}<link rel="webmention" href="{{.WebmentionURL}}">
{{end}}</head>
<body>
<article>
{{.Body}}
</article>
{{if .Mentions}}
<section class="mentions">
<h2>Mentions</h2>
<ul>
{{range .Mentions}}
<li class="mention mention-{{.Type}}">
<a href="{{.Source}}" rel="nofollow">{{if .Title}}{{.Title}}{{else}}{{.Source}}{{end}}</a>
{{if .AuthorName}}<span class="author">{{.AuthorName}}</span>{{end}}
{{if .ContentSnippet}}<blockquote>{{.ContentSnippet}}</blockquote>{{end}}
</li>
{{end}}
</ul>
</section>
{{end}}
</body>
</html>
`))

type mentionView struct {
	Source         string
	Title          string
	AuthorName     string
	ContentSnippet string
	Type           string
}

type articleView struct {
	Title         string
	Body          template.HTML
	WebmentionURL string
	Mentions      []mentionView
}

// ArticleHandler renders article pages together with their verified mentions.
type ArticleHandler struct {
	library       *content.Library
	store         *mentions.Store
	webmentionURL string
}

// NewArticleHandler creates an ArticleHandler. webmentionURL is the absolute
// endpoint advertised on every article page, or "" when the feature is off.
func NewArticleHandler(library *content.Library, store *mentions.Store, webmentionURL string) *ArticleHandler {
	return &ArticleHandler{
		library:       library,
		store:         store,
		webmentionURL: webmentionURL,
	}
}

// HandleArticle serves a rendered article page.
func (h *ArticleHandler) HandleArticle(c *gin.Context) {
	slug := strings.Trim(c.Param("slug"), "/")
	article, err := h.library.Get(slug)
	if err != nil {
		c.String(http.StatusNotFound, "not found")
		return
	}

	body, err := h.library.Render(article.Markdown)
	if err != nil {
		c.String(http.StatusInternalServerError, "render failure")
		return
	}

	view := articleView{
		Title:         article.Title,
		Body:          template.HTML(body), //nolint:gosec // operator-authored content
		WebmentionURL: h.webmentionURL,
	}

	// Only verified mentions are visible to readers.
	verified, err := h.store.GetVerified(slug)
	if err == nil {
		for _, m := range verified {
			view.Mentions = append(view.Mentions, mentionView{
				Source:         m.Source,
				Title:          m.Title,
				AuthorName:     m.AuthorName,
				ContentSnippet: m.ContentSnippet,
				Type:           string(m.Type),
			})
		}
	}

	if h.webmentionURL != "" {
		c.Header("Link", fmt.Sprintf(`<%s>; rel="webmention"`, h.webmentionURL))
	}
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := articleTemplate.Execute(c.Writer, view); err != nil {
		_ = c.Error(err)
	}
}
