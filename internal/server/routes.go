// Package server exposes the HTTP surface: the Webmention endpoint and the
// article pages that advertise it.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all routes on the given router. The Webmention
// endpoint is registered even when the feature is disabled: submitters get
// the receiver's 400 not_enabled rejection, not a 404.
func SetupRoutes(router *gin.Engine, webmention *WebmentionHandler, article *ArticleHandler) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/webmentions", webmention.HandleWebmention)
	router.GET("/article/*slug", article.HandleArticle)
}

// NewRouter creates a gin engine with recovery only; request logging goes
// through slog, not gin's default writer.
func NewRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	return router
}
