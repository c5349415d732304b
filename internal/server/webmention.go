package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mdblog/internal/receiver"
)

// WebmentionHandler handles inbound Webmention notifications.
type WebmentionHandler struct {
	receiver *receiver.Receiver
}

// NewWebmentionHandler creates a WebmentionHandler.
func NewWebmentionHandler(r *receiver.Receiver) *WebmentionHandler {
	return &WebmentionHandler{receiver: r}
}

// HandleWebmention accepts a form-encoded (source, target) notification.
// The response is synchronous accept/reject; submitters are never told the
// outcome of the asynchronous verification.
func (h *WebmentionHandler) HandleWebmention(c *gin.Context) {
	source := c.PostForm("source")
	target := c.PostForm("target")

	err := h.receiver.Receive(c.Request.Context(), source, target)
	if err == nil {
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		return
	}

	var reject *receiver.RejectError
	if errors.As(err, &reject) {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(reject.Reason)})
		return
	}

	// Synchronous storage failure: retryable by the submitter.
	c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failure"})
}
