package handlers

import (
	"net/http"

	"github.com/Brownie44l1/plant-api/internal/chat"
	"github.com/gin-gonic/gin"
)

type ChatResponse struct {
	Success    bool   `json:"success"`
	Response   string `json:"response"`
	IsFallback bool   `json:"isFallback,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (h *Handler) ChatStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Chat service is running",
	})
}

// ChatMessage answers a follow-up question about a diagnosis. Backend
// failures still produce a 200 with isFallback set.
func (h *Handler) ChatMessage(c *gin.Context) {
	var req chat.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}

	reply, err := h.chat.Respond(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, statusFor(err), "Disease and message are required")
		return
	}

	resp := ChatResponse{
		Success:  true,
		Response: reply.Text,
	}
	if reply.IsFallback() {
		resp.IsFallback = true
		if reply.Reason != nil {
			resp.Error = reply.Reason.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}
