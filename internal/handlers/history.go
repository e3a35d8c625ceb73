package handlers

import (
	"net/http"

	"github.com/Brownie44l1/plant-api/internal/chat"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type SaveHistoryRequest struct {
	ReportID    string      `json:"reportId"`
	ChatHistory []chat.Turn `json:"chatHistory"`
}

func (h *Handler) ListReports(c *gin.Context) {
	reports, err := h.reports.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list reports", "error", err)
		abortWithError(c, http.StatusInternalServerError, "Error fetching reports")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reports": reports})
}

func (h *Handler) GetReport(c *gin.Context) {
	id, ok := reportID(c, c.Param("reportId"))
	if !ok {
		return
	}
	report, err := h.reports.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, statusFor(err), "Report not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// SaveHistory overwrites a report's conversation.
func (h *Handler) SaveHistory(c *gin.Context) {
	var req SaveHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ReportID == "" {
		abortWithError(c, http.StatusBadRequest, "Report ID is required")
		return
	}
	id, ok := reportID(c, req.ReportID)
	if !ok {
		return
	}
	for _, turn := range req.ChatHistory {
		if turn.Role != chat.RoleUser && turn.Role != chat.RoleAssistant {
			abortWithError(c, http.StatusBadRequest, "Chat roles must be user or assistant")
			return
		}
	}

	report, err := h.reports.SaveChatHistory(c.Request.Context(), id, req.ChatHistory)
	if err != nil {
		h.logger.Error("Failed to save chat history", "error", err, "report", id)
		abortWithError(c, statusFor(err), "Error saving chat history")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Chat history saved successfully",
		"report":  report,
	})
}

func (h *Handler) DeleteReport(c *gin.Context) {
	id, ok := reportID(c, c.Param("reportId"))
	if !ok {
		return
	}
	if err := h.reports.Delete(c.Request.Context(), id); err != nil {
		abortWithError(c, statusFor(err), "Error deleting report")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Report deleted successfully"})
}

func reportID(c *gin.Context, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid report ID")
		return uuid.Nil, false
	}
	return id, true
}
