package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mikeboe/deep-search/pkg/chat"
	"github.com/mikeboe/deep-search/pkg/research"
	"github.com/mikeboe/deep-search/pkg/store"
)

type Handler struct {
	Service *Service
	// Chat and MCP are optional surfaces.
	Chat *chat.Service
	MCP  http.Handler
}

func NewHandler(s *Service, c *chat.Service, mcpHandler http.Handler) *Handler {
	return &Handler{Service: s, Chat: c, MCP: mcpHandler}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	if h.MCP != nil {
		r.Any("/mcp", gin.WrapH(h.MCP))
	}
	api := r.Group("/api")
	{
		api.POST("/runs", h.createRun)
		api.GET("/runs", h.listRuns)
		api.GET("/runs/:id", h.getRun)
		api.POST("/runs/:id/resume", h.resumeRun)
		api.GET("/runs/:id/logs", h.getRunLogs)
		api.DELETE("/runs/:id", h.cancelRun)

		if h.Chat != nil {
			// Chat Routes
			api.POST("/runs/:id/conversations", h.createConversation)
			api.GET("/runs/:id/conversations", h.listConversations)
			api.GET("/conversations/:id/messages", h.getMessages)
			api.POST("/conversations/:id/messages", h.sendMessage)
		}
	}
}

type CreateRunRequest struct {
	Query string `json:"query" binding:"required"`
}

type ResumeRunRequest struct {
	ClarifiedIntent string `json:"clarified_intent" binding:"required"`
}

// RunResponse is a run record with its pending questions lifted out of the
// checkpoint.
type RunResponse struct {
	*store.RunRecord
	AssistantMessage string   `json:"assistant_message,omitempty"`
	Questions        []string `json:"questions,omitempty"`
}

func newRunResponse(rec *store.RunRecord) RunResponse {
	resp := RunResponse{RunRecord: rec}
	if rec.Checkpoint != nil && rec.Checkpoint.Suspension != nil {
		resp.AssistantMessage = rec.Checkpoint.Suspension.AssistantMessage
		resp.Questions = rec.Checkpoint.Suspension.Questions
	}
	return resp
}

func (h *Handler) createRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.Service.Start(c.Request.Context(), req.Query)
	if err != nil {
		body := gin.H{"error": err.Error()}
		if rec != nil {
			body["run"] = rec
		}
		c.JSON(errorStatus(err), body)
		return
	}

	c.JSON(http.StatusCreated, newRunResponse(rec))
}

func (h *Handler) resumeRun(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	var req ResumeRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Service.Resume(c.Request.Context(), id, req.ClarifiedIntent); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": store.StatusRunning})
}

func (h *Handler) listRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := h.Service.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Return empty list instead of null
	if runs == nil {
		runs = []store.RunRecord{}
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) getRun(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	rec, err := h.Service.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, newRunResponse(rec))
}

func (h *Handler) getRunLogs(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	logs, err := h.Service.Logs(c.Request.Context(), id)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []store.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) cancelRun(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	rec, err := h.Service.Cancel(c.Request.Context(), id)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, newRunResponse(rec))
}

func (h *Handler) createConversation(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	rec, err := h.Service.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	if rec.Status != store.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "follow-up chat needs a completed run"})
		return
	}

	conv, err := h.Chat.CreateConversation(c.Request.Context(), uuid.MustParse(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) listConversations(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	convs, err := h.Chat.ListConversations(c.Request.Context(), uuid.MustParse(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handler) getMessages(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	msgs, err := h.Chat.GetHistory(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) sendMessage(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := h.Chat.SendMessage(c.Request.Context(), id, req.Content)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chat.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Transfer-Encoding", "chunked")

	for event, err := range next {
		if err != nil {
			writeEvent(c, chat.StreamEvent{Type: "error", Payload: err.Error()})
			return
		}
		if !writeEvent(c, event) {
			return
		}
	}
}

func writeEvent(c *gin.Context, event chat.StreamEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
	return true
}

func runID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return "", false
	}
	return id.String(), true
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	var (
		protoErr *research.ProtocolError
		phaseErr *research.PhaseError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, research.ErrEmptyQuery), errors.Is(err, research.ErrEmptyClarification):
		return http.StatusBadRequest
	case errors.As(err, &protoErr):
		return http.StatusConflict
	case errors.As(err, &phaseErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
