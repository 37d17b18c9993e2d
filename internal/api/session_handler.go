package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"resumerank/internal/api/middleware"
	"resumerank/internal/database"
	"resumerank/internal/ranking"
)

type sessionListItem struct {
	ID                    uint              `json:"id"`
	JobDescriptionPreview string            `json:"job_description_preview"`
	Count                 int               `json:"count"`
	CreatedAt             time.Time         `json:"created_at"`
	Rankings              []ranking.Summary `json:"rankings"`
}

type sessionResponse struct {
	ID             uint            `json:"id"`
	JobDescription string          `json:"job_description"`
	Weights        ranking.Weights `json:"weights"`
	Count          int             `json:"count"`
	CreatedAt      time.Time       `json:"created_at"`
	Rankings       []ranking.Item  `json:"rankings"`
}

// ListSessions 返回用户的历史排名会话（窄投影，不含分数明细与技能列表）。
func (h *RankHandler) ListSessions(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	log := middleware.LoggerFromContext(c)

	limitStr := c.DefaultQuery("limit", strconv.Itoa(defaultSessionLimit))
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = defaultSessionLimit
	}
	if limit > maxSessionLimit {
		limit = maxSessionLimit
	}

	sessions, err := h.store.ListForUser(c.Request.Context(), userID, limit)
	if err != nil {
		log.Error("list rank sessions failed", slog.Any("error", err))
		Internal(c, "failed to list sessions")
		return
	}

	items := make([]sessionListItem, 0, len(sessions))
	for _, session := range sessions {
		var full []ranking.Item
		if err := json.Unmarshal(session.Items, &full); err != nil {
			log.Error("decode session items failed",
				slog.Uint64("session_id", uint64(session.ID)),
				slog.Any("error", err),
			)
			Internal(c, "failed to decode session")
			return
		}
		items = append(items, sessionListItem{
			ID:                    session.ID,
			JobDescriptionPreview: previewText(session.JobDescription, jobDescriptionPreview),
			Count:                 session.Count,
			CreatedAt:             session.CreatedAt,
			Rankings:              ranking.Summarize(full),
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": items})
}

// GetSession 返回单个会话的完整内容，归属校验在查询层完成。
func (h *RankHandler) GetSession(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	log := middleware.LoggerFromContext(c)

	sessionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid session id")
		return
	}

	session, err := h.store.GetForUser(c.Request.Context(), userID, uint(sessionID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "session not found")
			return
		}
		log.Error("query rank session failed", slog.Any("error", err))
		Internal(c, "failed to query session")
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(session, log))
}

func newSessionResponse(session *database.RankSession, log *slog.Logger) sessionResponse {
	var weights ranking.Weights
	if err := json.Unmarshal(session.Weights, &weights); err != nil {
		log.Warn("decode session weights failed", slog.Uint64("session_id", uint64(session.ID)))
	}
	var items []ranking.Item
	if err := json.Unmarshal(session.Items, &items); err != nil {
		log.Warn("decode session items failed", slog.Uint64("session_id", uint64(session.ID)))
	}

	return sessionResponse{
		ID:             session.ID,
		JobDescription: session.JobDescription,
		Weights:        weights,
		Count:          session.Count,
		CreatedAt:      session.CreatedAt,
		Rankings:       items,
	}
}

func previewText(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
