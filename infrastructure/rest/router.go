// Package rest exposes the hub and the chat service over HTTP with gin.
// The websocket endpoint is mounted on the same router.
package rest

import (
	"chat-presence/auth"
	"chat-presence/contract"
	"chat-presence/domain"
	"chat-presence/errors"
	"chat-presence/services"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

type Handler struct {
	log          *slog.Logger
	auth         contract.Authenticator
	chats        *services.ChatService
	historyLimit int
}

func NewHandler(log *slog.Logger, authenticator contract.Authenticator, chats *services.ChatService, historyLimit int) *Handler {
	return &Handler{log: log, auth: authenticator, chats: chats, historyLimit: historyLimit}
}

// NewRouter mounts the websocket endpoint on /ws and the API under /api, behind bearer auth.
func NewRouter(h *Handler, ws http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/up", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/ws", gin.WrapH(ws))

	api := r.Group("/api", h.requireIdentity())
	api.POST("/messages", h.postMessage)
	api.PUT("/chats/:chatId", h.saveChat)
	api.GET("/chats/:chatId/messages", h.getMessages)
	api.GET("/unread", h.getUnread)
	api.POST("/unread/:chatId/read", h.markRead)
	api.DELETE("/unread", h.clearUnread)
	api.GET("/presence/:userId", h.getPresence)
	return r
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (h *Handler) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := h.auth.VerifyIdentity(c.Request.Context(), auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityOf(c *gin.Context) domain.Identity {
	return c.MustGet(identityKey).(domain.Identity)
}

type postMessageRequest struct {
	ChatID  domain.RoomID `json:"chatId"`
	Content string        `json:"content"`
}

func (h *Handler) postMessage(c *gin.Context) {
	var body postMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, errors.ErrInvalidPayload)
		return
	}
	identity := identityOf(c)
	message, err := h.chats.PostMessage(c.Request.Context(), domain.PostMessageCommand{
		RoomID:     body.ChatID,
		SenderID:   identity.UserID,
		SenderName: identity.Name,
		Content:    body.Content,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

type saveChatRequest struct {
	Name    string          `json:"name"`
	IsGroup bool            `json:"isGroup"`
	Members []domain.UserID `json:"members"`
}

func (h *Handler) saveChat(c *gin.Context) {
	var body saveChatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, errors.ErrInvalidPayload)
		return
	}
	chat := domain.Chat{
		ID:      domain.RoomID(c.Param("chatId")),
		Name:    body.Name,
		IsGroup: body.IsGroup,
		Members: body.Members,
	}
	if err := h.chats.SaveChat(c.Request.Context(), domain.SaveChatCommand{Chat: chat, RequesterID: identityOf(c).UserID}); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) getMessages(c *gin.Context) {
	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(c, errors.ErrInvalidPayload)
			return
		}
		limit = n
	}
	var cursor *string
	if raw := c.Query("cursor"); raw != "" {
		cursor = &raw
	}
	messages, next, err := h.chats.GetMessages(c.Request.Context(), domain.GetMessagesCommand{
		RoomID:      domain.RoomID(c.Param("chatId")),
		RequesterID: identityOf(c).UserID,
		Cursor:      cursor,
		Limit:       limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "cursor": next})
}

func (h *Handler) getUnread(c *gin.Context) {
	all, total, err := h.chats.Unread(c.Request.Context(), identityOf(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": all, "total": total})
}

func (h *Handler) markRead(c *gin.Context) {
	total, err := h.chats.MarkRead(c.Request.Context(), identityOf(c).UserID, domain.RoomID(c.Param("chatId")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total})
}

// clearUnread is called on logout.
func (h *Handler) clearUnread(c *gin.Context) {
	if err := h.chats.ClearUnread(c.Request.Context(), identityOf(c).UserID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getPresence(c *gin.Context) {
	userID := domain.UserID(c.Param("userId"))
	status := domain.StatusOffline
	if h.chats.IsOnline(userID) {
		status = domain.StatusOnline
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "status": status})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case stderrors.Is(err, errors.ErrInvalidPayload):
		status = http.StatusBadRequest
	case stderrors.Is(err, errors.ErrNotChatMember):
		status = http.StatusForbidden
	case stderrors.Is(err, errors.ErrChatNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
