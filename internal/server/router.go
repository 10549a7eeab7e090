// Package server wires the HTTP query surface and the websocket endpoint.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pulsefeed/pulse-backend/internal/auth"
	"github.com/pulsefeed/pulse-backend/internal/messaging"
	"github.com/pulsefeed/pulse-backend/internal/notification"
	"github.com/pulsefeed/pulse-backend/internal/realtime"
	"github.com/pulsefeed/pulse-backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "pulse_user_id"

var (
	errMissingSessionVerifier = errors.New("session verifier dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingMessagesService = errors.New("messaging service dependency required")
	errMissingNotifications   = errors.New("notification service dependency required")
	errMissingGateway         = errors.New("realtime gateway dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// BackendTokenManager issues and validates the backend bearer tokens guarding
// the HTTP and websocket surfaces.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, claims auth.SessionClaims) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// PostPreview carries the display fields of a referenced post.
type PostPreview struct {
	PostID   string `json:"post_id"`
	Caption  string `json:"caption"`
	ImageURL string `json:"image_url"`
}

// PostDirectory resolves post references for notification enrichment. Post
// CRUD lives outside this service; the zero implementation simply reports no
// preview.
type PostDirectory interface {
	Preview(ctx context.Context, postID string) (PostPreview, bool, error)
}

type noPostDirectory struct{}

func (noPostDirectory) Preview(context.Context, string) (PostPreview, bool, error) {
	return PostPreview{}, false, nil
}

// Dependencies bundles everything the HTTP handler needs.
type Dependencies struct {
	SessionVerifier auth.SessionVerifier
	TokenManager    BackendTokenManager
	Users           *users.Service
	Messages        *messaging.Service
	Notifications   *notification.Service
	Gateway         *realtime.Gateway
	Posts           PostDirectory
	AllowedOrigins  []string
	Logger          *zap.Logger
}

// NewHTTPHandler validates dependencies and constructs the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionVerifier == nil {
		return nil, errMissingSessionVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Messages == nil {
		return nil, errMissingMessagesService
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	posts := deps.Posts
	if posts == nil {
		posts = noPostDirectory{}
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:      deps.SessionVerifier,
		tokens:        deps.TokenManager,
		users:         deps.Users,
		messages:      deps.Messages,
		notifications: deps.Notifications,
		gateway:       deps.Gateway,
		posts:         posts,
		logger:        logger,
	}

	router.POST("/auth/session", handler.handleSessionExchange)
	router.GET("/ws", handler.authorizeRequest, handler.handleWebsocket)

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.GET("/conversations", handler.handleListConversations)
	api.GET("/messages/:userId", handler.handleConversationHistory)
	api.POST("/messages", handler.handleCreateMessage)
	api.GET("/notifications", handler.handleListNotifications)
	api.PATCH("/notifications/:id/read", handler.handleMarkNotificationRead)
	api.PATCH("/notifications/read-all", handler.handleMarkAllNotificationsRead)
	api.DELETE("/notifications/:id", handler.handleDeleteNotification)

	return router, nil
}

type httpHandler struct {
	verifier      auth.SessionVerifier
	tokens        BackendTokenManager
	users         *users.Service
	messages      *messaging.Service
	notifications *notification.Service
	gateway       *realtime.Gateway
	posts         PostDirectory
	logger        *zap.Logger
}

type sessionRequestPayload struct {
	Credential string `json:"credential"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleSessionExchange(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Credential) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.Credential)
	if err != nil {
		h.logger.Warn("session credential verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.users.Upsert(c.Request.Context(), users.ProfileInput{
		UserID:      claims.Subject,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		AvatarURL:   claims.AvatarURL,
	}); err != nil {
		h.logger.Error("profile upsert failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_upsert_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	h.gateway.ServeWS(c.Writer, c.Request)
}

type profilePayload struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func profileToPayload(profile users.Profile) profilePayload {
	return profilePayload{
		UserID:      profile.UserID,
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
	}
}

func (h *httpHandler) handleListConversations(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	partners, err := h.messages.Partners(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list conversation partners", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	profiles, err := h.users.ProfilesByID(c.Request.Context(), partners)
	if err != nil {
		h.logger.Error("failed to resolve partner profiles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	response := make([]profilePayload, 0, len(partners))
	for _, partner := range partners {
		if profile, ok := profiles[partner]; ok {
			response = append(response, profileToPayload(profile))
			continue
		}
		response = append(response, profilePayload{UserID: partner, Username: partner})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": response})
}

type messagePayload struct {
	MessageID        string          `json:"message_id"`
	SenderID         string          `json:"sender_id"`
	RecipientID      string          `json:"recipient_id"`
	Text             string          `json:"text"`
	CreatedAtSeconds int64           `json:"created_at_s"`
	Sender           *profilePayload `json:"sender,omitempty"`
}

func (h *httpHandler) handleConversationHistory(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	otherID := strings.TrimSpace(c.Param("userId"))

	records, err := h.messages.Conversation(c.Request.Context(), userID, otherID)
	if err != nil {
		if errors.Is(err, messaging.ErrInvalidUserID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("failed to load conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	profiles, err := h.users.ProfilesByID(c.Request.Context(), []string{userID, otherID})
	if err != nil {
		h.logger.Error("failed to resolve profiles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	response := make([]messagePayload, 0, len(records))
	for _, record := range records {
		item := messagePayload{
			MessageID:        record.MessageID,
			SenderID:         record.SenderID,
			RecipientID:      record.RecipientID,
			Text:             record.Text,
			CreatedAtSeconds: record.CreatedAtSeconds,
		}
		if profile, ok := profiles[record.SenderID]; ok {
			payload := profileToPayload(profile)
			item.Sender = &payload
		}
		response = append(response, item)
	}
	c.JSON(http.StatusOK, gin.H{"messages": response})
}

type createMessagePayload struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

func (h *httpHandler) handleCreateMessage(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request createMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if _, err := h.users.Get(c.Request.Context(), request.RecipientID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recipient_not_found"})
			return
		}
		h.logger.Error("recipient lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	record, err := h.messages.Create(c.Request.Context(), userID, request.RecipientID, request.Text)
	if err != nil {
		if errors.Is(err, messaging.ErrInvalidUserID) || errors.Is(err, messaging.ErrEmptyText) || errors.Is(err, messaging.ErrSelfConversation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("message create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": messagePayload{
		MessageID:        record.MessageID,
		SenderID:         record.SenderID,
		RecipientID:      record.RecipientID,
		Text:             record.Text,
		CreatedAtSeconds: record.CreatedAtSeconds,
	}})
}

type notificationPayload struct {
	NotificationID   string          `json:"notification_id"`
	SenderID         string          `json:"sender_id"`
	Type             string          `json:"type"`
	PostID           string          `json:"post_id,omitempty"`
	IsRead           bool            `json:"is_read"`
	CreatedAtSeconds int64           `json:"created_at_s"`
	Sender           *profilePayload `json:"sender,omitempty"`
	Post             *PostPreview    `json:"post,omitempty"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	records, err := h.notifications.ListForRecipient(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	unread, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to count unread notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	senderIDs := make([]string, 0, len(records))
	seen := make(map[string]struct{})
	for _, record := range records {
		if _, ok := seen[record.SenderID]; ok {
			continue
		}
		seen[record.SenderID] = struct{}{}
		senderIDs = append(senderIDs, record.SenderID)
	}
	profiles, err := h.users.ProfilesByID(c.Request.Context(), senderIDs)
	if err != nil {
		h.logger.Error("failed to resolve sender profiles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	response := make([]notificationPayload, 0, len(records))
	for _, record := range records {
		item := notificationPayload{
			NotificationID:   record.NotificationID,
			SenderID:         record.SenderID,
			Type:             string(record.Type),
			PostID:           record.PostID,
			IsRead:           record.IsRead,
			CreatedAtSeconds: record.CreatedAtSeconds,
		}
		if profile, ok := profiles[record.SenderID]; ok {
			payload := profileToPayload(profile)
			item.Sender = &payload
		}
		if record.PostID != "" {
			preview, found, err := h.posts.Preview(c.Request.Context(), record.PostID)
			if err != nil {
				h.logger.Warn("post preview lookup failed",
					zap.String("post_id", record.PostID),
					zap.Error(err))
			} else if found {
				item.Post = &preview
			}
		}
		response = append(response, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": response,
		"unread_count":  unread,
	})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	record, err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to mark notification read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification": notificationPayload{
		NotificationID:   record.NotificationID,
		SenderID:         record.SenderID,
		Type:             string(record.Type),
		PostID:           record.PostID,
		IsRead:           record.IsRead,
		CreatedAtSeconds: record.CreatedAtSeconds,
	}})
}

func (h *httpHandler) handleMarkAllNotificationsRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.notifications.MarkAllRead(c.Request.Context(), userID); err != nil {
		h.logger.Error("failed to mark all notifications read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleDeleteNotification(c *gin.Context) {
	if err := h.notifications.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to delete notification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizeRequest accepts the backend token from the Authorization header
// or, for websocket handshakes, the access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
