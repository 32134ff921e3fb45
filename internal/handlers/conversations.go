package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"talkmate-chat/internal/models"
	"talkmate-chat/internal/repositories"
)

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	conversationRepo repositories.ConversationRepository
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conversationRepo repositories.ConversationRepository) *ConversationHandler {
	return &ConversationHandler{conversationRepo: conversationRepo}
}

// ListConversations returns the conversations visible to the authenticated user.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")

	conversations, err := h.conversationRepo.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// StartConversation creates a conversation with the given members.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		MemberIDs []int `json:"member_ids"`
		Members   []struct {
			UserID   int    `json:"user_id"`
			Username string `json:"username"`
		} `json:"members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	creator := models.Member{UserID: userID, Username: c.GetString("username")}

	members := make([]models.Member, 0, len(req.Members)+len(req.MemberIDs))
	for _, m := range req.Members {
		members = append(members, models.Member{UserID: m.UserID, Username: m.Username})
	}
	for _, id := range req.MemberIDs {
		members = append(members, models.Member{UserID: id})
	}
	if len(members) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one other member required"})
		return
	}
	for _, m := range members {
		if m.UserID == userID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
			return
		}
	}

	conv, err := h.conversationRepo.CreateConversation(c.Request.Context(), creator, members)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID})
}

// HideConversationForMe hides the conversation for the requester.
func (h *ConversationHandler) HideConversationForMe(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	userID := c.GetInt("userID")

	member, err := h.conversationRepo.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	if err := h.conversationRepo.HideConversationForUser(c.Request.Context(), conversationID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not hide conversation"})
		return
	}

	c.Status(http.StatusNoContent)
}

func conversationNotFoundStatus(err error) int {
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
