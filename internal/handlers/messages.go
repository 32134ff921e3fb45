package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"talkmate-chat/internal/media"
	"talkmate-chat/internal/models"
	"talkmate-chat/internal/observability"
	"talkmate-chat/internal/repositories"
	"talkmate-chat/internal/ws"
)

// MessageHandler manages message endpoints of a conversation.
type MessageHandler struct {
	conversationRepo repositories.ConversationRepository
	messageRepo      repositories.MessageRepository
	media            *media.Service
	hub              *ws.Hub
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(conversationRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, mediaService *media.Service, hub *ws.Hub) *MessageHandler {
	return &MessageHandler{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		media:            mediaService,
		hub:              hub,
	}
}

// GetMessages returns a conversation's newest messages, newest first, filtered
// for the user.
func (h *MessageHandler) GetMessages(c *gin.Context) {
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

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := h.messageRepo.ListMessagesForUser(c.Request.Context(), conversationID, userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message with its attachments, broadcasts it and returns
// the canonical record.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	userID := c.GetInt("userID")
	conv, err := h.conversationRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(conversationNotFoundStatus(err), gin.H{"error": "conversation not found"})
		return
	}

	member, err := h.conversationRepo.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	text := c.PostForm("text")
	replyTo := c.PostForm("reply_to")
	files := form.File["attachments"]

	if strings.TrimSpace(text) == "" && len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message needs text or attachments"})
		return
	}
	if strings.HasPrefix(replyTo, models.TempIDPrefix) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reply_to must reference a confirmed message"})
		return
	}

	msg := models.Message{
		ConversationID: conv.ID,
		SenderID:       userID,
		SenderUsername: c.GetString("username"),
		Type:           models.MessageTypeText,
		Text:           text,
		ReplyTo:        replyTo,
	}

	for _, fh := range files {
		attachment, err := h.media.ProcessAttachment(c.Request.Context(), fh)
		if err != nil {
			observability.IncMessageOp("send", "upload_error")
			status := http.StatusBadGateway
			if errors.Is(err, media.ErrAttachmentTooLarge) || errors.Is(err, media.ErrUnsupportedFileType) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": "failed to store attachment"})
			return
		}
		if attachment.Kind == models.AttachmentImage {
			msg.Type = models.MessageTypeImage
			msg.Images = append(msg.Images, attachment)
		} else if msg.File == nil {
			msg.Type = models.MessageTypeFile
			file := attachment
			msg.File = &file
		}
	}
	if len(msg.Images) > 0 {
		msg.Type = models.MessageTypeImage
	}

	created, err := h.messageRepo.CreateMessage(c.Request.Context(), msg)
	if err != nil {
		observability.IncMessageOp("send", "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	observability.IncMessageOp("send", "ok")

	// A new message makes the conversation visible again for every member.
	if members, err := h.conversationRepo.GetMembers(c.Request.Context(), conversationID); err == nil {
		for _, m := range members {
			h.conversationRepo.UnhideConversationForUser(c.Request.Context(), conversationID, m.UserID)
		}
	}

	h.hub.BroadcastMessage(conversationID, created)
	c.JSON(http.StatusCreated, created)
}

// RevokeMessage retracts a message's content for all participants (sender
// only, within the revoke window).
func (h *MessageHandler) RevokeMessage(c *gin.Context) {
	conversationID, messageID, ok := parseIDs(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(messageNotFoundStatus(err), gin.H{"error": "message not found"})
		return
	}
	if msg.ConversationID != conversationID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to conversation"})
		return
	}

	if err := h.messageRepo.RevokeMessage(c.Request.Context(), messageID, userID); err != nil {
		observability.IncMessageOp("revoke", "error")
		switch {
		case errors.Is(err, repositories.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		case errors.Is(err, repositories.ErrNotSender):
			c.JSON(http.StatusForbidden, gin.H{"error": "only sender can revoke"})
		case errors.Is(err, repositories.ErrAlreadyRevoked):
			c.JSON(http.StatusConflict, gin.H{"error": "message already revoked"})
		case errors.Is(err, repositories.ErrRevokeWindowExpired):
			c.JSON(http.StatusForbidden, gin.H{"error": "revoke window expired"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not revoke message"})
		}
		return
	}
	observability.IncMessageOp("revoke", "ok")

	h.hub.BroadcastRevoke(conversationID, messageID)
	c.Status(http.StatusNoContent)
}

// DeleteMessageForMe removes a message from the caller's view only.
func (h *MessageHandler) DeleteMessageForMe(c *gin.Context) {
	conversationID, messageID, ok := parseIDs(c)
	if !ok {
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

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(messageNotFoundStatus(err), gin.H{"error": "message not found"})
		return
	}
	if msg.ConversationID != conversationID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to conversation"})
		return
	}

	if err := h.messageRepo.DeleteMessageForUser(c.Request.Context(), messageID, userID); err != nil {
		observability.IncMessageOp("delete", "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete message"})
		return
	}
	observability.IncMessageOp("delete", "ok")

	h.hub.BroadcastDeletion(conversationID, messageID, userID)
	c.Status(http.StatusNoContent)
}

// MarkRead records that the user has caught up with the conversation.
func (h *MessageHandler) MarkRead(c *gin.Context) {
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

	seenAt, err := h.messageRepo.MarkRead(c.Request.Context(), conversationID, userID)
	if err != nil {
		observability.IncMessageOp("read", "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark as read"})
		return
	}
	observability.IncMessageOp("read", "ok")

	h.hub.BroadcastSeen(conversationID, userID, seenAt)
	c.JSON(http.StatusOK, gin.H{"seen_at": seenAt})
}

func parseIDs(c *gin.Context) (int, string, bool) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, "", false
	}
	messageID := c.Param("message_id")
	if messageID == "" || strings.HasPrefix(messageID, models.TempIDPrefix) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, "", false
	}
	return conversationID, messageID, true
}

func messageNotFoundStatus(err error) int {
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
