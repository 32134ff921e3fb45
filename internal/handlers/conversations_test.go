package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"talkmate-chat/internal/mocks"
	"talkmate-chat/internal/models"
)

func setupConversationRouter(handler *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Set("username", "alice")
		c.Next()
	})
	r.GET("/conversations", handler.ListConversations)
	r.POST("/conversations/start", handler.StartConversation)
	r.DELETE("/conversations/:conversation_id/me", handler.HideConversationForMe)
	return r
}

func TestListConversationsSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo)
	router := setupConversationRouter(handler)

	convRepo.On("ListConversations", mock.Anything, 1).
		Return([]models.ConversationSummary{{ConversationID: 5}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	convRepo.AssertExpectations(t)
}

func TestListConversationsRepoError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo)
	router := setupConversationRouter(handler)

	convRepo.On("ListConversations", mock.Anything, 1).
		Return(([]models.ConversationSummary)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestStartConversationSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo)
	router := setupConversationRouter(handler)

	convRepo.On("CreateConversation", mock.Anything,
		models.Member{UserID: 1, Username: "alice"},
		[]models.Member{{UserID: 2, Username: "bob"}}).
		Return(models.Conversation{ID: 7, CreatorID: 1}, nil).Once()

	body := bytes.NewBufferString(`{"members":[{"user_id":2,"username":"bob"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/start", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 7, resp["conversation_id"])
	convRepo.AssertExpectations(t)
}

func TestStartConversationByIDsOnly(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo)
	router := setupConversationRouter(handler)

	convRepo.On("CreateConversation", mock.Anything,
		models.Member{UserID: 1, Username: "alice"},
		[]models.Member{{UserID: 2}, {UserID: 3}}).
		Return(models.Conversation{ID: 8, CreatorID: 1}, nil).Once()

	body := bytes.NewBufferString(`{"member_ids":[2,3]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/start", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestStartConversationWithSelf(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo)
	router := setupConversationRouter(handler)

	body := bytes.NewBufferString(`{"member_ids":[1]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/start", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	convRepo.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartConversationNoMembers(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo)
	router := setupConversationRouter(handler)

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/start", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	convRepo.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestHideConversationSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo)
	router := setupConversationRouter(handler)

	convRepo.On("IsMember", mock.Anything, 5, 1).Return(true, nil).Once()
	convRepo.On("HideConversationForUser", mock.Anything, 5, 1).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/5/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestHideConversationNotMember(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo)
	router := setupConversationRouter(handler)

	convRepo.On("IsMember", mock.Anything, 5, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/5/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	convRepo.AssertNotCalled(t, "HideConversationForUser", mock.Anything, mock.Anything, mock.Anything)
}
