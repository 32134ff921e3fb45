package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkmate-chat/internal/models"
	"talkmate-chat/internal/store"
)

func TestCreateMessageEncodesMultipart(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/conversations/5/messages", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hello", r.FormValue("text"))
		assert.Equal(t, "m-0", r.FormValue("reply_to"))

		files := r.MultipartForm.File["attachments"]
		require.Len(t, files, 1)
		assert.Equal(t, "photo.jpg", files[0].Filename)
		f, err := files[0].Open()
		require.NoError(t, err)
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		f.Close()
		assert.Equal(t, []byte{0xff, 0xd8}, data)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Message{ID: "m-1", ConversationID: 5, Text: "hello"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-abc")
	msg, err := client.CreateMessage(context.Background(), 5, store.CreateMessageRequest{
		Text:    "hello",
		ReplyTo: "m-0",
		Attachments: []store.OutgoingAttachment{
			{Name: "photo.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, "Bearer token-abc", gotAuth)
}

func TestCreateMessageSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "not a conversation member"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-abc")
	_, err := client.CreateMessage(context.Background(), 5, store.CreateMessageRequest{Text: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "not a conversation member")
}

func TestRevokeMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/conversations/5/messages/m-1/revoke", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-abc")
	require.NoError(t, client.RevokeMessage(context.Background(), 5, "m-1"))
}

func TestDeleteMessageForMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/conversations/5/messages/m-1/me", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-abc")
	require.NoError(t, client.DeleteMessageForMe(context.Background(), 5, "m-1"))
}

func TestMarkRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/conversations/5/read", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"seen_at": "2026-01-02T03:04:05Z"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-abc")
	require.NoError(t, client.MarkRead(context.Background(), 5))
}

func TestListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/5/messages", r.URL.Path)
		require.Equal(t, "20", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []models.Message{{ID: "m-2"}, {ID: "m-1"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-abc")
	msgs, err := client.ListMessages(context.Background(), 5, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m-2", msgs[0].ID)
}

func TestStartConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/start", r.URL.Path)
		var req map[string][]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []int{2, 3}, req["member_ids"])
		json.NewEncoder(w).Encode(map[string]int{"conversation_id": 9})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-abc")
	id, err := client.StartConversation(context.Background(), []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, 9, id)
}
