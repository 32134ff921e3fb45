package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"

	"talkmate-chat/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, creator models.Member, members []models.Member) (models.Conversation, error)
	IsMember(ctx context.Context, conversationID int, userID int) (bool, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	GetMembers(ctx context.Context, conversationID int) ([]models.Member, error)
	ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error)
	HideConversationForUser(ctx context.Context, conversationID int, userID int) error
	UnhideConversationForUser(ctx context.Context, conversationID int, userID int) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateConversation creates a conversation and its members atomically.
func (r *ConversationRepo) CreateConversation(ctx context.Context, creator models.Member, members []models.Member) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (creator_id) VALUES ($1) RETURNING id, creator_id, created_at`, creator.UserID).
		Scan(&conv.ID, &conv.CreatorID, &conv.CreatedAt); err != nil {
		return models.Conversation{}, err
	}

	// ensure creator present and dedupe members
	memberByID := map[int]models.Member{creator.UserID: creator}
	for _, m := range members {
		if _, ok := memberByID[m.UserID]; !ok {
			memberByID[m.UserID] = m
		}
	}
	ids := make([]int, 0, len(memberByID))
	for id := range memberByID {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		m := memberByID[id]
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, username, avatar_url) VALUES ($1, $2, $3, $4)`, conv.ID, m.UserID, m.Username, m.AvatarURL); err != nil {
			return models.Conversation{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// IsMember checks membership.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, creator_id, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// GetMembers returns the members of a conversation.
func (r *ConversationRepo) GetMembers(ctx context.Context, conversationID int) ([]models.Member, error) {
	var members []models.Member
	err := r.db.SelectContext(ctx, &members, `SELECT conversation_id, user_id, username, avatar_url, joined_at FROM conversation_members WHERE conversation_id=$1 ORDER BY joined_at ASC`, conversationID)
	return members, err
}

// ListConversations returns conversations visible to the user, newest first.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.created_at FROM conversations c
        INNER JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id=$1
        LEFT JOIN conversation_visibility cv ON cv.conversation_id = c.id AND cv.user_id=$1
        WHERE cv.hidden IS NULL OR cv.hidden = FALSE
        ORDER BY c.created_at DESC`
	var summaries []models.ConversationSummary
	if err := r.db.SelectContext(ctx, &summaries, query, userID); err != nil {
		return nil, err
	}

	for i := range summaries {
		members, err := r.GetMembers(ctx, summaries[i].ConversationID)
		if err != nil {
			return nil, err
		}
		summaries[i].Members = members
	}
	return summaries, nil
}

// HideConversationForUser marks a conversation hidden for the user.
func (r *ConversationRepo) HideConversationForUser(ctx context.Context, conversationID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_visibility (conversation_id, user_id, hidden) VALUES ($1, $2, TRUE)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET hidden = EXCLUDED.hidden`, conversationID, userID)
	return err
}

// UnhideConversationForUser removes the hidden flag for the user.
func (r *ConversationRepo) UnhideConversationForUser(ctx context.Context, conversationID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_visibility (conversation_id, user_id, hidden) VALUES ($1, $2, FALSE)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET hidden = FALSE`, conversationID, userID)
	return err
}
