package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"talkmate-chat/internal/models"
)

var (
	ErrMessageNotFound     = errors.New("message not found")
	ErrNotSender           = errors.New("only the sender can revoke a message")
	ErrAlreadyRevoked      = errors.New("message already revoked")
	ErrRevokeWindowExpired = errors.New("revoke window expired")
)

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessagesForUser(ctx context.Context, conversationID int, userID int, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	RevokeMessage(ctx context.Context, messageID string, userID int) error
	DeleteMessageForUser(ctx context.Context, messageID string, userID int) error
	MarkRead(ctx context.Context, conversationID int, userID int) (time.Time, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and its attachments atomically. The canonical
// identity is minted here, never taken from the client.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	msg.ID = uuid.NewString()
	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, sender_username, type, text, reply_to)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderUsername, msg.Type, msg.Text, msg.ReplyTo).
		Scan(&msg.CreatedAt); err != nil {
		return models.Message{}, err
	}

	for i := range msg.Images {
		a := &msg.Images[i]
		a.MessageID = msg.ID
		a.Kind = models.AttachmentImage
		if err = tx.QueryRowxContext(ctx, `INSERT INTO message_attachments (message_id, kind, name, content_type, size, url, thumbnail_url)
            VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			a.MessageID, a.Kind, a.Name, a.ContentType, a.Size, a.URL, a.ThumbnailURL).Scan(&a.ID); err != nil {
			return models.Message{}, err
		}
	}
	if msg.File != nil {
		a := msg.File
		a.MessageID = msg.ID
		a.Kind = models.AttachmentFile
		if err = tx.QueryRowxContext(ctx, `INSERT INTO message_attachments (message_id, kind, name, content_type, size, url, thumbnail_url)
            VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			a.MessageID, a.Kind, a.Name, a.ContentType, a.Size, a.URL, a.ThumbnailURL).Scan(&a.ID); err != nil {
			return models.Message{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessagesForUser returns the newest messages of a conversation, newest
// first, excluding messages the user deleted for themselves.
func (r *MessageRepo) ListMessagesForUser(ctx context.Context, conversationID int, userID int, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, conversation_id, sender_id, sender_username, type, text, reply_to, revoked, created_at
        FROM messages m
        WHERE m.conversation_id=$1
        AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.user_id=$2)
        ORDER BY m.created_at DESC
        LIMIT $3`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, userID, limit); err != nil {
		return nil, err
	}

	if err := r.attachAttachments(ctx, msgs); err != nil {
		return nil, err
	}
	if err := r.attachSeens(ctx, conversationID, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessage retrieves a single message with its attachments.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT id, conversation_id, sender_id, sender_username, type, text, reply_to, revoked, created_at FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs := []models.Message{msg}
	if err := r.attachAttachments(ctx, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// RevokeMessage retracts a message's content for all participants. The
// one-hour window is enforced here so no caller can bypass it. Revocation is
// monotonic: a revoked message is never un-revoked.
func (r *MessageRepo) RevokeMessage(ctx context.Context, messageID string, userID int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var msg models.Message
	err = tx.GetContext(ctx, &msg, `SELECT id, conversation_id, sender_id, revoked, created_at FROM messages WHERE id=$1 FOR UPDATE`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrMessageNotFound
		return err
	}
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		err = ErrNotSender
		return err
	}
	if msg.Revoked {
		err = ErrAlreadyRevoked
		return err
	}
	if time.Since(msg.CreatedAt) > models.RevokeWindow {
		err = ErrRevokeWindowExpired
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE messages SET revoked = TRUE, text=$2, reply_to='' WHERE id=$1 AND revoked = FALSE`, messageID, models.RevokedPlaceholder); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM message_attachments WHERE message_id=$1`, messageID); err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// DeleteMessageForUser removes a message from one participant's view only.
func (r *MessageRepo) DeleteMessageForUser(ctx context.Context, messageID string, userID int) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_deletions (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, messageID, userID)
	if err != nil {
		return err
	}
	if _, err := res.RowsAffected(); err != nil {
		return err
	}
	return nil
}

// MarkRead records that the user has caught up with a conversation.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID int, userID int) (time.Time, error) {
	var seenAt time.Time
	err := r.db.QueryRowxContext(ctx, `INSERT INTO conversation_reads (conversation_id, user_id, seen_at) VALUES ($1, $2, NOW())
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET seen_at = NOW() RETURNING seen_at`, conversationID, userID).Scan(&seenAt)
	return seenAt, err
}

func (r *MessageRepo) attachAttachments(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}

	query, args, err := sqlx.In(`SELECT id, message_id, kind, name, content_type, size, url, thumbnail_url FROM message_attachments WHERE message_id IN (?) ORDER BY id ASC`, ids)
	if err != nil {
		return err
	}
	query = r.db.Rebind(query)

	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, query, args...); err != nil {
		return err
	}

	byMessage := map[string][]models.Attachment{}
	for _, a := range attachments {
		byMessage[a.MessageID] = append(byMessage[a.MessageID], a)
	}
	for i := range msgs {
		for _, a := range byMessage[msgs[i].ID] {
			if a.Kind == models.AttachmentImage {
				msgs[i].Images = append(msgs[i].Images, a)
			} else {
				file := a
				msgs[i].File = &file
			}
		}
	}
	return nil
}

func (r *MessageRepo) attachSeens(ctx context.Context, conversationID int, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	var reads []models.Seen
	if err := r.db.SelectContext(ctx, &reads, `SELECT user_id, seen_at FROM conversation_reads WHERE conversation_id=$1 ORDER BY seen_at ASC`, conversationID); err != nil {
		return err
	}
	for i := range msgs {
		for _, read := range reads {
			if !read.SeenAt.Before(msgs[i].CreatedAt) && read.UserID != msgs[i].SenderID {
				msgs[i].Seens = append(msgs[i].Seens, read)
			}
		}
	}
	return nil
}
