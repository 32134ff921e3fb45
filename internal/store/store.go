package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"talkmate-chat/internal/media"
	"talkmate-chat/internal/models"
)

var (
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrNoAuthenticatedUser  = errors.New("no authenticated user")
)

// OutgoingAttachment is the original binary of an attachment being sent. It is
// retained on the optimistic entry so a retry resubmits the exact same bytes.
type OutgoingAttachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// CreateMessageRequest is what the store submits to the remote service.
type CreateMessageRequest struct {
	Text        string
	ReplyTo     string
	Attachments []OutgoingAttachment
}

// Service is the remote message service the store reconciles against.
type Service interface {
	CreateMessage(ctx context.Context, conversationID int, req CreateMessageRequest) (models.Message, error)
	RevokeMessage(ctx context.Context, conversationID int, messageID string) error
	DeleteMessageForMe(ctx context.Context, conversationID int, messageID string) error
	MarkRead(ctx context.Context, conversationID int) error
}

// Notice is a transient user-facing failure report for operations whose
// optimistic change is not representable as a per-message retryable status.
type Notice struct {
	Op        string
	MessageID string
	Err       error
}

// pendingSend is the retained payload of a not-yet-confirmed message, together
// with the preview handles that entry owns.
type pendingSend struct {
	req      CreateMessageRequest
	previews []*Preview
}

// MessageStore holds the client's view of a conversation's messages, newest
// first, and keeps it consistent with the remote service. Mutations are atomic
// with respect to each other; remote calls happen outside the lock, so
// reconciliation always looks entries up by identity, never by position.
type MessageStore struct {
	mu       sync.Mutex
	svc      Service
	previews *PreviewRegistry

	conversationID int
	userID         int
	username       string

	messages []models.Message
	pending  map[string]*pendingSend

	listener func([]models.Message)
	onNotice func(Notice)
	now      func() time.Time
}

// Option configures a MessageStore.
type Option func(*MessageStore)

// WithListener registers a callback invoked with a snapshot after every
// mutation. The callback runs outside the store lock.
func WithListener(fn func([]models.Message)) Option {
	return func(s *MessageStore) { s.listener = fn }
}

// WithNoticeHandler registers a callback for transient failure notices.
func WithNoticeHandler(fn func(Notice)) Option {
	return func(s *MessageStore) { s.onNotice = fn }
}

// WithClock overrides the store's clock.
func WithClock(now func() time.Time) Option {
	return func(s *MessageStore) { s.now = now }
}

// New constructs a MessageStore backed by the given remote service.
func New(svc Service, opts ...Option) *MessageStore {
	s := &MessageStore{
		svc:      svc,
		previews: NewPreviewRegistry(),
		pending:  make(map[string]*pendingSend),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetUser records the authenticated sender.
func (s *MessageStore) SetUser(userID int, username string) {
	s.mu.Lock()
	s.userID = userID
	s.username = username
	s.mu.Unlock()
}

// SetActiveConversation records which conversation the store operates on.
func (s *MessageStore) SetActiveConversation(conversationID int) {
	s.mu.Lock()
	s.conversationID = conversationID
	s.mu.Unlock()
}

// Previews exposes the registry resolving local preview URLs.
func (s *MessageStore) Previews() *PreviewRegistry {
	return s.previews
}

// Messages returns a snapshot of the current list, newest first.
func (s *MessageStore) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SetInitialMessages replaces the entire list with a freshly-fetched page.
// The caller supplies messages already in newest-first order. Any optimistic
// entries are discarded and their preview handles released.
func (s *MessageStore) SetInitialMessages(list []models.Message) {
	s.mu.Lock()
	for _, p := range s.pending {
		releasePreviews(p)
	}
	s.pending = make(map[string]*pendingSend)
	s.messages = append([]models.Message(nil), list...)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// AddMessage inserts an externally-sourced message at the head of the list,
// unless a message with that identity is already present. It guards against
// duplicate delivery from overlapping load and realtime-push paths.
func (s *MessageStore) AddMessage(msg models.Message) {
	s.mu.Lock()
	if s.indexOf(msg.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.messages = append([]models.Message{msg}, s.messages...)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// SendMessage creates an optimistic entry at the head of the list and submits
// it to the remote service. The returned id is the entry's temporary identity.
// Transport failures are not returned: they surface as StatusError on the
// entry itself plus a notice, so the UI can offer an inline retry.
func (s *MessageStore) SendMessage(ctx context.Context, text string, attachments []OutgoingAttachment, replyTo string) (string, error) {
	s.mu.Lock()
	if s.conversationID == 0 {
		s.mu.Unlock()
		return "", ErrNoActiveConversation
	}
	if s.userID == 0 {
		s.mu.Unlock()
		return "", ErrNoAuthenticatedUser
	}

	tempID := models.TempIDPrefix + uuid.NewString()
	req := CreateMessageRequest{Text: text, ReplyTo: replyTo, Attachments: attachments}

	msg := models.Message{
		ID:             tempID,
		ConversationID: s.conversationID,
		SenderID:       s.userID,
		SenderUsername: s.username,
		Type:           models.MessageTypeText,
		Text:           text,
		ReplyTo:        replyTo,
		Status:         models.StatusSending,
		CreatedAt:      s.now(),
	}

	p := &pendingSend{req: req}
	for _, a := range attachments {
		if media.IsImage(a.Name) {
			preview := s.previews.Create(a.Data)
			p.previews = append(p.previews, preview)
			msg.Type = models.MessageTypeImage
			msg.Images = append(msg.Images, models.Attachment{
				Kind:        models.AttachmentImage,
				Name:        a.Name,
				ContentType: a.ContentType,
				Size:        int64(len(a.Data)),
				URL:         preview.URL(),
			})
		} else if msg.File == nil {
			preview := s.previews.Create(a.Data)
			p.previews = append(p.previews, preview)
			msg.Type = models.MessageTypeFile
			msg.File = &models.Attachment{
				Kind:        models.AttachmentFile,
				Name:        a.Name,
				ContentType: a.ContentType,
				Size:        int64(len(a.Data)),
				URL:         preview.URL(),
			}
		}
	}
	if len(msg.Images) > 0 {
		msg.Type = models.MessageTypeImage
	}

	s.pending[tempID] = p
	s.messages = append([]models.Message{msg}, s.messages...)
	conversationID := s.conversationID
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	created, err := s.svc.CreateMessage(ctx, conversationID, req)
	s.completeSend(ctx, tempID, created, err)
	return tempID, nil
}

// RetryMessage resubmits a failed send under its existing temporary identity.
// Unknown identities are a benign no-op. The resubmitted text and attachment
// bytes are the ones retained from the original send.
func (s *MessageStore) RetryMessage(ctx context.Context, tempID string) {
	s.mu.Lock()
	p, ok := s.pending[tempID]
	idx := s.indexOf(tempID)
	if !ok || idx < 0 || s.messages[idx].Status != models.StatusError {
		// Only failed sends are retryable: a second submission while the
		// first is still in flight would orphan a duplicate server record.
		s.mu.Unlock()
		return
	}
	s.messages[idx].Status = models.StatusSending
	req := p.req
	conversationID := s.conversationID
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	created, err := s.svc.CreateMessage(ctx, conversationID, req)
	s.completeSend(ctx, tempID, created, err)
}

// completeSend reconciles the optimistic entry once the remote call resolves.
// The entry is looked up by identity: other operations may have interleaved
// between the optimistic insert and this point, so position means nothing.
func (s *MessageStore) completeSend(ctx context.Context, tempID string, created models.Message, err error) {
	s.mu.Lock()
	idx := s.indexOf(tempID)
	if idx < 0 {
		// The entry was deleted while in flight. If the send actually
		// succeeded the server record is orphaned from this client's view.
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.messages[idx].Status = models.StatusError
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publish(snap)
		s.notice(Notice{Op: "send", MessageID: tempID, Err: err})
		return
	}

	revoked := s.messages[idx].Revoked
	if created.ReplyTo == "" {
		created.ReplyTo = s.messages[idx].ReplyTo
	}
	created.Status = models.StatusSent

	if s.indexOf(created.ID) >= 0 {
		// The realtime transport already delivered the canonical record,
		// which happens whenever the server broadcast beats the HTTP
		// response. Drop the temporary entry so the identity appears once.
		s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
		idx = s.indexOf(created.ID)
	} else {
		// Identity swap in place: the entry keeps its position, the
		// temporary id is retired and the canonical record takes over.
		s.messages[idx] = created
	}

	if revoked {
		// A revoke applied while the send was in flight is monotonic: the
		// confirmation must not resurface the content.
		msg := &s.messages[idx]
		msg.Revoked = true
		msg.Text = models.RevokedPlaceholder
		msg.Images = nil
		msg.File = nil
		msg.ReplyTo = ""
	}

	if p, ok := s.pending[tempID]; ok {
		releasePreviews(p)
		delete(s.pending, tempID)
	}
	conversationID := s.conversationID
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	// The remote revoke could not run earlier: the message had no canonical
	// id yet. Issue it now.
	if revoked {
		if err := s.svc.RevokeMessage(ctx, conversationID, created.ID); err != nil {
			s.notice(Notice{Op: "revoke", MessageID: created.ID, Err: err})
		}
	}
}

// CanRevoke is the caller-side policy check for the revoke affordance: only
// the author may revoke, only once, and only within the revoke window.
func (s *MessageStore) CanRevoke(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(messageID)
	if idx < 0 {
		return false
	}
	msg := s.messages[idx]
	return msg.SenderID == s.userID && !msg.Revoked && s.now().Sub(msg.CreatedAt) <= models.RevokeWindow
}

// RevokeMessage optimistically replaces the message's content with the
// placeholder and clears its attachments, then issues the remote revoke.
// Revocation is monotonic: a failed remote call produces a notice but never
// restores the content.
func (s *MessageStore) RevokeMessage(ctx context.Context, messageID string) {
	s.mu.Lock()
	idx := s.indexOf(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	msg := &s.messages[idx]
	if msg.Revoked {
		s.mu.Unlock()
		return
	}
	msg.Revoked = true
	msg.Text = models.RevokedPlaceholder
	msg.Images = nil
	msg.File = nil
	msg.ReplyTo = ""
	persisted := !msg.IsTemp() && msg.Status != models.StatusError
	conversationID := s.conversationID
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	if !persisted {
		return
	}
	if err := s.svc.RevokeMessage(ctx, conversationID, messageID); err != nil {
		s.notice(Notice{Op: "revoke", MessageID: messageID, Err: err})
	}
}

// DeleteMessage removes the message from the local list immediately and issues
// a best-effort delete-for-self. The entry is never restored, even if the
// remote call fails; the failure only produces a notice.
func (s *MessageStore) DeleteMessage(ctx context.Context, messageID string) {
	s.mu.Lock()
	idx := s.indexOf(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	msg := s.messages[idx]
	persisted := !msg.IsTemp() && msg.Status != models.StatusError
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	if p, ok := s.pending[messageID]; ok {
		releasePreviews(p)
		delete(s.pending, messageID)
	}
	conversationID := s.conversationID
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	if !persisted {
		return
	}
	if err := s.svc.DeleteMessageForMe(ctx, conversationID, messageID); err != nil {
		s.notice(Notice{Op: "delete", MessageID: messageID, Err: err})
	}
}

// ApplyRevoke applies a revoke pushed over the realtime transport.
func (s *MessageStore) ApplyRevoke(messageID string) {
	s.mu.Lock()
	idx := s.indexOf(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	msg := &s.messages[idx]
	msg.Revoked = true
	msg.Text = models.RevokedPlaceholder
	msg.Images = nil
	msg.File = nil
	msg.ReplyTo = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// ApplySeen appends a read receipt pushed over the realtime transport to every
// message the member has now caught up with.
func (s *MessageStore) ApplySeen(userID int, seenAt time.Time) {
	s.mu.Lock()
	for i := range s.messages {
		msg := &s.messages[i]
		if msg.SenderID == userID || seenAt.Before(msg.CreatedAt) {
			continue
		}
		already := false
		for _, seen := range msg.Seens {
			if seen.UserID == userID {
				already = true
				break
			}
		}
		if !already {
			msg.Seens = append(msg.Seens, models.Seen{UserID: userID, SeenAt: seenAt})
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// Remove drops a message without contacting the remote service, for deletes
// pushed from the user's other devices.
func (s *MessageStore) Remove(messageID string) {
	s.mu.Lock()
	idx := s.indexOf(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	if p, ok := s.pending[messageID]; ok {
		releasePreviews(p)
		delete(s.pending, messageID)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// MarkRead records that the user caught up with the active conversation.
func (s *MessageStore) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	conversationID := s.conversationID
	s.mu.Unlock()
	if conversationID == 0 {
		return ErrNoActiveConversation
	}
	return s.svc.MarkRead(ctx, conversationID)
}

func (s *MessageStore) indexOf(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) snapshotLocked() []models.Message {
	return append([]models.Message(nil), s.messages...)
}

func (s *MessageStore) publish(snap []models.Message) {
	if s.listener != nil {
		s.listener(snap)
	}
}

func (s *MessageStore) notice(n Notice) {
	if s.onNotice != nil {
		s.onNotice(n)
	}
}

func releasePreviews(p *pendingSend) {
	for _, preview := range p.previews {
		preview.Release()
	}
}
