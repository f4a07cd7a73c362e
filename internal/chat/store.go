package chat

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Syncline/internal/event"
	"Syncline/internal/model"
)

const defaultPageSize = 20

// tempIDPrefix marks optimistic entries that have not been confirmed by the
// message API yet.
const tempIDPrefix = "tmp-"

// Sender transmits an envelope over the push channel.
type Sender interface {
	Send(event.Envelope) error
}

// ChatAPI is the REST message store consumed by the Store.
type ChatAPI interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
	Messages(ctx context.Context, conversationID string, page, size int64) (*model.Page[model.Message], error)
	CreateMessage(ctx context.Context, req model.CreateMessageRequest) (*model.Message, error)
	MarkMessageRead(ctx context.Context, messageID string) error
	MarkConversationRead(ctx context.Context, conversationID string) error
	DeleteMessage(ctx context.Context, messageID string) error
}

// Store holds per-conversation ordered message lists and conversation
// summaries. REST pages, push events and optimistic local sends all funnel
// through one merge procedure keyed by message id, with the timestamp as the
// ordering tiebreak, so concurrent sources never duplicate or lose messages.
type Store struct {
	currentUser string
	api         ChatAPI
	conn        Sender
	clock       Clock
	logger      *zap.Logger

	mu        sync.Mutex
	summaries []model.Conversation
	messages  map[string][]model.Message // conversation id -> ascending by timestamp
}

func NewStore(currentUser string, api ChatAPI, conn Sender, dispatcher *Dispatcher, clock Clock, logger *zap.Logger) *Store {
	if clock == nil {
		clock = NewClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		currentUser: currentUser,
		api:         api,
		conn:        conn,
		clock:       clock,
		logger:      logger,
		messages:    make(map[string][]model.Message),
	}
	if dispatcher != nil {
		dispatcher.Subscribe(event.TypeMessage, s.handleMessage)
		dispatcher.Subscribe(event.TypeReadReceipt, s.handleReadReceipt)
	}
	return s
}

// LoadConversations replaces the local summary list with the authoritative
// one from the message API. Per-conversation message caches are untouched.
func (s *Store) LoadConversations(ctx context.Context) error {
	convs, err := s.api.Conversations(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.summaries = convs
	for i := range s.summaries {
		// Local caches are the source of truth for unread counts once
		// messages are loaded; server values cover the rest.
		if _, ok := s.messages[s.summaries[i].ID]; ok {
			s.recomputeUnreadLocked(s.summaries[i].ID)
		}
	}
	s.mu.Unlock()
	return nil
}

// LoadMessages fetches one history page and merges it into the conversation's
// list. Fetching the same page twice is a no-op: entries merge by message id.
func (s *Store) LoadMessages(ctx context.Context, conversationID string, page int64) (*model.Page[model.Message], error) {
	pg, err := s.api.Messages(ctx, conversationID, page, defaultPageSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.mergeLocked(conversationID, pg.Content...)
	s.recomputeUnreadLocked(conversationID)
	s.mu.Unlock()
	return pg, nil
}

// SendMessage appends an optimistic entry immediately, then persists the
// message through the REST store and transmits the confirmed message over the
// push channel for low-latency delivery. The local list reflects the sent
// message before any network round-trip completes. A durability error leaves
// the optimistic entry in place and is reported to the caller.
func (s *Store) SendMessage(ctx context.Context, receiverID, content string, msgType model.MessageType, activityID string) (model.Message, error) {
	if msgType == "" {
		msgType = model.MessageTypeText
	}

	temp := model.Message{
		ID:         tempIDPrefix + uuid.NewString(),
		SenderID:   s.currentUser,
		ReceiverID: receiverID,
		Content:    content,
		Type:       msgType,
		ActivityID: activityID,
		Timestamp:  s.clock.Now(),
	}

	s.mu.Lock()
	temp.ConversationID = s.conversationWithLocked(receiverID)
	key := s.cacheKey(temp)
	s.mergeLocked(key, temp)
	s.mu.Unlock()

	final, err := s.api.CreateMessage(ctx, model.CreateMessageRequest{
		ReceiverID:  receiverID,
		Content:     content,
		MessageType: msgType,
		ActivityID:  activityID,
	})
	if err != nil {
		return temp, err
	}

	s.mu.Lock()
	s.replaceTempLocked(key, temp.ID, *final)
	s.mu.Unlock()

	if s.conn != nil {
		env, envErr := event.New(event.TypeMessage, final, s.clock.Now())
		if envErr == nil {
			if sendErr := s.conn.Send(env); sendErr != nil {
				// The durable copy exists; live delivery rides on the
				// server-side push instead.
				s.logger.Debug("push transmit skipped", zap.Error(sendErr))
			}
		}
	}
	return *final, nil
}

// MarkAsRead flips a single message to read locally, then notifies the
// message API and the peer.
func (s *Store) MarkAsRead(ctx context.Context, messageID string) error {
	s.mu.Lock()
	conversationID := ""
	for convID, list := range s.messages {
		for i := range list {
			if list[i].ID == messageID {
				list[i].Read = true
				conversationID = convID
				break
			}
		}
	}
	if conversationID != "" {
		s.recomputeUnreadLocked(conversationID)
	}
	s.mu.Unlock()

	err := s.api.MarkMessageRead(ctx, messageID)
	s.sendReadReceipt(messageID, conversationID)
	return err
}

// MarkConversationAsRead flips every unread peer message in the conversation
// to read, bringing its unread count to zero.
func (s *Store) MarkConversationAsRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	list := s.messages[conversationID]
	for i := range list {
		if list[i].SenderID != s.currentUser {
			list[i].Read = true
		}
	}
	s.recomputeUnreadLocked(conversationID)
	s.mu.Unlock()

	err := s.api.MarkConversationRead(ctx, conversationID)
	s.sendReadReceipt("", conversationID)
	return err
}

// DeleteMessage removes the message from every local conversation list and
// deletes it remotely. A remote failure is reported to the caller; the local
// removal is not rolled back.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	for convID, list := range s.messages {
		for i := range list {
			if list[i].ID == messageID {
				s.messages[convID] = append(list[:i:i], list[i+1:]...)
				s.recomputeUnreadLocked(convID)
				break
			}
		}
	}
	s.mu.Unlock()

	return s.api.DeleteMessage(ctx, messageID)
}

// Conversations returns a copy of the current summaries.
func (s *Store) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, len(s.summaries))
	copy(out, s.summaries)
	return out
}

// Messages returns a copy of the conversation's materialized message list,
// ordered by timestamp ascending.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[conversationID]
	out := make([]model.Message, len(list))
	copy(out, list)
	return out
}

// UnreadTotal sums the unread counts across all conversations.
func (s *Store) UnreadTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.summaries {
		total += c.UnreadCount
	}
	return total
}

// handleMessage merges one inbound push message. Duplicate delivery from both
// the REST echo and the push channel collapses onto a single entry.
func (s *Store) handleMessage(env event.Envelope) {
	var msg model.Message
	if err := env.Decode(&msg); err != nil {
		s.logger.Warn("dropping malformed message event", zap.Error(err))
		return
	}
	if msg.ID == "" || msg.ConversationID == "" {
		s.logger.Warn("dropping message event without identity",
			zap.String("id", msg.ID),
			zap.String("conversationId", msg.ConversationID))
		return
	}

	s.mu.Lock()
	s.mergeLocked(msg.ConversationID, msg)
	s.touchConversationLocked(msg)
	s.recomputeUnreadLocked(msg.ConversationID)
	s.mu.Unlock()
}

// handleReadReceipt mutates the referenced message(s) in place.
func (s *Store) handleReadReceipt(env event.Envelope) {
	var receipt event.ReadReceiptPayload
	if err := env.Decode(&receipt); err != nil {
		s.logger.Warn("dropping malformed read receipt", zap.Error(err))
		return
	}

	s.mu.Lock()
	list := s.messages[receipt.ConversationID]
	for i := range list {
		if receipt.MessageID == "" || list[i].ID == receipt.MessageID {
			list[i].Read = true
		}
	}
	s.recomputeUnreadLocked(receipt.ConversationID)
	s.mu.Unlock()
}

func (s *Store) sendReadReceipt(messageID, conversationID string) {
	if s.conn == nil || conversationID == "" {
		return
	}
	env, err := event.New(event.TypeReadReceipt, event.ReadReceiptPayload{
		MessageID:      messageID,
		ConversationID: conversationID,
		ReadAt:         s.clock.Now(),
	}, s.clock.Now())
	if err != nil {
		return
	}
	if err := s.conn.Send(env); err != nil {
		s.logger.Debug("read receipt transmit skipped", zap.Error(err))
	}
}

// cacheKey picks the map key for a message: the conversation id when known,
// otherwise a peer-scoped staging key used until the server assigns one.
func (s *Store) cacheKey(msg model.Message) string {
	if msg.ConversationID != "" {
		return msg.ConversationID
	}
	return "peer:" + msg.ReceiverID
}

// conversationWithLocked finds the id of the conversation shared with the
// peer, if it is already known locally.
func (s *Store) conversationWithLocked(peerID string) string {
	for _, c := range s.summaries {
		if c.HasParticipant(peerID) && c.HasParticipant(s.currentUser) {
			return c.ID
		}
	}
	return ""
}

// mergeLocked is the single mutation point for conversation lists. Entries
// merge by message id; the list stays ordered by timestamp ascending with the
// id as a deterministic tiebreak, never by arrival order. It completes fully
// under the store lock so no reader observes a partially merged list.
func (s *Store) mergeLocked(conversationID string, msgs ...model.Message) {
	list := s.messages[conversationID]
	for _, m := range msgs {
		idx := -1
		for i := range list {
			if list[i].ID == m.ID {
				idx = i
				break
			}
		}
		if idx >= 0 {
			// A read flag only ever moves forward; keep it when a stale copy
			// of the message arrives after the receipt.
			if list[idx].Read {
				m.Read = true
			}
			list[idx] = m
			continue
		}
		list = append(list, m)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.Before(list[j].Timestamp)
		}
		return list[i].ID < list[j].ID
	})
	s.messages[conversationID] = list
}

// replaceTempLocked swaps an optimistic entry for its confirmed counterpart.
// If the push echo with the final id landed first, merge-by-id absorbs the
// confirmed copy and only the temp entry is dropped.
func (s *Store) replaceTempLocked(stagingKey, tempID string, final model.Message) {
	list := s.messages[stagingKey]
	for i := range list {
		if list[i].ID == tempID {
			s.messages[stagingKey] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if strings.HasPrefix(stagingKey, "peer:") && len(s.messages[stagingKey]) == 0 {
		delete(s.messages, stagingKey)
	}

	s.mergeLocked(final.ConversationID, final)
	s.touchConversationLocked(final)
	s.recomputeUnreadLocked(final.ConversationID)
}

// touchConversationLocked updates (or discovers) the summary for the
// message's conversation.
func (s *Store) touchConversationLocked(msg model.Message) {
	for i := range s.summaries {
		if s.summaries[i].ID == msg.ConversationID {
			last := s.summaries[i].LastMessage
			if last == nil || !msg.Timestamp.Before(last.Timestamp) {
				m := msg
				s.summaries[i].LastMessage = &m
				s.summaries[i].UpdatedAt = msg.Timestamp
			}
			return
		}
	}

	m := msg
	s.summaries = append(s.summaries, model.Conversation{
		ID:             msg.ConversationID,
		ParticipantIDs: []string{msg.SenderID, msg.ReceiverID},
		LastMessage:    &m,
		CreatedAt:      msg.Timestamp,
		UpdatedAt:      msg.Timestamp,
	})
}

// recomputeUnreadLocked enforces the unread invariant: the count equals the
// number of cached messages with read=false not sent by the current user.
func (s *Store) recomputeUnreadLocked(conversationID string) {
	count := 0
	for _, m := range s.messages[conversationID] {
		if !m.Read && m.SenderID != s.currentUser {
			count++
		}
	}
	for i := range s.summaries {
		if s.summaries[i].ID == conversationID {
			s.summaries[i].UnreadCount = count
			return
		}
	}
}
