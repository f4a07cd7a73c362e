package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"Syncline/internal/db"
	"Syncline/internal/model"
)

var (
	ErrInvalidMessage        = errors.New("invalid message: message cannot be nil")
	ErrInvalidConversationID = errors.New("invalid conversation ID: cannot be empty")
	ErrMessageNotFound       = errors.New("message not found")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	maxInsertRetries = 3
	baseRetryDelay   = 100 * time.Millisecond
)

type messageRepository struct {
	messages *db.Repository[model.Message]
	logger   *zap.Logger
}

type MessageRepository interface {
	Insert(ctx context.Context, msg *model.Message) error
	FindByID(ctx context.Context, messageID string) (*model.Message, error)
	PageByConversation(ctx context.Context, conversationID string, page, size int64) (*model.Page[model.Message], error)
	MarkRead(ctx context.Context, messageID string) (*model.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error)
	Delete(ctx context.Context, messageID string) error
	UnreadCount(ctx context.Context, userID string) (int64, error)
	UnreadByConversation(ctx context.Context, userID string, conversationIDs []string) (map[string]int64, error)
}

func NewMessageRepository(messages *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{messages: messages, logger: logger}
}

func (m *messageRepository) Insert(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	if msg.ConversationID == "" {
		return ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxInsertRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * baseRetryDelay):
			}
		}

		if err := m.messages.Create(ctx, *msg); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				// Same id already persisted; at-least-once delivery makes
				// this a success, not a conflict.
				return nil
			}
			lastErr = err
			m.logger.Warn("message insert failed",
				zap.String("message_id", msg.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to insert message after %d attempts: %w", maxInsertRetries, lastErr)
}

func (m *messageRepository) FindByID(ctx context.Context, messageID string) (*model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	msg, err := m.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

// PageByConversation pages history backward from the most recent message:
// page 0 holds the newest entries.
func (m *messageRepository) PageByConversation(ctx context.Context, conversationID string, page, size int64) (*model.Page[model.Message], error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	result, err := m.messages.FindPage(ctx,
		bson.M{"conversation_id": conversationID},
		bson.D{{Key: "timestamp", Value: -1}},
		page, size)
	if err != nil {
		m.logger.Error("failed to page messages",
			zap.String("conversation_id", conversationID),
			zap.Int64("page", page),
			zap.Error(err))
		return nil, fmt.Errorf("failed to page messages: %w", err)
	}

	m.logger.Debug("messages paged",
		zap.String("conversation_id", conversationID),
		zap.Int64("page", page),
		zap.Int("count", len(result.Content)))
	return result, nil
}

func (m *messageRepository) MarkRead(ctx context.Context, messageID string) (*model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	res, err := m.messages.UpdateByID(ctx, messageID, bson.M{"read": true})
	if err != nil {
		return nil, fmt.Errorf("failed to mark message read: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrMessageNotFound
	}
	return m.FindByID(ctx, messageID)
}

// MarkConversationRead flips every unread message in the conversation that
// the reader did not send. Returns the number of messages updated.
func (m *messageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	if conversationID == "" {
		return 0, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	res, err := m.messages.UpdateMany(ctx, bson.M{
		"conversation_id": conversationID,
		"read":            false,
		"sender_id":       bson.M{"$ne": readerID},
	}, bson.M{"read": true})
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (m *messageRepository) Delete(ctx context.Context, messageID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	res, err := m.messages.DeleteByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (m *messageRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	count, err := m.messages.Count(ctx, bson.M{
		"receiver_id": userID,
		"read":        false,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// UnreadByConversation returns the per-conversation unread counts for the
// user across the given conversations.
func (m *messageRepository) UnreadByConversation(ctx context.Context, userID string, conversationIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	unread, err := m.messages.FindAll(ctx, bson.M{
		"conversation_id": bson.M{"$in": conversationIDs},
		"receiver_id":     userID,
		"read":            false,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unread messages: %w", err)
	}
	for _, msg := range unread {
		counts[msg.ConversationID]++
	}
	return counts, nil
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
