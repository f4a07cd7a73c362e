package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"Syncline/internal/db"
	"Syncline/internal/model"
)

var ErrConversationNotFound = errors.New("conversation not found")

type conversationRepository struct {
	conversations *db.Repository[model.Conversation]
	logger        *zap.Logger
}

type ConversationRepository interface {
	FetchOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error)
	FindByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
	SetLastMessage(ctx context.Context, conversationID string, msg *model.Message) error
}

func NewConversationRepository(conversations *db.Repository[model.Conversation], logger *zap.Logger) ConversationRepository {
	return &conversationRepository{conversations: conversations, logger: logger}
}

// FetchOrCreate returns the conversation shared by the two users, creating it
// on the first message exchange. Participants are stored sorted so the pair
// forms a stable lookup key.
func (r *conversationRepository) FetchOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	participants := []string{userA, userB}
	sort.Strings(participants)

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	existing, err := r.conversations.FindOne(ctx, bson.M{"participant_ids": participants})
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}

	now := time.Now().UTC()
	conv := model.Conversation{
		ID:             uuid.NewString(),
		ParticipantIDs: participants,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.conversations.Create(ctx, conv); err != nil {
		// A concurrent create may have won; read the winner back.
		if mongo.IsDuplicateKeyError(err) {
			return r.conversations.FindOne(ctx, bson.M{"participant_ids": participants})
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	r.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.Strings("participants", participants))
	return &conv, nil
}

func (r *conversationRepository) FindByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conv, err := r.conversations.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	return conv, nil
}

// ListForUser returns the user's conversations, most recently updated first.
func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	convs, err := r.conversations.FindAll(ctx,
		bson.M{"participant_ids": userID},
		bson.D{{Key: "updated_at", Value: -1}})
	if err != nil {
		r.logger.Error("failed to list conversations",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (r *conversationRepository) Participants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := r.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.ParticipantIDs, nil
}

// SetLastMessage records the most recent message and bumps the conversation's
// updated timestamp.
func (r *conversationRepository) SetLastMessage(ctx context.Context, conversationID string, msg *model.Message) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.conversations.UpdateByID(ctx, conversationID, bson.M{
		"last_message": msg,
		"updated_at":   msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}
