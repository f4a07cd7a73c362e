package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Syncline/internal/archive"
	"Syncline/internal/event"
	"Syncline/internal/hub"
	"Syncline/internal/model"
	"Syncline/internal/repo"
)

var (
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrMissingReceiver = errors.New("receiver id is required")
	ErrNotParticipant  = errors.New("user is not a participant of the conversation")
)

// ChatService implements the durable side of messaging: persistence,
// conversation bookkeeping, and push delivery of the authoritative copy.
type ChatService interface {
	Conversations(ctx context.Context, userID string) ([]model.Conversation, error)
	Messages(ctx context.Context, userID, conversationID string, page, size int64) (*model.Page[model.Message], error)
	Send(ctx context.Context, senderID string, req model.CreateMessageRequest) (*model.Message, error)
	MarkMessageRead(ctx context.Context, readerID, messageID string) error
	MarkConversationRead(ctx context.Context, readerID, conversationID string) error
	Delete(ctx context.Context, userID, messageID string) error
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type chatService struct {
	messages      repo.MessageRepository
	conversations repo.ConversationRepository
	hub           *hub.Hub
	archive       *archive.Producer
	logger        *zap.Logger
}

func NewChatService(messages repo.MessageRepository, conversations repo.ConversationRepository, h *hub.Hub, arch *archive.Producer, logger *zap.Logger) ChatService {
	return &chatService{
		messages:      messages,
		conversations: conversations,
		hub:           h,
		archive:       arch,
		logger:        logger,
	}
}

// Conversations lists the user's conversations with per-viewer unread counts.
func (s *chatService) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	unread, err := s.messages.UnreadByConversation(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].UnreadCount = int(unread[convs[i].ID])
	}
	return convs, nil
}

func (s *chatService) Messages(ctx context.Context, userID, conversationID string, page, size int64) (*model.Page[model.Message], error) {
	if err := s.requireParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.messages.PageByConversation(ctx, conversationID, page, size)
}

// Send persists the message, bumps the conversation, pushes the confirmed
// copy to the receiver, and hands it to the archive stream.
func (s *chatService) Send(ctx context.Context, senderID string, req model.CreateMessageRequest) (*model.Message, error) {
	if req.ReceiverID == "" {
		return nil, ErrMissingReceiver
	}
	if req.Content == "" {
		return nil, ErrEmptyContent
	}
	if req.MessageType == "" {
		req.MessageType = model.MessageTypeText
	}

	conv, err := s.conversations.FetchOrCreate(ctx, senderID, req.ReceiverID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		Type:           req.MessageType,
		ActivityID:     req.ActivityID,
		Timestamp:      time.Now().UTC(),
	}

	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.conversations.SetLastMessage(ctx, conv.ID, msg); err != nil {
		s.logger.Warn("failed to bump conversation",
			zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	if env, err := event.New(event.TypeMessage, msg, msg.Timestamp); err == nil {
		s.hub.Push(req.ReceiverID, env)
	}
	s.archive.Archive(ctx, msg)

	s.logger.Info("message persisted",
		zap.String("message_id", msg.ID),
		zap.String("conversation_id", conv.ID))
	return msg, nil
}

// MarkMessageRead flips the flag and pushes a read receipt to the sender so
// their client reflects the change.
func (s *chatService) MarkMessageRead(ctx context.Context, readerID, messageID string) error {
	msg, err := s.messages.MarkRead(ctx, messageID)
	if err != nil {
		return err
	}

	receipt := event.ReadReceiptPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ReadAt:         time.Now().UTC(),
	}
	if env, err := event.New(event.TypeReadReceipt, receipt, receipt.ReadAt); err == nil {
		s.hub.Push(msg.SenderID, env)
	}
	return nil
}

func (s *chatService) MarkConversationRead(ctx context.Context, readerID, conversationID string) error {
	participants, err := s.conversations.Participants(ctx, conversationID)
	if err != nil {
		return err
	}

	updated, err := s.messages.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil {
		return err
	}
	if updated == 0 {
		return nil
	}

	receipt := event.ReadReceiptPayload{
		ConversationID: conversationID,
		ReadAt:         time.Now().UTC(),
	}
	env, err := event.New(event.TypeReadReceipt, receipt, receipt.ReadAt)
	if err != nil {
		return nil
	}
	for _, userID := range participants {
		if userID != readerID {
			s.hub.Push(userID, env)
		}
	}
	return nil
}

func (s *chatService) Delete(ctx context.Context, userID, messageID string) error {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return ErrNotParticipant
	}
	return s.messages.Delete(ctx, messageID)
}

func (s *chatService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.messages.UnreadCount(ctx, userID)
}

func (s *chatService) requireParticipant(ctx context.Context, userID, conversationID string) error {
	participants, err := s.conversations.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, id := range participants {
		if id == userID {
			return nil
		}
	}
	return ErrNotParticipant
}
