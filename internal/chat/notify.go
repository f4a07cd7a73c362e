package chat

import (
	"go.uber.org/zap"

	"Syncline/internal/event"
	"Syncline/internal/model"
)

// Notifier is the platform notification primitive. Permission acquisition
// and rendering are the platform's concern, not this package's.
type Notifier interface {
	Notify(title, body, tag string)
}

// Bridge surfaces MESSAGE and NOTIFICATION events as user-visible
// notifications. The current user's own messages are never surfaced.
type Bridge struct {
	currentUser string
	notifier    Notifier
	logger      *zap.Logger
}

func NewBridge(currentUser string, notifier Notifier, dispatcher *Dispatcher, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		currentUser: currentUser,
		notifier:    notifier,
		logger:      logger,
	}
	if dispatcher != nil && notifier != nil {
		dispatcher.Subscribe(event.TypeMessage, b.handleMessage)
		dispatcher.Subscribe(event.TypeNotification, b.handleNotification)
	}
	return b
}

func (b *Bridge) handleMessage(env event.Envelope) {
	var msg model.Message
	if err := env.Decode(&msg); err != nil {
		return
	}
	if msg.SenderID == b.currentUser {
		return
	}
	b.notifier.Notify("New message from "+msg.SenderID, msg.Content, msg.ConversationID)
}

func (b *Bridge) handleNotification(env event.Envelope) {
	var payload event.NotificationPayload
	if err := env.Decode(&payload); err != nil {
		b.logger.Warn("dropping malformed notification event", zap.Error(err))
		return
	}
	b.notifier.Notify(payload.Title, payload.Body, payload.Tag)
}

// LogNotifier writes notifications to the log. It stands in on platforms
// without a native notification surface.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(title, body, tag string) {
	n.Logger.Info("notification",
		zap.String("title", title),
		zap.String("body", body),
		zap.String("tag", tag),
	)
}
