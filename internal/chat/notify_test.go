package chat

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"Syncline/internal/event"
	"Syncline/internal/model"
)

type recordingNotifier struct {
	calls []struct{ title, body, tag string }
}

func (n *recordingNotifier) Notify(title, body, tag string) {
	n.calls = append(n.calls, struct{ title, body, tag string }{title, body, tag})
}

func TestBridgeSurfacesPeerMessages(t *testing.T) {
	dispatcher := NewDispatcher(zap.NewNop())
	notifier := &recordingNotifier{}
	NewBridge("u1", notifier, dispatcher, zap.NewNop())

	publishMessage(dispatcher, peerMessage("m1", "c1", at(1)))

	if len(notifier.calls) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.calls))
	}
	call := notifier.calls[0]
	if call.title != "New message from u2" || call.tag != "c1" {
		t.Fatalf("unexpected notification: %+v", call)
	}
}

func TestBridgeSkipsOwnMessages(t *testing.T) {
	dispatcher := NewDispatcher(zap.NewNop())
	notifier := &recordingNotifier{}
	NewBridge("u1", notifier, dispatcher, zap.NewNop())

	own := model.Message{
		ID: "m1", ConversationID: "c1", SenderID: "u1", ReceiverID: "u2",
		Content: "mine", Type: model.MessageTypeText, Timestamp: at(1),
	}
	publishMessage(dispatcher, own)

	if len(notifier.calls) != 0 {
		t.Fatalf("own message must not notify: %+v", notifier.calls)
	}
}

func TestBridgeForwardsServerNotifications(t *testing.T) {
	dispatcher := NewDispatcher(zap.NewNop())
	notifier := &recordingNotifier{}
	NewBridge("u1", notifier, dispatcher, zap.NewNop())

	env, err := event.New(event.TypeNotification, event.NotificationPayload{
		Title: "Maintenance",
		Body:  "back at noon",
		Tag:   "system",
	}, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	dispatcher.Publish(env)

	if len(notifier.calls) != 1 || notifier.calls[0].title != "Maintenance" {
		t.Fatalf("unexpected notifications: %+v", notifier.calls)
	}
}

func TestBridgeWithoutNotifierIsInert(t *testing.T) {
	dispatcher := NewDispatcher(zap.NewNop())
	NewBridge("u1", nil, dispatcher, zap.NewNop())

	// No subscription happens without a notifier; publishing must not panic.
	publishMessage(dispatcher, peerMessage("m1", "c1", at(1)))
}
