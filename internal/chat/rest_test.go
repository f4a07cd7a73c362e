package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"Syncline/internal/model"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   []byte
}

func newAPIServer(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		rec.body = body
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestRestClientConversations(t *testing.T) {
	srv, rec := newAPIServer(t, http.StatusOK,
		`[{"id":"c1","participantIds":["u1","u2"]}]`)
	client := NewRestClient(srv.URL, "tok", zap.NewNop())

	convs, err := client.Conversations(context.Background())
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "c1" {
		t.Fatalf("unexpected result: %+v", convs)
	}
	if rec.method != http.MethodGet || rec.path != "/api/chat/conversations" {
		t.Fatalf("hit %s %s", rec.method, rec.path)
	}
	if rec.auth != "Bearer tok" {
		t.Fatalf("authorization header = %q", rec.auth)
	}
}

func TestRestClientMessagesPagination(t *testing.T) {
	srv, rec := newAPIServer(t, http.StatusOK,
		`{"content":[{"id":"m1","conversationId":"c1"}],"totalElements":1,"totalPages":1,"number":2,"first":false,"last":true}`)
	client := NewRestClient(srv.URL, "tok", zap.NewNop())

	page, err := client.Messages(context.Background(), "c1", 2, 20)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if rec.path != "/api/chat/conversations/c1/messages" {
		t.Fatalf("path = %s", rec.path)
	}
	if rec.query != "page=2&size=20" {
		t.Fatalf("query = %s", rec.query)
	}
	if len(page.Content) != 1 || page.Content[0].ID != "m1" || page.Number != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestRestClientCreateMessage(t *testing.T) {
	srv, rec := newAPIServer(t, http.StatusOK,
		`{"id":"m9","conversationId":"c1","senderId":"u1","receiverId":"u2","content":"hi"}`)
	client := NewRestClient(srv.URL, "tok", zap.NewNop())

	msg, err := client.CreateMessage(context.Background(), model.CreateMessageRequest{
		ReceiverID:  "u2",
		Content:     "hi",
		MessageType: model.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID != "m9" {
		t.Fatalf("id = %s", msg.ID)
	}
	if rec.method != http.MethodPost || rec.path != "/api/chat/messages" {
		t.Fatalf("hit %s %s", rec.method, rec.path)
	}

	var sent model.CreateMessageRequest
	if err := json.Unmarshal(rec.body, &sent); err != nil {
		t.Fatalf("request body not json: %v", err)
	}
	if sent.ReceiverID != "u2" || sent.Content != "hi" {
		t.Fatalf("request body mangled: %+v", sent)
	}
}

func TestRestClientMarkEndpoints(t *testing.T) {
	tests := []struct {
		name   string
		call   func(*RestClient) error
		method string
		path   string
	}{
		{
			name:   "mark message read",
			call:   func(c *RestClient) error { return c.MarkMessageRead(context.Background(), "m1") },
			method: http.MethodPut,
			path:   "/api/chat/messages/m1/read",
		},
		{
			name:   "mark conversation read",
			call:   func(c *RestClient) error { return c.MarkConversationRead(context.Background(), "c1") },
			method: http.MethodPut,
			path:   "/api/chat/conversations/c1/read",
		},
		{
			name:   "delete message",
			call:   func(c *RestClient) error { return c.DeleteMessage(context.Background(), "m1") },
			method: http.MethodDelete,
			path:   "/api/chat/messages/m1",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, rec := newAPIServer(t, http.StatusOK, `{}`)
			client := NewRestClient(srv.URL, "tok", zap.NewNop())

			if err := tc.call(client); err != nil {
				t.Fatalf("call: %v", err)
			}
			if rec.method != tc.method || rec.path != tc.path {
				t.Fatalf("hit %s %s, want %s %s", rec.method, rec.path, tc.method, tc.path)
			}
		})
	}
}

func TestRestClientUnreadCount(t *testing.T) {
	srv, rec := newAPIServer(t, http.StatusOK, `{"count":4}`)
	client := NewRestClient(srv.URL, "tok", zap.NewNop())

	count, err := client.UnreadCount(context.Background())
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 4 {
		t.Fatalf("count = %d, want 4", count)
	}
	if rec.path != "/api/chat/messages/unread-count" {
		t.Fatalf("path = %s", rec.path)
	}
}

func TestRestClientSurfacesHTTPErrors(t *testing.T) {
	srv, _ := newAPIServer(t, http.StatusForbidden, `{"error":"not a participant"}`)
	client := NewRestClient(srv.URL, "tok", zap.NewNop())

	_, err := client.Messages(context.Background(), "c1", 0, 20)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("error should carry the status: %v", err)
	}
	if !strings.Contains(err.Error(), "not a participant") {
		t.Fatalf("error should carry the body snippet: %v", err)
	}
}
