package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"Syncline/internal/event"
	"Syncline/internal/model"
)

// wsServer is a minimal push endpoint for connection tests. It answers PING
// with PONG and records every other inbound frame.
type wsServer struct {
	t      *testing.T
	srv    *httptest.Server
	frames chan event.Envelope
	tokens chan string
	refuse atomic.Bool

	mu      sync.Mutex
	writeMu sync.Mutex
	conns   []*websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		t:      t,
		frames: make(chan event.Envelope, 16),
		tokens: make(chan string, 16),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.refuse.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		s.tokens <- r.URL.Query().Get("token")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, ws)
		s.mu.Unlock()
		for {
			var env event.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			if env.Type == event.TypePing {
				s.send(ws, event.Envelope{Type: event.TypePong, Timestamp: time.Now().UTC()})
				continue
			}
			s.frames <- env
		}
	}))
	t.Cleanup(func() {
		s.srv.CloseClientConnections()
		s.srv.Close()
	})
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) send(ws *websocket.Conn, env event.Envelope) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ws.WriteJSON(env); err != nil {
		s.t.Logf("server write failed: %v", err)
	}
}

// push transmits a frame to the most recently accepted client.
func (s *wsServer) push(env event.Envelope) {
	s.mu.Lock()
	ws := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	s.send(ws, env)
}

func (s *wsServer) pushRaw(raw string) {
	s.mu.Lock()
	ws := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		s.t.Logf("server write failed: %v", err)
	}
}

// dropClients closes every accepted connection from the server side.
func (s *wsServer) dropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.conns {
		ws.Close()
	}
	s.conns = nil
}

func (s *wsServer) nextFrame(t *testing.T) event.Envelope {
	t.Helper()
	select {
	case env := <-s.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return event.Envelope{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// stateRecorder collects CONNECTION_STATE payloads published locally.
type stateRecorder struct {
	mu     sync.Mutex
	states []event.ConnectionStatePayload
}

func newStateRecorder(d *Dispatcher) *stateRecorder {
	r := &stateRecorder{}
	d.Subscribe(event.TypeConnectionState, func(env event.Envelope) {
		var p event.ConnectionStatePayload
		if env.Decode(&p) != nil {
			return
		}
		r.mu.Lock()
		r.states = append(r.states, p)
		r.mu.Unlock()
	})
	return r
}

func (r *stateRecorder) all() []event.ConnectionStatePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.ConnectionStatePayload, len(r.states))
	copy(out, r.states)
	return out
}

func newTestConn(t *testing.T, srv *wsServer, clock *fakeClock) (*Conn, *Dispatcher) {
	t.Helper()
	dispatcher := NewDispatcher(zap.NewNop())
	conn := NewConn(ConnConfig{
		URL:               srv.url(),
		Token:             "secret-token",
		HeartbeatInterval: time.Hour,
		BaseDelay:         time.Minute,
		MaxAttempts:       5,
		Clock:             clock,
		Logger:            zap.NewNop(),
	}, dispatcher)
	t.Cleanup(conn.Close)
	return conn, dispatcher
}

func TestConnectHandshakeAndSend(t *testing.T) {
	srv := newWSServer(t)
	conn, dispatcher := newTestConn(t, srv, newFakeClock())
	recorder := newStateRecorder(dispatcher)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.State() != StateConnected {
		t.Fatalf("state = %q, want %q", conn.State(), StateConnected)
	}
	if token := <-srv.tokens; token != "secret-token" {
		t.Fatalf("server saw token %q", token)
	}

	states := recorder.all()
	if len(states) != 1 || !states[0].Connected {
		t.Fatalf("expected one connected state event, got %+v", states)
	}

	env, err := event.New(event.TypeMessage, model.Message{ID: "m1", ConversationID: "c1"}, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := srv.nextFrame(t)
	if got.Type != event.TypeMessage {
		t.Fatalf("server received %s, want MESSAGE", got.Type)
	}
}

func TestSendWhenNeverConnected(t *testing.T) {
	srv := newWSServer(t)
	conn, _ := newTestConn(t, srv, newFakeClock())

	env, err := event.New(event.TypePing, nil, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Send(env); err != ErrNotConnected {
		t.Fatalf("Send = %v, want ErrNotConnected", err)
	}
}

func TestInboundEventsReachSubscribers(t *testing.T) {
	srv := newWSServer(t)
	conn, dispatcher := newTestConn(t, srv, newFakeClock())

	received := make(chan event.Envelope, 4)
	dispatcher.Subscribe(event.TypeMessage, func(env event.Envelope) {
		received <- env
	})

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// A malformed frame is dropped without closing the connection; the
	// valid frame behind it still arrives.
	srv.pushRaw("{not json")
	env, err := event.New(event.TypeMessage,
		model.Message{ID: "m1", ConversationID: "c1", SenderID: "u2"}, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	srv.push(env)

	select {
	case got := <-received:
		var msg model.Message
		if err := got.Decode(&msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.ID != "m1" {
			t.Fatalf("got message %s, want m1", msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message event never dispatched")
	}
	if conn.State() != StateConnected {
		t.Fatal("malformed frame closed the connection")
	}
}

func TestServerPingAnsweredWithPong(t *testing.T) {
	srv := newWSServer(t)
	conn, _ := newTestConn(t, srv, newFakeClock())

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	srv.push(event.Envelope{Type: event.TypePing, Timestamp: time.Now().UTC()})

	// The test server records every non-PING frame, so the client's PONG
	// reply shows up here.
	got := srv.nextFrame(t)
	if got.Type != event.TypePong {
		t.Fatalf("server received %s, want PONG", got.Type)
	}
}

func TestReconnectBackoffIsLinearAndBounded(t *testing.T) {
	srv := newWSServer(t)
	clock := newFakeClock()
	conn, dispatcher := newTestConn(t, srv, clock)
	recorder := newStateRecorder(dispatcher)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	baseline := len(clock.scheduled())

	// Kill the transport and refuse every dial from now on.
	srv.refuse.Store(true)
	srv.dropClients()

	waitFor(t, "first reconnect to be scheduled", func() bool {
		return len(clock.scheduled()) > baseline
	})

	// Each retry dial fails synchronously, arming the next attempt inline.
	for i := 1; i <= 5; i++ {
		clock.Advance(time.Duration(i) * time.Minute)
	}

	delays := clock.scheduled()[baseline:]
	want := []time.Duration{
		1 * time.Minute, 2 * time.Minute, 3 * time.Minute, 4 * time.Minute, 5 * time.Minute,
	}
	if len(delays) != len(want) {
		t.Fatalf("scheduled %d retries %v, want %v", len(delays), delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("retry %d waited %v, want %v", i+1, delays[i], want[i])
		}
	}

	states := recorder.all()
	last := states[len(states)-1]
	if !last.Terminal || last.Connected || last.Attempts != 5 {
		t.Fatalf("expected terminal state after 5 attempts, got %+v", last)
	}
	if clock.pending() != 0 {
		t.Fatalf("expected no timers after giving up, %d pending", clock.pending())
	}
}

func TestReconnectSucceedsAndResetsBudget(t *testing.T) {
	srv := newWSServer(t)
	clock := newFakeClock()
	conn, dispatcher := newTestConn(t, srv, clock)
	recorder := newStateRecorder(dispatcher)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	baseline := len(clock.scheduled())

	srv.dropClients()
	waitFor(t, "reconnect to be scheduled", func() bool {
		return len(clock.scheduled()) > baseline
	})

	// The server still accepts, so the first retry re-establishes.
	clock.Advance(time.Minute)
	waitFor(t, "connection to re-establish", func() bool {
		return conn.State() == StateConnected
	})

	states := recorder.all()
	if !states[len(states)-1].Connected {
		t.Fatalf("expected connected state last, got %+v", states)
	}
}

func TestCloseSuppressesReconnect(t *testing.T) {
	srv := newWSServer(t)
	clock := newFakeClock()
	conn, dispatcher := newTestConn(t, srv, clock)
	recorder := newStateRecorder(dispatcher)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()

	if conn.State() != StateDisconnected {
		t.Fatalf("state = %q, want %q", conn.State(), StateDisconnected)
	}
	// Give the read pump a moment to observe the closed socket.
	time.Sleep(50 * time.Millisecond)
	if clock.pending() != 0 {
		t.Fatalf("deliberate close left %d timers armed", clock.pending())
	}

	states := recorder.all()
	last := states[len(states)-1]
	if last.Connected || last.Terminal {
		t.Fatalf("expected plain disconnected state, got %+v", last)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	// A server that upgrades but never answers the handshake PING.
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mute := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		mute.CloseClientConnections()
		mute.Close()
	})

	clock := newFakeClock()
	dispatcher := NewDispatcher(zap.NewNop())
	conn := NewConn(ConnConfig{
		URL:    "ws" + strings.TrimPrefix(mute.URL, "http"),
		Token:  "tok",
		Clock:  clock,
		Logger: zap.NewNop(),
	}, dispatcher)
	t.Cleanup(conn.Close)

	errs := make(chan error, 1)
	go func() { errs <- conn.Connect(context.Background()) }()

	waitFor(t, "handshake timer to be armed", func() bool {
		return clock.pending() > 0
	})
	clock.Advance(handshakeTimeout)

	select {
	case err := <-errs:
		if err != ErrHandshakeTimeout {
			t.Fatalf("Connect = %v, want ErrHandshakeTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after the handshake window elapsed")
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("state = %q, want %q", conn.State(), StateDisconnected)
	}
}
