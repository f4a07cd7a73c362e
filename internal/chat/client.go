package chat

import (
	"context"

	"go.uber.org/zap"
)

// Options configures a Client. ServerURL is the REST store base address,
// SocketURL the push endpoint; Token is the opaque credential supplied by the
// auth collaborator.
type Options struct {
	UserID    string
	ServerURL string
	SocketURL string
	Token     string

	Notifier Notifier
	Clock    Clock
	Logger   *zap.Logger

	Conn ConnConfig // URL/Token/Clock/Logger are filled in from the fields above
}

// Client bundles the synchronization core: one push connection, the event
// bus, the conversation store, and the presence/typing trackers. Instances
// are independent; nothing is shared through package state.
type Client struct {
	Conn     *Conn
	Events   *Dispatcher
	Store    *Store
	Presence *Presence
	Typing   *Typing
	Rest     *RestClient

	bridge *Bridge
}

func New(opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = NewClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dispatcher := NewDispatcher(opts.Logger)

	connCfg := opts.Conn
	connCfg.URL = opts.SocketURL
	connCfg.Token = opts.Token
	connCfg.Clock = opts.Clock
	connCfg.Logger = opts.Logger
	conn := NewConn(connCfg, dispatcher)

	rest := NewRestClient(opts.ServerURL, opts.Token, opts.Logger)

	return &Client{
		Conn:     conn,
		Events:   dispatcher,
		Store:    NewStore(opts.UserID, rest, conn, dispatcher, opts.Clock, opts.Logger),
		Presence: NewPresence(dispatcher, opts.Logger),
		Typing:   NewTyping(opts.UserID, conn, dispatcher, opts.Clock, opts.Logger),
		Rest:     rest,
		bridge:   NewBridge(opts.UserID, opts.Notifier, dispatcher, opts.Logger),
	}
}

// Connect establishes the push connection and loads the conversation list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Conn.Connect(ctx); err != nil {
		return err
	}
	return c.Store.LoadConversations(ctx)
}

// Close shuts the push connection down deliberately.
func (c *Client) Close() {
	c.Conn.Close()
}
