package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"Syncline/internal/chat"
	"Syncline/internal/event"
	"Syncline/internal/model"
)

// A terminal chat client built on the synchronization core. Commands:
//
//	/send <user> <text>   send a message
//	/read <conversation>  mark a conversation read
//	/who                  list online users
//	/quit                 exit
func main() {
	server := flag.String("server", "http://localhost:8080", "application server base URL")
	socket := flag.String("socket", "ws://localhost:8081/ws", "push endpoint URL")
	user := flag.String("user", "", "user id to connect as")
	token := flag.String("token", "", "connect token; fetched from the server when empty")
	flag.Parse()

	if *user == "" {
		log.Fatal("-user is required")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	credential := *token
	if credential == "" {
		credential, err = fetchToken(*server, *user)
		if err != nil {
			log.Fatalf("failed to fetch token: %v", err)
		}
	}

	client := chat.New(chat.Options{
		UserID:    *user,
		ServerURL: *server,
		SocketURL: *socket,
		Token:     credential,
		Notifier:  chat.LogNotifier{Logger: logger},
		Logger:    logger,
	})

	client.Events.Subscribe(event.TypeMessage, func(env event.Envelope) {
		var msg model.Message
		if env.Decode(&msg) != nil {
			return
		}
		fmt.Printf("[%s] %s: %s\n",
			msg.Timestamp.Local().Format("15:04:05"), msg.SenderID, msg.Content)
	})
	client.Events.Subscribe(event.TypeTyping, func(env event.Envelope) {
		var p event.TypingPayload
		if env.Decode(&p) == nil && p.IsTyping {
			fmt.Printf("... %s is typing\n", p.UserID)
		}
	})
	client.Events.Subscribe(event.TypeConnectionState, func(env event.Envelope) {
		var p event.ConnectionStatePayload
		if env.Decode(&p) != nil {
			return
		}
		switch {
		case p.Connected:
			fmt.Println("* connected")
		case p.Terminal:
			fmt.Println("* connection lost, restart the client to reconnect")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = client.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	for _, conv := range client.Store.Conversations() {
		fmt.Printf("conversation %s with %s (%d unread)\n",
			conv.ID, conv.Peer(*user), conv.UnreadCount)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/who":
			fmt.Printf("online: %s\n", strings.Join(client.Presence.Online(), ", "))
		case strings.HasPrefix(line, "/read "):
			convID := strings.TrimSpace(strings.TrimPrefix(line, "/read "))
			if err := client.Store.MarkConversationAsRead(context.Background(), convID); err != nil {
				fmt.Printf("! mark read failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/send "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/send "), " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: /send <user> <text>")
				continue
			}
			if _, err := client.Store.SendMessage(context.Background(), parts[0], parts[1], model.MessageTypeText, ""); err != nil {
				fmt.Printf("! send failed: %v\n", err)
			}
		default:
			fmt.Println("commands: /send <user> <text>, /read <conversation>, /who, /quit")
		}
	}
}

func fetchToken(server, userID string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"userId": userID})
	resp, err := http.Post(server+"/api/auth/token", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
