package configuration

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"Syncline/internal/archive"
	"Syncline/internal/auth"
	"Syncline/internal/db"
	"Syncline/internal/handler"
	"Syncline/internal/hub"
	"Syncline/internal/model"
	"Syncline/internal/repo"
	"Syncline/internal/service"
)

// Container wires the server's dependency graph. Everything is explicitly
// constructed here so tests can build alternate graphs without package-level
// state.
type Container struct {
	Config      Config
	Logger      *zap.Logger
	Hub         *hub.Hub
	Tokens      *auth.Manager
	ChatHandler handler.ChatHandler
	AuthHandler handler.AuthHandler

	// private - for cleanup
	mongoDB     *mongo.Database
	redisClient *redis.Client
	archiver    *archive.Producer
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	mongoDB, err := db.OpenConnection(config.Mongo.Uri, config.Mongo.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	var redisClient *redis.Client
	if config.Redis.Addr != "" {
		redisClient, err = db.OpenRedis(config.Redis.Addr, config.Redis.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	messageRepo := repo.NewMessageRepository(
		db.NewRepository[model.Message](mongoDB, config.Mongo.MessagesCollection), logger)
	conversationRepo := repo.NewConversationRepository(
		db.NewRepository[model.Conversation](mongoDB, config.Mongo.ConversationsCollection), logger)
	presenceRepo := repo.NewPresenceRepository(redisClient, logger)

	archiver := archive.NewProducer(config.Kafka.Brokers, config.Kafka.Topic, logger)
	tokens := auth.NewManager(config.Auth.Secret,
		time.Duration(config.Auth.TokenTTLMinutes)*time.Minute)

	chatHub := hub.NewHub(conversationRepo, presenceRepo, logger)
	chatService := service.NewChatService(messageRepo, conversationRepo, chatHub, archiver, logger)

	return &Container{
		Config:      *config,
		Logger:      logger,
		Hub:         chatHub,
		Tokens:      tokens,
		ChatHandler: handler.NewChatHandler(chatService),
		AuthHandler: handler.NewAuthHandler(tokens),
		mongoDB:     mongoDB,
		redisClient: redisClient,
		archiver:    archiver,
	}, nil
}

// Close gracefully shuts down all connections.
func (c *Container) Close() error {
	if c.Hub != nil {
		c.Hub.Stop()
	}
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}
	if err := c.archiver.Close(); err != nil {
		return fmt.Errorf("failed to close archive producer: %w", err)
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			return fmt.Errorf("failed to close redis connection: %w", err)
		}
	}
	if c.mongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoDB.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close mongo connection: %w", err)
		}
	}
	return nil
}
