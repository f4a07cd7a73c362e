package configuration

import (
	"encoding/json"
	"os"
)

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	SocketRoute    string   `json:"socket_route"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	MessagesCollection      string `json:"messagesCollection"`
	ConversationsCollection string `json:"conversationsCollection"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type AuthConfig struct {
	Secret          string `json:"secret"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
}

type Config struct {
	Server ServerConfig `json:"server"`
	Mongo  MongoConfig  `json:"mongo"`
	Redis  RedisConfig  `json:"redis"`
	Kafka  KafkaConfig  `json:"kafka"`
	Auth   AuthConfig   `json:"auth"`
}

func LoadConfig(configPath string) (*Config, error) {
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Server.AppPort == 0 {
		c.Server.AppPort = 8080
	}
	if c.Server.SocketPort == 0 {
		c.Server.SocketPort = 8081
	}
	if c.Server.SocketRoute == "" {
		c.Server.SocketRoute = "ws"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Mongo.MessagesCollection == "" {
		c.Mongo.MessagesCollection = "messages"
	}
	if c.Mongo.ConversationsCollection == "" {
		c.Mongo.ConversationsCollection = "conversations"
	}
}
