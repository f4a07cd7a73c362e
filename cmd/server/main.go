package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	approuters "Syncline/internal/app_routers"
	"Syncline/internal/configuration"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	container, err := configuration.BuildContainer(configPath)
	if err != nil {
		log.Fatalf("failed to build container: %v", err)
	}
	defer container.Close()

	approuters.StartServer(container)
}
