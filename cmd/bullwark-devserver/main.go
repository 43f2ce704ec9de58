package main

import (
	"log"

	"github.com/aussiebroadwan/bullwark/internal/devserver"
)

func main() {
	cfg := devserver.LoadConfig()

	application, err := devserver.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize devserver: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("devserver error: %v", err)
	}
}
