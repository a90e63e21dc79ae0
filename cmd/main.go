package main

import (
	"context"
	"log"

	"github.com/mimelyc/yt-bilingual-proxy/internal/app"
	"github.com/mimelyc/yt-bilingual-proxy/internal/config"
)

func main() {
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal("Failed to build application:", err)
	}

	if err := a.Run(context.Background()); err != nil {
		log.Fatal("Server exited with error:", err)
	}
}
