package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/config"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/server"
)

func main() {
	// Load .env (optional)
	if err := godotenv.Load(); err != nil {
		log.Println("Settlement: No .env file found, relying on system env vars")
	}

	cfg := config.Load()

	log.Printf("Settlement service starting on %s", cfg.HTTPAddr)
	server.Run(cfg)
}
