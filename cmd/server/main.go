// Command server runs the Relay messaging API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay/internal/config"
	"relay/internal/database"
	"relay/internal/observability"
	"relay/internal/seed"
	"relay/internal/server"
)

func main() {
	seedFlag := flag.Bool("seed", false, "seed the database with demo data and exit")
	seedUsers := flag.Int("seed-users", 20, "number of users to seed")
	seedMessages := flag.Int("seed-messages", 200, "number of messages to seed")
	seedClean := flag.Bool("seed-clean", false, "remove existing data before seeding")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *seedFlag {
		runSeed(cfg, *seedUsers, *seedMessages, *seedClean)
		return
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "relay-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExport,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

func runSeed(cfg *config.Config, users, messages int, clean bool) {
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	err = seed.Run(db, seed.Options{
		NumUsers:    users,
		NumMessages: messages,
		MaxDays:     30,
		ShouldClean: clean,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
}
