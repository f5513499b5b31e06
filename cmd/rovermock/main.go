// Package main runs the development rover double.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maishede/little-eighteen/internal/config"
	"github.com/maishede/little-eighteen/internal/rovermock"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: ./rover.yaml if present)")
	flag.Parse()

	log.Println("Starting rover mock...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Mock settings: %+v", cfg.Mock)

	server, err := rovermock.NewServer(cfg, log.Default())
	if err != nil {
		log.Fatalf("Failed to create mock: %v", err)
	}

	go func() {
		log.Printf("Starting mock HTTP server on %s", cfg.Mock.Addr)
		if err := server.ListenAndServe(); err != nil {
			log.Fatalf("Mock server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down mock...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Mock shutdown error: %v", err)
	}

	log.Println("Mock stopped")
}
