// Package main implements the rover operator console.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maishede/little-eighteen/internal/auth"
	"github.com/maishede/little-eighteen/internal/config"
	"github.com/maishede/little-eighteen/internal/console"
	"github.com/maishede/little-eighteen/internal/rover"
)

const Version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: ./rover.yaml if present)")
	repl := flag.Bool("repl", false, "read commands from stdin")
	flag.Parse()

	log.Printf("Starting rover console v%s", Version)

	// Step 1: Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *repl {
		cfg.Console.REPL = true
	}
	log.Println("Configuration loaded successfully")

	// Step 2: Build the rover session
	session, err := rover.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create rover session: %v", err)
	}
	log.Printf("Rover session created for %s", cfg.Remote.BaseURL)

	// Step 3: Probe the rover; an unreachable rover is not fatal
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 3*time.Second)
	if err := session.Health(probeCtx); err != nil {
		log.Printf("Rover health check failed: %v", err)
	} else {
		log.Println("Rover is reachable")
	}
	cancelProbe()

	// Step 4: Create API server
	var server *console.Server
	if cfg.Auth.Secret != "" {
		verifier, err := auth.NewVerifier(cfg.Auth.Secret)
		if err != nil {
			log.Fatalf("Failed to create token verifier: %v", err)
		}
		server = console.NewServerWithAuth(session, session.Hub, auth.NewMiddleware(verifier), cfg.Console)
		log.Println("API server created with authentication")
	} else {
		server = console.NewServer(session, session.Hub, cfg.Console)
		log.Println("API server created")
	}

	// Step 5: Start HTTP server
	log.Printf("Starting HTTP server on %s", cfg.Console.Addr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()
	log.Printf("API base URL: http://%s%s", cfg.Console.Addr, console.APIPrefix)

	// Step 6: Optionally run the REPL
	replDone := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Console.REPL {
		go func() {
			defer close(replDone)
			if err := console.NewREPL(session, session.Hub, os.Stdin, os.Stdout).Run(ctx); err != nil {
				log.Printf("REPL error: %v", err)
			}
		}()
	}

	// Set up graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		log.Printf("Server error: %v", err)
	case <-replDone:
		log.Println("REPL ended, shutting down...")
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Stop telemetry hub first so open SSE streams end
	session.Hub.Stop()
	log.Println("Telemetry hub stopped")

	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	} else {
		log.Println("HTTP server stopped gracefully")
	}

	// Drain in-flight requests, stop the hub and close the audit log
	if err := session.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down rover session: %v", err)
	}
	log.Println("Rover session closed")

	log.Println("Rover console shutdown complete")
}
