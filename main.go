package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/online-ide/internal/auth"
	"github.com/gluk-w/online-ide/internal/config"
	"github.com/gluk-w/online-ide/internal/database"
	"github.com/gluk-w/online-ide/internal/handlers"
	"github.com/gluk-w/online-ide/internal/logging"
	"github.com/gluk-w/online-ide/internal/middleware"
	"github.com/gluk-w/online-ide/internal/runner"
	"github.com/gluk-w/online-ide/internal/session"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-project":
			runCLICommand("create-project")
			return
		case "--purge-projects":
			runCLICommand("purge-projects")
			return
		}
	}

	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	toolchains, err := runner.LoadToolchains(config.Cfg.ToolchainsFile)
	if err != nil {
		log.Fatalf("Toolchains: %v", err)
	}
	handlers.Runner = runner.New(toolchains)
	shell, _ := config.Cfg.ShellCommand()
	log.Printf("Config: Listen=%s, Users=%s, Shell=%s, Languages=%v, Heartbeat=%s",
		config.Cfg.ListenAddr, config.Cfg.UsersPath, shell, toolchains.Languages(), config.Cfg.HeartbeatInterval)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Heartbeat sweep
	registry := session.NewRegistry()
	handlers.Sessions = registry
	go registry.Run(sigCtx, config.Cfg.HeartbeatInterval)

	purger, err := startProjectPurgeJob(config.Cfg.ProjectPurgeSchedule)
	if err != nil {
		log.Fatalf("Project purge job: %v", err)
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.ClientKey)

	r.Get("/health", handlers.HealthCheck)

	// IDE WebSocket (origin gated)
	r.With(middleware.RequireOrigin).Get("/ws", handlers.IDEWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/projects", handlers.CreateProject)
		r.Get("/projects/{publicId}", handlers.GetProject)
		r.Post("/projects/{publicId}/unlock", handlers.UnlockProject)

		// Operator routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/sessions", handlers.ListSessions)
			r.Delete("/sessions/{id}", handlers.CloseSession)
			r.Get("/server-logs", handlers.GetServerLogs)
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	<-purger.Stop().Done()
	registry.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	lang := fs.String("lang", "", "Project language tag")
	pass := fs.String("pass", "", "Project password")
	ttl := fs.Int64("ttl", 0, "Project lifetime in seconds, 0 never expires")
	fs.Parse(os.Args[2:])

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	switch command {
	case "create-project":
		if *lang == "" {
			fmt.Fprintf(os.Stderr, "Usage: online-ide --%s --lang <tag> [--pass <pass>] [--ttl <seconds>]\n", command)
			os.Exit(1)
		}
		toolchains, err := runner.LoadToolchains(config.Cfg.ToolchainsFile)
		if err != nil {
			log.Fatalf("Toolchains: %v", err)
		}
		if _, ok := toolchains.Lookup(*lang); !ok {
			log.Fatalf("Language '%s' is not supported", *lang)
		}
		lifetime, err := database.TTLFromSeconds(*ttl)
		if err != nil {
			log.Fatalf("Invalid --ttl: %v", err)
		}
		hash, err := auth.HashPassword(*pass)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		p, err := database.CreateProject(toolchains.Normalize(*lang), hash, lifetime)
		if err != nil {
			log.Fatalf("Failed to create project: %v", err)
		}
		fmt.Printf("Project created.\n  public id: %s\n  edit id:   %s\n", p.PublicID, p.EditID)

	case "purge-projects":
		n, err := purgeExpiredProjects(time.Now())
		if err != nil {
			log.Fatalf("Failed to purge projects: %v", err)
		}
		fmt.Printf("Purged %d expired projects.\n", n)
	}
}
