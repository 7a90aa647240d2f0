package main

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	clioauth "github.com/richardslaw/clio-intake/internal/auth/clio"
	"github.com/richardslaw/clio-intake/internal/auth/token"
	"github.com/richardslaw/clio-intake/internal/clioapi"
	"github.com/richardslaw/clio-intake/internal/config"
	"github.com/richardslaw/clio-intake/internal/db"
	"github.com/richardslaw/clio-intake/internal/docgen"
	"github.com/richardslaw/clio-intake/internal/extract"
	"github.com/richardslaw/clio-intake/internal/intake"
	"github.com/richardslaw/clio-intake/internal/notify"
	"github.com/richardslaw/clio-intake/internal/server"
	"github.com/richardslaw/clio-intake/internal/version"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if !clioauth.HasClientCredentials() {
		log.Printf("⚠️ CLIO_CLIENT_ID / CLIO_CLIENT_SECRET not set; the OAuth login flow will fail until they are")
	}

	dbPath := os.Getenv("INTAKE_DB")
	if dbPath == "" {
		dbPath = "intake.db"
	}
	database, err := db.Init(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	tokenStore := token.NewStore(database, clioauth.OAuthConfig(cfg.Clio, ""))
	apiClient := clioapi.NewClient(tokenStore, cfg.Clio.BaseURL)

	orchestrator := intake.NewOrchestrator(
		database,
		apiClient,
		extract.NewService(os.Getenv("EXTRACTOR_URL")),
		docgen.NewService(apiClient),
		notify.NewMailer(cfg),
	)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(server.RequestID)

	r.Get("/health", server.HealthHandler())

	// OAuth flow
	r.Get("/auth/clio/login", clioauth.HandleLogin(cfg.Clio))
	r.Get("/auth/clio/callback", clioauth.HandleCallback(cfg.Clio, tokenStore))
	r.Get("/auth/clio/status", server.OAuthStatusHandler(tokenStore))
	r.Get("/auth/clio/logout", server.LogoutHandler(tokenStore))

	// Intake API (API key required)
	r.Route("/api", func(r chi.Router) {
		r.Use(server.APIKeyAuth(database))
		r.Get("/document-templates", server.TemplatesHandler(apiClient))
		r.Post("/submissions", server.SubmitHandler(orchestrator))
		r.Get("/submissions/{id}", server.SubmissionStatusHandler(orchestrator))
	})

	host := os.Getenv("HOST")
	if host == "" {
		host = "127.0.0.1" // Set HOST=0.0.0.0 for LAN access
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := host + ":" + port

	log.Printf("🚀 Clio Intake %s starting on http://%s", version.Version, addr)
	log.Printf("🔌 Login: http://%s/auth/clio/login?account=<firm>", addr)
	log.Printf("🔌 Intake API: http://%s/api/submissions", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
