// Package router wires the REST API routes using Chi.
package router

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/remiblancher/encrypto/internal/api/handler"
	"github.com/remiblancher/encrypto/internal/api/middleware"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config holds router dependencies.
type Config struct {
	Version string
	Backend qpgp.Backend

	// Policies supplies default pqc policies; nil means required.
	Policies handler.PolicySource

	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	Logger *zap.Logger
}

// New creates the router.
func New(cfg *Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recoverer)

	healthHandler := handler.NewHealthHandler(cfg.Version, cfg.Backend)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	r.Get("/api/openapi.yaml", serveOpenAPISpec)

	keyHandler := handler.NewKeyHandler(cfg.Backend)
	cryptoHandler := handler.NewCryptoHandler(cfg.Backend, cfg.Policies)
	capsHandler := handler.NewCapabilitiesHandler(cfg.Backend, cfg.Policies)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/keys", func(r chi.Router) {
			r.Get("/", keyHandler.List)
			r.Post("/import", keyHandler.Import)
			r.Get("/{fingerprint}", keyHandler.Get)
		})
		r.Post("/encrypt", cryptoHandler.Encrypt)
		r.Post("/verify", cryptoHandler.Verify)
		r.Get("/capabilities", capsHandler.Get)
	})

	return r
}

// serveOpenAPISpec serves the OpenAPI description.
func serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiSpec)
}
