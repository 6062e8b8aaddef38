package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bobmcallan/sumqueue/internal/callback"
	"github.com/bobmcallan/sumqueue/internal/common"
	"github.com/bobmcallan/sumqueue/internal/providergate"
	"github.com/bobmcallan/sumqueue/internal/ratelimit"
	"github.com/bobmcallan/sumqueue/internal/registry"
	"github.com/bobmcallan/sumqueue/internal/router"
	"github.com/bobmcallan/sumqueue/internal/store"
	"github.com/bobmcallan/sumqueue/internal/upstream"
	"github.com/bobmcallan/sumqueue/internal/upstream/gemini"
	"github.com/bobmcallan/sumqueue/internal/upstream/httpgen"
	"github.com/bobmcallan/sumqueue/internal/worker"
)

func main() {
	common.LoadVersionFromFile()

	configPath := os.Getenv("SUMQUEUE_CONFIG")
	cfg := common.NewDefaultConfig()
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	if loaded, err := common.LoadConfig(paths...); err == nil {
		cfg = loaded
	}

	logger := common.NewLogger(cfg.Logging.Level)

	if missing := cfg.ValidateRequired(); len(missing) > 0 {
		logger.Fatal().Str("missing", strings.Join(missing, ", ")).Msg("missing required configuration")
	}

	st, err := store.Open(context.Background(), cfg.Store.Path, cfg.Store.GetBusyTimeout(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}

	if err := registry.Seed(context.Background(), st, cfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed registry")
	}

	generators, err := buildGenerators(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build upstream generators")
	}

	limiter := ratelimit.New(st)
	gate := providergate.New(st)
	r := router.New(st, limiter, gate, generators)
	cb := callback.New(cfg.Callback.URL, cfg.Callback.InternalSecret, cfg.Callback.GetTimeout(), logger)

	hub := worker.NewEventHub(logger)
	w := worker.New(st, r, cb, logger, cfg.Worker, hub)

	common.PrintBanner(cfg, logger)
	w.Start()

	mux := buildMux(st, hub)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("starting ingress HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("ingress HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ingress HTTP server shutdown failed")
	}

	w.Stop()
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close store")
	}
	common.PrintShutdownBanner(logger)
}

// buildGenerators constructs one upstream.Generator per configured
// provider, keyed by the provider ID Registry.Seed assigns it
// (strings.ToLower(provider.Name)).
func buildGenerators(cfg *common.Config, logger *common.Logger) (map[string]upstream.Generator, error) {
	generators := make(map[string]upstream.Generator)

	for _, p := range []common.ProviderConfig{cfg.Providers.Primary, cfg.Providers.Secondary} {
		if p.Credential == "" {
			continue
		}
		providerID := strings.ToLower(p.Name)

		switch providerID {
		case "gemini":
			client, err := gemini.NewClient(context.Background(), p.Credential, gemini.WithLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("build gemini client: %w", err)
			}
			generators[providerID] = client
		default:
			if p.BaseURL == "" {
				return nil, fmt.Errorf("provider %q requires base_url for the generic HTTP adapter", providerID)
			}
			client := httpgen.NewClient(p.BaseURL, p.Credential,
				httpgen.WithLogger(logger),
				httpgen.WithRateLimit(httpgen.DefaultRateLimit),
				httpgen.WithTimeout(httpgen.DefaultTimeout),
			)
			generators[providerID] = client
		}
	}
	return generators, nil
}

// buildMux wires the non-normative HTTP ingress and health endpoints.
// Submit/Ingress is a thin shim over store.Store.Submit — the durable
// operation contract lives in the store package, not here.
func buildMux(st *store.Store, hub *worker.EventHub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(hub))
	mux.HandleFunc("/jobs", submitHandler(st))
	mux.HandleFunc("/ws", hub.ServeWS)
	return mux
}

type submitRequest struct {
	FileID      string          `json:"file_id"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
}

func submitHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.FileID == "" {
			http.Error(w, "file_id is required", http.StatusBadRequest)
			return
		}
		if req.Priority == 0 {
			req.Priority = 1
		}
		if req.MaxAttempts == 0 {
			req.MaxAttempts = 3
		}

		outcome, err := st.Submit(r.Context(), req.FileID, req.Payload, req.Priority, req.MaxAttempts)
		if err != nil {
			http.Error(w, "submit failed: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(outcome)
	}
}

func healthHandler(hub *worker.EventHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":            "ok",
			"event_subscribers": hub.ClientCount(),
		})
	}
}
