package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/aesop/internal/config"
)

var (
	serveAddr string
)

// serveCmd runs Aesop's HTTP surface: POST /chat, GET/DELETE /session/{id},
// GET /health.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Aesop HTTP server",
	Long: `Serve exposes Aesop's chat endpoint over HTTP:
- POST   /chat            run a message through the orchestrator
- GET    /session/{id}    inspect a cached session
- DELETE /session/{id}    evict a cached session
- GET    /health          liveness probe

Example:
  aesop serve --addr :8080 --llm-provider openai`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "address to listen on")
	serveCmd.Flags().StringVar(&llmProvider, "llm-provider", "openai", "LLM provider (openai, anthropic, ollama)")
	serveCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
	serveCmd.Flags().StringVar(&memoryPath, "memory-db", "aesop-memory.db", "path to the acceptance-memory sqlite database")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = serveAddr
	cfg.Memory.Path = memoryPath
	cfg.LLM.Provider = llmProvider
	cfg.LLM.Model = llmModel

	switch llmProvider {
	case "openai":
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	case "anthropic", "claude":
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case "ollama":
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
	}

	a, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	h := &chatHandler{app: a}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Post("/chat", h.chat)
	r.Get("/session/{id}", h.getSession)
	r.Delete("/session/{id}", h.deleteSession)

	fmt.Fprintf(os.Stderr, "Aesop listening on %s\n", cfg.Server.Addr)
	return http.ListenAndServe(cfg.Server.Addr, r)
}

type chatHandler struct {
	app *app
}

func (h *chatHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response         string  `json:"response"`
	SessionID        string  `json:"session_id"`
	RouteTaken       string  `json:"route_taken"`
	Intent           string  `json:"intent"`
	IntentConfidence float64 `json:"intent_confidence"`
	PapersCount      int     `json:"papers_count"`
	CriticDecision   string  `json:"critic_decision,omitempty"`
	AvgQuality       float64 `json:"avg_quality,omitempty"`
}

func (h *chatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
	defer cancel()

	state := h.app.orchestrator.Handle(ctx, req.Message, req.SessionID)

	sessionID := state.SessionID
	if sessionID == "" && req.SessionID != "" {
		sessionID = req.SessionID
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:         state.FinalResponse,
		SessionID:        sessionID,
		RouteTaken:       string(state.Route),
		Intent:           string(state.Intent),
		IntentConfidence: state.IntentConfidence,
		PapersCount:      len(state.Papers),
		CriticDecision:   string(state.CriticDecision),
		AvgQuality:       state.AvgQuality,
	})
}

func (h *chatHandler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	sess := h.app.orchestrator.Session(id)
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *chatHandler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.app.orchestrator.DeleteSession(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
