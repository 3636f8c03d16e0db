package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/karvel/famulus/internal/budget"
	"github.com/karvel/famulus/internal/conference"
	"github.com/karvel/famulus/internal/curiosity"
	"github.com/karvel/famulus/internal/memory"
	"github.com/karvel/famulus/internal/orchestrator"
)

const (
	defaultSearchK     = 5
	defaultForgetLimit = 5
	conceptIDMaxRunes  = 30
)

// Assistant answers user messages.
type Assistant interface {
	Assist(ctx context.Context, sessionID, input string) (*orchestrator.Result, error)
}

// Conferencer runs team discussions.
type Conferencer interface {
	Run(ctx context.Context, topic, team string, maxRounds int) *conference.Result
}

// ConceptGraph is the graph surface the API exposes.
type ConceptGraph interface {
	AddConcept(ctx context.Context, id, label, category string, properties map[string]any) error
	FindContradictions(ctx context.Context) ([]memory.Contradiction, error)
}

// Explorer reports the curiosity queue.
type Explorer interface {
	Status() curiosity.Status
}

// Handler holds dependencies for HTTP handlers. Backends that were
// unavailable at startup arrive nil and their routes answer 503.
type Handler struct {
	assistant Assistant
	conf      Conferencer
	ledger    *budget.Ledger
	mem       orchestrator.Memory
	graph     ConceptGraph
	explorer  Explorer
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	assistant Assistant,
	conf Conferencer,
	ledger *budget.Ledger,
	mem orchestrator.Memory,
	graph ConceptGraph,
	explorer Explorer,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		assistant: assistant,
		conf:      conf,
		ledger:    ledger,
		mem:       mem,
		graph:     graph,
		explorer:  explorer,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/assist", h.assist)
		r.Post("/conference", h.runConference)
		r.Get("/budget", h.budgetStatus)

		r.Get("/memory/search", h.searchMemory)
		r.Post("/memory/knowledge", h.storeKnowledge)
		r.Get("/memory/stats", h.memoryStats)
		r.Delete("/memory", h.forgetMemory)

		r.Get("/graph/contradictions", h.listContradictions)
		r.Get("/curiosity", h.curiosityStatus)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "famulus"})
}

type assistRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id"`
}

func (h *Handler) assist(w http.ResponseWriter, r *http.Request) {
	var req assistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "input is required"})
		return
	}
	if h.assistant == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "assistant not initialized"})
		return
	}

	result, err := h.assistant.Assist(r.Context(), req.SessionID, req.Input)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type conferenceRequest struct {
	Topic     string `json:"topic"`
	Team      string `json:"team"`
	MaxRounds int    `json:"max_rounds"`
}

func (h *Handler) runConference(w http.ResponseWriter, r *http.Request) {
	var req conferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "topic is required"})
		return
	}
	if h.conf == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "conference engine not initialized"})
		return
	}
	if req.Team == "" {
		req.Team = conference.DetectTeam(req.Topic)
	}

	result := h.conf.Run(r.Context(), req.Topic, req.Team, req.MaxRounds)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) budgetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Status())
}

func (h *Handler) searchMemory(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	if h.mem == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory not initialized"})
		return
	}

	topK := queryInt(r, "k", defaultSearchK)
	results := h.mem.Search(r.Context(), query, topK)
	if results == nil {
		results = []memory.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

type knowledgeRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

func (h *Handler) storeKnowledge(w http.ResponseWriter, r *http.Request) {
	var req knowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Title == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title and content are required"})
		return
	}
	if req.Category == "" {
		req.Category = "general"
	}
	if h.mem == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory not initialized"})
		return
	}

	if err := h.mem.StoreKnowledge(r.Context(), req.Title, req.Content, req.Category); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, memory.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	// Taught concepts also seed the knowledge graph.
	if req.Category == "concept" && h.graph != nil {
		if err := h.graph.AddConcept(r.Context(), conceptID(req.Title), req.Title, "user_taught", nil); err != nil {
			h.logger.Warn("concept node not added", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored", "title": req.Title})
}

func (h *Handler) memoryStats(w http.ResponseWriter, r *http.Request) {
	if h.mem == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.mem.Stats(r.Context()))
}

func (h *Handler) forgetMemory(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	if h.mem == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory not initialized"})
		return
	}

	removed, err := h.mem.Forget(r.Context(), query, queryInt(r, "limit", defaultForgetLimit))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) listContradictions(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "knowledge graph not initialized"})
		return
	}
	found, err := h.graph.FindContradictions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if found == nil {
		found = []memory.Contradiction{}
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) curiosityStatus(w http.ResponseWriter, r *http.Request) {
	if h.explorer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "curiosity engine not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.explorer.Status())
}

// conceptID derives a stable graph node id from a knowledge title.
func conceptID(title string) string {
	id := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "_")
	if r := []rune(id); len(r) > conceptIDMaxRunes {
		id = string(r[:conceptIDMaxRunes])
	}
	return id
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
