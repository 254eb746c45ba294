package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mkurosawa/thisorthat/internal/scheduler"
	"github.com/mkurosawa/thisorthat/internal/store"
	"github.com/mkurosawa/thisorthat/pkg/recommend"
	"github.com/mkurosawa/thisorthat/pkg/session"
)

// Server provides the HTTP API.
type Server struct {
	store  store.Store
	engine *recommend.Engine
	ledger *session.Ledger
	sched  *scheduler.Scheduler
	port   int
}

// New creates a new HTTP server.
func New(s store.Store, engine *recommend.Engine, ledger *session.Ledger, sched *scheduler.Scheduler, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:  s,
		engine: engine,
		ledger: ledger,
		sched:  sched,
		port:   port,
	}
}

// Handler returns the API routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/pair", s.handlePair)
	mux.HandleFunc("/api/v1/choice", s.handleChoice)
	mux.HandleFunc("/api/v1/tags", s.handleTags)
	mux.HandleFunc("/api/v1/refresh", s.handleRefresh)
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	fmt.Printf("thisorthat server listening on %s\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePair returns the next recommended (or random) image pair for a
// session. Error codes match the original client contract: "no-images"
// when the cache cannot produce a pair, "api-error" for everything else.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	sessionID := r.URL.Query().Get("session")

	pair, err := s.engine.Recommend(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, recommend.ErrInsufficientContent) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no-images"})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "api-error"})
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

type choiceRequest struct {
	SessionID    string   `json:"session_id"`
	ChosenTags   []string `json:"chosen_tags"`
	UnchosenTags []string `json:"unchosen_tags"`
	ImageID      int64    `json:"image_id"`
}

func (s *Server) handleChoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req choiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id required"})
		return
	}

	res, err := s.ledger.ApplyChoice(r.Context(), req.SessionID, req.ChosenTags, req.UnchosenTags, req.ImageID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "api-error"})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	stats, err := s.store.ListTagStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type tagScore struct {
		Tag   string `json:"tag"`
		Score int    `json:"score"`
	}

	scores := make([]tagScore, 0, len(stats))
	for _, ts := range stats {
		scores = append(scores, tagScore{Tag: ts.Tag, Score: ts.Score})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  scores,
		"count": len(scores),
	})
}

// handleRefresh triggers the replenish-and-recompute sequence. A call
// that lands while a run is in flight joins it rather than starting a
// second one.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	s.sched.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
