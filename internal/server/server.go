// Package server exposes the lifecycle engine over HTTP so that messaging
// webhooks, close events and operators can trigger analyses and moves.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/valter-silva-au/ai-kanban/internal/core"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

const maxBodyBytes = 4 << 20

var errEmptyBody = errors.New("request body is empty")

// Deps holds the services the HTTP surface delegates to.
type Deps struct {
	Engine  core.Engine
	Cards   core.CardReader
	History core.HistoryStore
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server routes HTTP requests to the engine.
type Server struct {
	deps   Deps
	log    *zap.Logger
	router chi.Router
}

// New builds a Server and its router.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{deps: deps, log: log}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer wraps the router in an http.Server with conservative timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Analyses wait on the classifier, which retries with backoff.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/cards", func(r chi.Router) {
		r.Get("/", s.handleListCards)
		r.Route("/{cardID}", func(r chi.Router) {
			r.Get("/", s.handleGetCard)
			r.Get("/history", s.handleHistory)
			r.Post("/analyze", s.handleAnalyze)
			r.Post("/stage", s.handleStage)
			r.Post("/move", s.handleMove)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// analyzeRequest is the body of POST /v1/cards/{cardID}/analyze. When
// Analysis is present it is applied directly, otherwise Transcript (or the
// card's stored transcript) is sent to the classifier.
type analyzeRequest struct {
	Transcript         string                 `json:"transcript,omitempty"`
	Analysis           *models.AnalysisResult `json:"analysis,omitempty"`
	Trigger            models.TriggerSource   `json:"trigger,omitempty"`
	ModelUsed          string                 `json:"model_used,omitempty"`
	ConversationLength int                    `json:"conversation_length,omitempty"`
}

type stageRequest struct {
	Stage string `json:"stage"`
}

type moveRequest struct {
	ColumnID string `json:"column_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cards == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("card listing not available"))
		return
	}
	cards, err := s.deps.Cards.ListCards(r.Context(), r.URL.Query().Get("pipeline_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if cards == nil {
		cards = []*models.Card{}
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cards == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("card lookup not available"))
		return
	}
	card, err := s.deps.Cards.GetCard(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("analysis history not available"))
		return
	}
	entries, err := s.deps.History.ListHistory(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if req.Trigger == "" {
		req.Trigger = models.TriggerManual
	}
	cardID := chi.URLParam(r, "cardID")

	var (
		out *core.Outcome
		err error
	)
	if req.Analysis != nil {
		out, err = s.deps.Engine.Apply(r.Context(), core.ApplyRequest{
			CardID:             cardID,
			Analysis:           req.Analysis,
			Trigger:            req.Trigger,
			ConversationLength: req.ConversationLength,
			ModelUsed:          req.ModelUsed,
		})
	} else {
		out, err = s.deps.Engine.Analyze(r.Context(), core.AnalyzeRequest{
			CardID:     cardID,
			Transcript: req.Transcript,
			Trigger:    req.Trigger,
		})
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if req.Stage == "" {
		writeError(w, http.StatusUnprocessableEntity, errors.New("stage is required"))
		return
	}
	card, err := s.deps.Engine.ForceStage(r.Context(), chi.URLParam(r, "cardID"), req.Stage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if req.ColumnID == "" {
		writeError(w, http.StatusUnprocessableEntity, errors.New("column_id is required"))
		return
	}
	card, err := s.deps.Engine.MoveCard(r.Context(), chi.URLParam(r, "cardID"), req.ColumnID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// fail maps engine errors onto HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrCardNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrMalformedAnalysis),
		errors.Is(err, core.ErrStageNotFound),
		errors.Is(err, core.ErrColumnNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrConcurrentUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
