// Package api exposes the book and the trade simulator over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/orderbook"
	"trade_sim/internal/service"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const (
	defaultBookDepth    = 10
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// History is the read side of the recorder. Optional.
type History interface {
	RecentTicks(ctx context.Context, instrument string, limit int) ([]domain.TickRecord, error)
	RecentSimulations(ctx context.Context, limit int) ([]domain.SimulationRecord, error)
	GetSimulation(ctx context.Context, id string) (*domain.SimulationRecord, error)
}

// Server holds the HTTP router and the components it reads from.
type Server struct {
	quotes  *service.QuoteService
	book    *orderbook.OrderBook
	metrics http.Handler
	feed    domain.FeedWorker
	history History

	router    *mux.Router
	startTime time.Time
	logger    *slog.Logger
}

// NewServer creates the API. metrics serves /metrics and may be nil.
func NewServer(quotes *service.QuoteService, metrics http.Handler) *Server {
	s := &Server{
		quotes:    quotes,
		book:      quotes.Book(),
		metrics:   metrics,
		router:    mux.NewRouter(),
		startTime: time.Now(),
		logger:    slog.Default().With("module", "api"),
	}
	s.registerRoutes()
	return s
}

// SetFeed lets /health report the feed connection.
func (s *Server) SetFeed(feed domain.FeedWorker) {
	s.feed = feed
}

// SetHistory enables the recorder-backed endpoints.
func (s *Server) SetHistory(h History) {
	s.history = h
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/depth", s.handleDepthToFill).Methods("GET")
	api.HandleFunc("/simulate", s.handleSimulate).Methods("POST")
	api.HandleFunc("/fees", s.handleFees).Methods("GET")
	api.HandleFunc("/ticks", s.handleTicks).Methods("GET")
	api.HandleFunc("/simulations", s.handleSimulations).Methods("GET")
	api.HandleFunc("/simulations/{id}", s.handleGetSimulation).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// bookResponse is the top-of-book summary. Absent values are null.
type bookResponse struct {
	Instrument string              `json:"instrument"`
	BestBid    *decimal.Decimal    `json:"best_bid"`
	BestAsk    *decimal.Decimal    `json:"best_ask"`
	MidPrice   *decimal.Decimal    `json:"mid_price"`
	Spread     *decimal.Decimal    `json:"spread"`
	Crossed    bool                `json:"crossed"`
	Bids       []domain.PriceLevel `json:"bids"`
	Asks       []domain.PriceLevel `json:"asks"`
	Stats      domain.UpdateStats  `json:"stats"`
}

func optional(v decimal.Decimal, ok bool) *decimal.Decimal {
	if !ok {
		return nil
	}
	return &v
}

// handleGetBook handles GET /api/v1/book?depth=N
func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	depth := defaultBookDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "depth must be a positive integer")
			return
		}
		depth = n
	}

	view := s.book.View()
	respondJSON(w, http.StatusOK, bookResponse{
		Instrument: s.book.Instrument(),
		BestBid:    optional(view.BestBid()),
		BestAsk:    optional(view.BestAsk()),
		MidPrice:   optional(view.MidPrice()),
		Spread:     optional(view.Spread()),
		Crossed:    view.Crossed(),
		Bids:       view.Bids().Top(depth),
		Asks:       view.Asks().Top(depth),
		Stats:      view.Stats(),
	})
}

// handleDepthToFill handles GET /api/v1/depth?side=buy&notional=100
func (s *Server) handleDepthToFill(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	side, err := domain.ParseSide(q.Get("side"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	notional, err := decimal.NewFromString(q.Get("notional"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "notional must be a decimal number")
		return
	}
	if !domain.InRange(notional) {
		respondError(w, http.StatusBadRequest, "notional is out of range")
		return
	}

	view := s.book.View()
	volume := view.DepthToFill(side, notional)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"side":        side,
		"notional":    notional,
		"volume":      volume,
		"levels":      view.Levels(side).Len(),
		"book_volume": view.Levels(side).TotalVolume(),
	})
}

// SimulateRequest is the JSON body of POST /api/v1/simulate.
// Notional may be sent as a JSON number or string.
type SimulateRequest struct {
	Side     string          `json:"side"`
	Notional decimal.Decimal `json:"notional"`
	FeeTier  string          `json:"fee_tier,omitempty"`
}

// handleSimulate handles POST /api/v1/simulate
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	side, err := domain.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.quotes.Quote(r.Context(), service.QuoteRequest{
		Side:     side,
		Notional: req.Notional,
		FeeTier:  req.FeeTier,
	})
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// handleFees handles GET /api/v1/fees
func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"tiers": s.quotes.FeeTiers()})
}

// handleTicks handles GET /api/v1/ticks?limit=N
func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "recording is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	ticks, err := s.history.RecentTicks(r.Context(), s.book.Instrument(), limit)
	if err != nil {
		s.logger.Error("Failed to read ticks", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "failed to read ticks")
		return
	}
	respondJSON(w, http.StatusOK, ticks)
}

// handleSimulations handles GET /api/v1/simulations?limit=N
func (s *Server) handleSimulations(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "recording is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	recs, err := s.history.RecentSimulations(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read simulations", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "failed to read simulations")
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

// handleGetSimulation handles GET /api/v1/simulations/{id}
func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "recording is disabled")
		return
	}
	id := mux.Vars(r)["id"]

	rec, err := s.history.GetSimulation(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to read simulation", slog.String("id", id), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "failed to read simulation")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "simulation not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.book.Stats()
	status := "healthy"

	response := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"instrument":     s.book.Instrument(),
		"book_version":   stats.Version,
	}
	if !stats.LastUpdate.IsZero() {
		response["book_age_ms"] = time.Since(stats.LastUpdate).Milliseconds()
	}
	if s.feed != nil {
		connected := s.feed.IsConnected()
		response["feed_connected"] = connected
		if !connected {
			status = "degraded"
		}
	}
	response["status"] = status

	respondJSON(w, http.StatusOK, response)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyBook), errors.Is(err, domain.ErrUnfillableOrder):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDegenerateInput), errors.Is(err, service.ErrUnknownFeeTier):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Helper functions

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
