package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"molend-points/internal/config"
	"molend-points/internal/storage"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// Response is the envelope every endpoint replies with.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// PointsPayload serialises one aggregation result.
type PointsPayload struct {
	DepositPoints string `json:"depositPoints"`
	BorrowPoints  string `json:"borrowPoints"`
	TotalPoints   string `json:"totalPoints"`
}

// UserPointsPayload pairs a user with their points.
type UserPointsPayload struct {
	User string `json:"user"`
	PointsPayload
}

// Server exposes the points aggregations over HTTP.
type Server struct {
	store  storage.SnapshotStore
	logger zerolog.Logger
	srv    *http.Server
}

// NewServer wires the read API around a snapshot store.
func NewServer(cfg config.ServerConfig, store storage.SnapshotStore, logger zerolog.Logger) *Server {
	s := &Server{
		store:  store,
		logger: logger.With().Str("component", "api_server").Logger(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	router.HandleFunc("/points", s.handlePoints).Methods(http.MethodGet)
	router.HandleFunc("/points/total", s.handlePointsTotal).Methods(http.MethodGet)
	router.HandleFunc("/points/{user}", s.handleUserPoints).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("api server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Molend Points API Server"})
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	offset, ok := queryInt(r, "offset", 0)
	if !ok || offset < 0 {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "offset must be a non-negative integer"})
		return
	}
	limit, ok := queryInt(r, "limit", defaultPageLimit)
	if !ok || limit < 0 {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "limit must be a non-negative integer"})
		return
	}
	if limit == 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	points, err := s.store.PointsForUsers(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to calculate points")
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Message: "failed to calculate points"})
		return
	}

	payload := make([]UserPointsPayload, 0, len(points))
	for _, p := range points {
		payload = append(payload, UserPointsPayload{User: p.User, PointsPayload: pointsPayload(p.Points)})
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: payload})
}

func (s *Server) handlePointsTotal(w http.ResponseWriter, r *http.Request) {
	points, err := s.store.PointsTotal(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to calculate total points")
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Message: "failed to calculate total points"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: pointsPayload(points)})
}

func (s *Server) handleUserPoints(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	if !common.IsHexAddress(user) {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "invalid user address"})
		return
	}

	// Directory ids are lowercase hex; accept any casing from callers.
	points, err := s.store.PointsForUser(r.Context(), strings.ToLower(user))
	if err != nil {
		s.logger.Error().Err(err).Str("user", user).Msg("failed to calculate user points")
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Message: "failed to calculate user points"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: pointsPayload(points)})
}

func pointsPayload(p storage.Points) PointsPayload {
	return PointsPayload{
		DepositPoints: p.Deposit.String(),
		BorrowPoints:  p.Borrow.String(),
		TotalPoints:   p.Total.String(),
	}
}

func queryInt(r *http.Request, key string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
