package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/typing-arena/internal/domain"
	"github.com/typing-arena/internal/leaderboard"
	"github.com/typing-arena/internal/matchmaking"
	"github.com/typing-arena/internal/presence"
	"github.com/typing-arena/internal/room"
	"github.com/typing-arena/internal/websocket"
)

// Handler provides the HTTP API surface
type Handler struct {
	rooms        *room.Manager
	matches      *matchmaking.Service
	lobby        *presence.Registry
	leaderboards *leaderboard.Service
	hub          *websocket.Hub
	logger       *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	rooms *room.Manager,
	matches *matchmaking.Service,
	lobby *presence.Registry,
	leaderboards *leaderboard.Service,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		rooms:        rooms,
		matches:      matches,
		lobby:        lobby,
		leaderboards: leaderboards,
		hub:          hub,
		logger:       logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Room operations
		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", h.CreateRoom)
			r.Get("/", h.ListRooms)
			r.Get("/player/{playerID}", h.GetRoomByPlayer)

			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", h.GetRoom)
				r.Post("/join", h.JoinRoom)
				r.Post("/leave", h.LeaveRoom)
				r.Post("/ready", h.SetReady)
				r.Post("/start", h.StartGame)
				r.Post("/status", h.ForceStatus)
			})
		})

		// Matchmaking
		r.Route("/matchmaking", func(r chi.Router) {
			r.Post("/queue", h.Enqueue)
			r.Delete("/queue/{playerID}", h.CancelQueue)
			r.Get("/status", h.QueueStatus)
		})

		// Lobby presence
		r.Get("/presence", h.ListPresence)

		// Score operations
		r.Post("/scores", h.SubmitScore)
		r.Post("/scores/batch", h.SubmitScoreBatch)

		// Leaderboard operations
		r.Route("/leaderboards/{gameType}", func(r chi.Router) {
			r.Get("/top", h.GetTop)
			r.Get("/player/{playerID}", h.GetPlayerRank)
			r.Get("/friends/{playerID}", h.GetFriendLeaderboard)
		})
		r.Get("/players/{playerID}/rankings", h.GetPlayerAllRankings)
		r.Get("/players/{playerID}/stats", h.GetPlayerStats)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps domain errors onto HTTP statuses
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsConflict(err):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidGameType):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateRoom creates a new room with the caller seated first
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameType    string `json:"game_type"`
		MaxPlayers  int    `json:"max_players"`
		PlayerID    string `json:"player_id"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.PlayerID
	}

	created, err := h.rooms.CreateRoom(r.Context(), req.GameType, req.MaxPlayers, req.PlayerID, req.DisplayName)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: created})
}

// ListRooms returns joinable rooms, optionally filtered by game type
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	includeFull := r.URL.Query().Get("include_full") == "true"
	rooms, err := h.rooms.GetActiveRooms(r.Context(), r.URL.Query().Get("game_type"), includeFull)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, rooms)
}

// GetRoom returns one room by id
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	found, err := h.rooms.GetRoom(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, found)
}

// GetRoomByPlayer reverse-looks-up a player's current room
func (h *Handler) GetRoomByPlayer(w http.ResponseWriter, r *http.Request) {
	found, err := h.rooms.GetRoomByPlayerID(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, found)
}

type roomActionRequest struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Ready       bool   `json:"ready"`
}

func decodeRoomAction(r *http.Request) (*roomActionRequest, error) {
	var req roomActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if req.DisplayName == "" {
		req.DisplayName = req.PlayerID
	}
	return &req, nil
}

// JoinRoom seats a player
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRoomAction(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	joined, err := h.rooms.JoinRoom(r.Context(), chi.URLParam(r, "roomID"), req.PlayerID, req.DisplayName)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, joined)
}

// LeaveRoom unseats a player
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRoomAction(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	left, err := h.rooms.LeaveRoom(r.Context(), chi.URLParam(r, "roomID"), req.PlayerID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, left)
}

// SetReady toggles a member's ready flag
func (h *Handler) SetReady(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRoomAction(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.rooms.SetReady(r.Context(), chi.URLParam(r, "roomID"), req.PlayerID, req.Ready)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, updated)
}

// StartGame transitions a room to playing
func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	started, err := h.rooms.StartGame(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, started)
}

// ForceStatus is the audited administrative status override
func (h *Handler) ForceStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actor_id"`
		Status  string `json:"status"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActorID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	status, err := domain.ParseRoomStatus(req.Status)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	forced, err := h.rooms.ForceStatus(r.Context(), chi.URLParam(r, "roomID"), req.ActorID, status, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, forced)
}

// Enqueue places a player in a matchmaking queue
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID    string `json:"player_id"`
		DisplayName string `json:"display_name"`
		GameType    string `json:"game_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.PlayerID
	}

	ticket, err := h.matches.Enqueue(r.Context(), req.PlayerID, req.DisplayName, req.GameType)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, ticket)
}

// CancelQueue withdraws a player's queued ticket
func (h *Handler) CancelQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.matches.Cancel(r.Context(), chi.URLParam(r, "playerID")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "cancelled"})
}

// QueueStatus reports queue depth and a wait estimate
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.matches.Status(r.Context(), r.URL.Query().Get("game_type"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, status)
}

// ListPresence returns the lobby view of online players
func (h *Handler) ListPresence(w http.ResponseWriter, r *http.Request) {
	players, err := h.lobby.ListOnlinePlayers(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, players)
}

// SubmitScore handles direct score submission
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var submission domain.ScoreSubmission
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if submission.PlayerID == "" || submission.GameType == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.leaderboards.SubmitScore(r.Context(), submission)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, result)
}

// SubmitScoreBatch handles batch score submission
func (h *Handler) SubmitScoreBatch(w http.ResponseWriter, r *http.Request) {
	var batch domain.BatchScoreSubmission
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil || len(batch.Scores) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.leaderboards.SubmitScoreBatch(r.Context(), batch); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"status":   "accepted",
		"received": len(batch.Scores),
	})
}

func parseBoardScope(r *http.Request) (domain.GameType, domain.Period, error) {
	gt, err := domain.ParseGameType(chi.URLParam(r, "gameType"))
	if err != nil {
		return "", "", err
	}
	period := domain.PeriodAllTime
	if p := r.URL.Query().Get("period"); p != "" {
		period, err = domain.ParsePeriod(p)
		if err != nil {
			return "", "", err
		}
	}
	return gt, period, nil
}

// GetTop returns the top entries for a game type and period
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	gt, period, err := parseBoardScope(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.leaderboards.GetTopPlayers(r.Context(), gt, period, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, entries)
}

// GetPlayerRank returns a player's rank for one scope
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	gt, period, err := parseBoardScope(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	ranking, err := h.leaderboards.GetPlayerRank(r.Context(), chi.URLParam(r, "playerID"), gt, period)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, ranking)
}

// GetFriendLeaderboard returns the self-scoped friend view
func (h *Handler) GetFriendLeaderboard(w http.ResponseWriter, r *http.Request) {
	gt, period, err := parseBoardScope(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	requesterID := r.URL.Query().Get("requester_id")
	entries, err := h.leaderboards.GetFriendLeaderboard(r.Context(), requesterID, chi.URLParam(r, "playerID"), gt, period)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, entries)
}

// GetPlayerAllRankings returns ranks across every game type and period
func (h *Handler) GetPlayerAllRankings(w http.ResponseWriter, r *http.Request) {
	rankings, err := h.leaderboards.GetPlayerAllRankings(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, rankings)
}

// GetPlayerStats returns lifetime aggregates from submission history
func (h *Handler) GetPlayerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.leaderboards.GetPlayerStats(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, stats)
}
