package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lockstep/pkg/interfaces"
	"lockstep/pkg/types"
)

// SessionSource exposes live session state to the API without coupling it to
// the session manager implementation.
type SessionSource interface {
	ListSessions() []*types.Session
	Session(sessionID types.SessionID) (*types.Session, error)
	GetStats() map[string]int
}

// Registry exposes connection counts per session.
type Registry interface {
	SessionConnections(sessionID types.SessionID) []interfaces.Connection
	GetStats() map[string]int
}

// Server is the read-only ops API. Sessions are created and ended over the
// WebSocket protocol by the devices themselves; HTTP only observes.
type Server struct {
	sessions  SessionSource
	dbManager interfaces.DatabaseManager
	registry  Registry
	router    *http.ServeMux
}

// NewServer wires the API routes. dbManager may be nil when the audit trail
// is disabled; history and database health degrade accordingly.
func NewServer(sessions SessionSource, dbManager interfaces.DatabaseManager, registry Registry) *Server {
	s := &Server{
		sessions:  sessions,
		dbManager: dbManager,
		registry:  registry,
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessions))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/api/history", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHistory))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listSessions(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	idPart := strings.Split(path, "/")[0]
	if idPart == "" {
		s.sendError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getSession(w, types.SessionID(id))
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type SessionResponse struct {
	Session         *types.Session `json:"session"`
	ConnectionCount int            `json:"connection_count"`
}

type ListSessionsResponse struct {
	Sessions []SessionWithConnections `json:"sessions"`
}

type SessionWithConnections struct {
	*types.Session
	ConnectionCount int `json:"connection_count"`
}

type HistoryResponse struct {
	Sessions []*types.SessionRecord `json:"sessions"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Sessions    map[string]int `json:"sessions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// listSessions returns every live session with its current connection count.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.ListSessions()

	withConns := make([]SessionWithConnections, len(sessions))
	for i, session := range sessions {
		withConns[i] = SessionWithConnections{
			Session:         session,
			ConnectionCount: len(s.registry.SessionConnections(session.ID)),
		}
	}

	_ = json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: withConns})
}

func (s *Server) getSession(w http.ResponseWriter, sessionID types.SessionID) {
	session, err := s.sessions.Session(sessionID)
	if err != nil {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}

	_ = json.NewEncoder(w).Encode(SessionResponse{
		Session:         session,
		ConnectionCount: len(s.registry.SessionConnections(sessionID)),
	})
}

// handleHistory returns recent audit rows, live and ended, from the database.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.dbManager == nil {
		s.sendError(w, "History is disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	records, err := s.dbManager.ListRecentSessions(r.Context(), limit)
	if err != nil {
		s.sendError(w, "Failed to list session history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*types.SessionRecord{}
	}

	_ = json.NewEncoder(w).Encode(HistoryResponse{Sessions: records})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if s.dbManager == nil {
		dbStatus = "disabled"
	} else if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
		Sessions:    s.sessions.GetStats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
