package httpapi

import (
	"net/http"

	"sortctl/core"
)

// Server wires the orchestrator to the control-plane HTTP surface.
type Server struct {
	orch        *core.Orchestrator
	authEnabled bool
	username    string
	password    string
	hub         *wsHub
}

// Config carries the credentials and auth toggle read from the
// environment at startup.
type Config struct {
	AuthEnabled bool
	Username    string
	Password    string
}

// NewServer builds a Server bound to orch.
func NewServer(orch *core.Orchestrator, cfg Config) *Server {
	return &Server{
		orch:        orch,
		authEnabled: cfg.AuthEnabled,
		username:    cfg.Username,
		password:    cfg.Password,
		hub:         newWSHub(orch),
	}
}

// Routes returns the full control-plane mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /config", s.requireAuth(s.handleGetConfig))
	mux.HandleFunc("POST /update_config", s.requireAuth(s.handleUpdateConfig))
	mux.HandleFunc("GET /api/sort_log", s.requireAuth(s.handleSortLog))
	mux.HandleFunc("POST /api/reset_maintenance", s.requireAuth(s.handleResetMaintenance))
	mux.HandleFunc("POST /api/queue/reset", s.requireAuth(s.handleQueueReset))
	mux.HandleFunc("POST /api/mock_gpio", s.requireAuth(s.handleMockGPIO))
	mux.HandleFunc("GET /ws", s.requireAuth(s.hub.serveWS))
	return mux
}
