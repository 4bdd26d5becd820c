// Package api provides the HTTP and WebSocket front for the ingestion and
// chat orchestrators.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nooble8/ragcore/pkg/chat"
	"github.com/nooble8/ragcore/pkg/config"
	"github.com/nooble8/ragcore/pkg/database"
	"github.com/nooble8/ragcore/pkg/ingestion"
	"github.com/nooble8/ragcore/pkg/progress"
	"github.com/nooble8/ragcore/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	dbClient   *database.Client
	ingest     *ingestion.Service
	chat       *chat.Service
	progress   *progress.Manager
	verifier   Verifier
}

// NewServer creates the API server and registers its routes.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	ingest *ingestion.Service,
	chatService *chat.Service,
	prog *progress.Manager,
	verifier Verifier,
) *Server {
	s := &Server{
		router:   gin.New(),
		cfg:      cfg,
		dbClient: dbClient,
		ingest:   ingest,
		chat:     chatService,
		progress: prog,
		verifier: verifier,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())

	s.router.GET("/health", s.healthHandler)

	authed := s.router.Group("/", authMiddleware(s.verifier))
	authed.POST("/ingest", s.ingestHandler)
	authed.POST("/batch-ingest", s.batchIngestHandler)
	authed.POST("/upload", s.uploadHandler)
	authed.DELETE("/document/:id", s.deleteDocumentHandler)
	authed.PUT("/document/:id/agents", s.updateAgentsHandler)
	authed.GET("/status/:task_id", s.statusHandler)

	// WebSocket endpoints authenticate during the upgrade request.
	authed.GET("/ws/ingestion/:task_id", s.ingestionWSHandler)
	authed.GET("/ws/chat/:session_id", s.chatWSHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener. Used by tests to bind a
// random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := gin.H{
		"status":  "healthy",
		"service": s.cfg.ServiceName,
		"version": version.Full(),
	}
	if s.progress != nil {
		response["websocket_connections"] = s.progress.ActiveConnections()
	}

	if s.dbClient != nil {
		dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
		response["database"] = dbHealth
		if err != nil {
			response["status"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}

	c.JSON(http.StatusOK, response)
}
