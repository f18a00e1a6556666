package transport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/nightloom/chatcore/internal/chat"
	"github.com/nightloom/chatcore/internal/config"
	"github.com/nightloom/chatcore/internal/contextmgr"
	"github.com/nightloom/chatcore/internal/ratelimit"
	"github.com/nightloom/chatcore/internal/safety"
	"github.com/nightloom/chatcore/internal/storage"
)

// Server bundles the gin.Engine with every collaborator its handlers
// need, mirroring the teacher's habit of threading dependencies through
// a single struct rather than globals.
type Server struct {
	engine       *gin.Engine
	orchestrator *chat.Orchestrator
	sessions     *storage.SessionStore
	messages     *storage.MessageStore
	context      *contextmgr.Manager
	gate         *safety.Gate
	limiter      *ratelimit.Limiter
	cfg          *config.Config
	logger       *slog.Logger
}

// New wires the transport surface of spec.md §6 onto the given
// collaborators and returns a ready-to-run gin.Engine.
func New(
	orchestrator *chat.Orchestrator,
	sessions *storage.SessionStore,
	messages *storage.MessageStore,
	contextMgr *contextmgr.Manager,
	gate *safety.Gate,
	limiter *ratelimit.Limiter,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orchestrator: orchestrator,
		sessions:     sessions,
		messages:     messages,
		context:      contextMgr,
		gate:         gate,
		limiter:      limiter,
		cfg:          cfg,
		logger:       logger,
	}
	s.engine = s.buildEngine()
	return s
}

// Engine exposes the underlying gin.Engine, e.g. for http.Server.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORS())
	r.Use(RateLimitHeaders(s.limiter, s.cfg))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	chatGroup := r.Group("/chat")
	chatGroup.Use(AuthMiddleware(s.cfg.AuthSecret))
	{
		chatGroup.POST("/session", s.handleCreateSession)
		chatGroup.POST("/message", s.handleMessage)
		chatGroup.POST("/message/simple", s.handleSimpleMessage)
		chatGroup.GET("/sessions", s.handleListSessions)
		chatGroup.GET("/sessions/:sid/messages", s.handleSessionMessages)
		chatGroup.DELETE("/sessions/:sid/context", s.handleClearContext)
		chatGroup.POST("/sessions/:sid/summarize", s.handleSummarize)
		chatGroup.GET("/sessions/:sid/export", s.handleExport)
		chatGroup.GET("/sessions/:sid/stats", s.handleStats)
	}

	r.GET("/ws/chat", s.handleWebSocket)

	return r
}
