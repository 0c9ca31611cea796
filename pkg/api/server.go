// Package api is the HTTP surface: one-shot queries, multi-turn sessions,
// and operational endpoints, all JSON over gin.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/vigil/pkg/guard"
	"github.com/codeready-toolchain/vigil/pkg/llm"
	"github.com/codeready-toolchain/vigil/pkg/ratelimit"
	"github.com/codeready-toolchain/vigil/pkg/session"
	"github.com/codeready-toolchain/vigil/pkg/tools"
)

// advancer is the LLM loop surface. Satisfied by llm.Driver.
type advancer interface {
	Advance(ctx context.Context, sess *session.Session, userInput string, p llm.Params) (*llm.Outcome, error)
}

// descriptorSource lists the registered tools. Satisfied by tools.Catalog.
type descriptorSource interface {
	Descriptors() []tools.Descriptor
}

// Deps bundles the server's collaborators and settings.
type Deps struct {
	Driver  advancer
	Store   *session.Store
	Catalog descriptorSource
	Guard   *guard.Guard

	// Keys is the API key list; empty means dev mode.
	Keys []string
	// RateOverrides replaces builtin per-minute limits by endpoint name.
	RateOverrides map[string]int

	Model            string
	QueryDeadline    time.Duration
	MaxToolCalls     int
	SessionMaxTokens int
	SystemPrompt     string
}

// Server wires the routes and owns the listener lifecycle.
type Server struct {
	deps      Deps
	auth      *authenticator
	limiter   *ratelimit.Limiter
	startedAt time.Time
	logger    *slog.Logger

	httpSrv *http.Server
}

func NewServer(deps Deps) *Server {
	return &Server{
		deps:      deps,
		auth:      newAuthenticator(deps.Keys),
		limiter:   ratelimit.NewLimiter(),
		startedAt: time.Now(),
		logger:    slog.Default().With("component", "api"),
	}
}

// Router builds the gin engine. Split from Start so tests can drive the
// routes with httptest.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders())

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/api/v1")
	v1.GET("/docs", s.handleDocs)

	v1.POST("/query",
		s.auth.middleware(false),
		rateLimit(s.limiter, "query", s.deps.RateOverrides),
		s.handleQuery)

	sessions := v1.Group("/sessions")
	sessions.POST("",
		s.auth.middleware(false),
		rateLimit(s.limiter, "session.create", s.deps.RateOverrides),
		s.handleSessionCreate)
	sessions.GET("/stats", s.auth.middleware(true), s.handleSessionStats)
	sessions.POST("/:id/query",
		s.auth.middleware(true),
		rateLimit(s.limiter, "session.query", s.deps.RateOverrides),
		s.handleSessionQuery)
	sessions.GET("/:id",
		s.auth.middleware(true),
		rateLimit(s.limiter, "session.get", s.deps.RateOverrides),
		s.handleSessionGet)
	sessions.DELETE("/:id", s.auth.middleware(true), s.handleSessionDelete)

	return r
}

// Start serves until the listener fails. Blocks; run it in a goroutine.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr, "dev_mode", s.auth.devMode())
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
