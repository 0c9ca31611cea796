package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/vigil/pkg/llm"
	"github.com/codeready-toolchain/vigil/pkg/session"
	"github.com/codeready-toolchain/vigil/pkg/version"
)

type queryRequest struct {
	// Prompt is the question; "query" is accepted as an alias.
	Prompt string `json:"prompt"`
	Query  string `json:"query"`
	// Cluster optionally scopes the question; it is checked against the
	// allow-list before any LLM call.
	Cluster string `json:"cluster"`
}

func (r queryRequest) text() string {
	if r.Prompt != "" {
		return r.Prompt
	}
	return r.Query
}

type queryMetadata struct {
	ToolsInvoked []string `json:"tools_invoked"`
	TokensUsed   int      `json:"tokens_used"`
	DurationMS   int64    `json:"duration_ms"`
	Truncated    bool     `json:"truncated,omitempty"`
}

type queryResponse struct {
	Response  string        `json:"response"`
	SessionID string        `json:"session_id,omitempty"`
	Metadata  queryMetadata `json:"metadata"`
}

// handleQuery answers a one-shot question against a throwaway session.
func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.text() == "" {
		writeError(c, http.StatusBadRequest, "Validation", "prompt is required", false)
		return
	}
	if !s.admitCluster(c, req.Cluster) {
		return
	}

	identity, _ := identityOf(c)
	sess := session.New(identity, s.deps.SystemPrompt)
	s.runAdvance(c, sess, req.text(), "")
}

func (s *Server) handleSessionCreate(c *gin.Context) {
	identity, authed := identityOf(c)
	owner := ""
	if authed && !s.auth.devMode() {
		owner = identity
	}
	sess := s.deps.Store.Create(owner, s.deps.SystemPrompt)
	s.logger.Info("Session created", "session_id", sess.ID)
	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"created_at": sess.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSessionQuery(c *gin.Context) {
	sess, ok := s.bindSession(c)
	if !ok {
		return
	}

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.text() == "" {
		writeError(c, http.StatusBadRequest, "Validation", "prompt is required", false)
		return
	}
	if !s.admitCluster(c, req.Cluster) {
		return
	}
	s.runAdvance(c, sess, req.text(), sess.ID)
}

func (s *Server) handleSessionGet(c *gin.Context) {
	sess, ok := s.bindSession(c)
	if !ok {
		return
	}

	sess.Lock()
	messages := sess.Snapshot()
	tokens := sess.TokenEstimate()
	sess.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"session_id":     sess.ID,
		"created_at":     sess.CreatedAt.UTC().Format(time.RFC3339),
		"token_estimate": tokens,
		"messages":       messages,
	})
}

func (s *Server) handleSessionDelete(c *gin.Context) {
	sess, ok := s.bindSession(c)
	if !ok {
		return
	}
	if err := s.deps.Store.Delete(sess.ID); err != nil {
		writeError(c, http.StatusNotFound, "NotFound", "session not found", false)
		return
	}
	s.logger.Info("Session deleted", "session_id", sess.ID)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSessionStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Store.Stats())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        version.Full(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleDocs serves the endpoint table and the registered tool schemas.
func (s *Server) handleDocs(c *gin.Context) {
	descriptors := s.deps.Catalog.Descriptors()
	toolDocs := make([]gin.H, 0, len(descriptors))
	for _, d := range descriptors {
		toolDocs = append(toolDocs, gin.H{
			"name":          d.Name,
			"description":   d.Description,
			"category":      d.Category,
			"target_system": d.TargetSystem,
			"input_schema":  d.InputSchema.JSONSchema(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"endpoints": []gin.H{
			{"method": "POST", "path": "/api/v1/query", "auth": "optional"},
			{"method": "POST", "path": "/api/v1/sessions", "auth": "optional"},
			{"method": "POST", "path": "/api/v1/sessions/:id/query", "auth": "required"},
			{"method": "GET", "path": "/api/v1/sessions/:id", "auth": "required"},
			{"method": "DELETE", "path": "/api/v1/sessions/:id", "auth": "required"},
			{"method": "GET", "path": "/api/v1/sessions/stats", "auth": "required"},
			{"method": "GET", "path": "/health", "auth": "none"},
			{"method": "GET", "path": "/api/v1/docs", "auth": "none"},
		},
		"tools": toolDocs,
	})
}

// admitCluster rejects requests naming a cluster outside the allow-list
// before the LLM is involved. An empty cluster means the target cluster.
func (s *Server) admitCluster(c *gin.Context, cluster string) bool {
	if cluster == "" {
		return true
	}
	if err := s.deps.Guard.Require(cluster); err != nil {
		writeError(c, http.StatusForbidden, "Forbidden", err.Error(), false)
		return false
	}
	return true
}

// bindSession resolves :id and enforces session ownership.
func (s *Server) bindSession(c *gin.Context) (*session.Session, bool) {
	sess, err := s.deps.Store.Get(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, "NotFound", "session not found", false)
		return nil, false
	}
	identity, _ := identityOf(c)
	if sess.Owner != "" && sess.Owner != identity {
		writeError(c, http.StatusForbidden, "Forbidden", "session belongs to another identity", false)
		return nil, false
	}
	return sess, true
}

// runAdvance drives the LLM loop and renders the outcome. sessionID is
// empty for one-shot queries.
func (s *Server) runAdvance(c *gin.Context, sess *session.Session, input, sessionID string) {
	start := time.Now()
	outcome, err := s.deps.Driver.Advance(c.Request.Context(), sess, input, llm.Params{
		Model: s.deps.Model,
		Tools: s.deps.Catalog.Descriptors(),
		Budget: llm.Budget{
			MaxToolCalls:     s.deps.MaxToolCalls,
			MaxSessionTokens: s.deps.SessionMaxTokens,
			Deadline:         s.deps.QueryDeadline,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(c, http.StatusGatewayTimeout, "Timeout", "query deadline exceeded", true)
			return
		}
		s.logger.Error("Query failed", "session_id", sessionID, "error", err)
		writeToolError(c, err)
		return
	}

	// A deadline stop with nothing to say is a timeout, not an answer.
	if outcome.StopReason == "deadline" && outcome.Text == "" {
		writeError(c, http.StatusGatewayTimeout, "Timeout", "query deadline exceeded", true)
		return
	}

	c.JSON(http.StatusOK, queryResponse{
		Response:  outcome.Text,
		SessionID: sessionID,
		Metadata: queryMetadata{
			ToolsInvoked: outcome.ToolsInvoked,
			TokensUsed:   outcome.TokensUsed,
			DurationMS:   time.Since(start).Milliseconds(),
			Truncated:    outcome.TruncatedByDeadline,
		},
	})
}
