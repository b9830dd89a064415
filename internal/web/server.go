// Package web serves the JSON API the board front-end talks to.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// SessionHeader carries the session ID on every authenticated request.
const SessionHeader = "X-Session-ID"

const sessionKey = "duegate.session"

// SessionProvider creates, lists and opens client sessions.
type SessionProvider interface {
	Create(user string) (*models.SessionRecord, error)
	List() ([]models.SessionRecord, error)
	Open(id string) (core.Session, error)
}

// AccountReader looks up user accounts.
type AccountReader interface {
	GetUser(ctx context.Context, username string) (*models.UserAccount, error)
}

// Options holds the server's collaborators.
type Options struct {
	Lifecycle *core.Lifecycle
	Tasks     core.TaskManager
	Accounts  AccountReader
	Sessions  SessionProvider
	Logger    zerolog.Logger
}

// Server is the duegate HTTP API.
type Server struct {
	lifecycle *core.Lifecycle
	tasks     core.TaskManager
	accounts  AccountReader
	sessions  SessionProvider
	log       zerolog.Logger
	router    *gin.Engine
}

// NewServer creates the server and registers its routes.
func NewServer(opts Options) *Server {
	router := gin.New()

	s := &Server{
		lifecycle: opts.Lifecycle,
		tasks:     opts.Tasks,
		accounts:  opts.Accounts,
		sessions:  opts.Sessions,
		log:       opts.Logger.With().Str("component", "web").Logger(),
		router:    router,
	}
	router.Use(gin.Recovery(), s.requestLogger())

	api := router.Group("/api")
	api.POST("/sessions", s.handleCreateSession)

	authed := api.Group("", s.requireSession())
	{
		authed.GET("/tasks", s.handleListTasks)
		authed.POST("/tasks", s.handleCreateTask)
		authed.GET("/tasks/:id", s.handleGetTask)
		authed.POST("/tasks/:id/move", s.handleMoveTask)
		authed.GET("/tasks/:id/can-move", s.handleCanMove)

		authed.GET("/overdue/summary", s.handleOverdueSummary)
		authed.GET("/overdue/due-today", s.handleDueToday)
		authed.POST("/overdue/process", s.handleProcessOverdue)

		authed.GET("/account", s.handleGetAccount)
		authed.POST("/account/self-unblock", s.handleSelfUnblock)
		authed.GET("/grace", s.handleGraceStatus)
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// requireSession resolves the X-Session-ID header into a core.Session.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(SessionHeader)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + SessionHeader + " header"})
			return
		}
		session, err := s.sessions.Open(id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown session"})
			return
		}
		c.Set(sessionKey, session)
		c.Next()
	}
}

func sessionFrom(c *gin.Context) core.Session {
	v, _ := c.Get(sessionKey)
	session, _ := v.(core.Session)
	return session
}

// ResumeGracePeriods registers every persisted session that still holds a
// grace period with the lifecycle and re-arms its expiry. Call it before
// serving so cascade runs in this process see grace periods opened by an
// earlier one.
func (s *Server) ResumeGracePeriods() error {
	records, err := s.sessions.List()
	if err != nil {
		return fmt.Errorf("resuming grace periods: %w", err)
	}
	for _, rec := range records {
		session, err := s.sessions.Open(rec.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", rec.ID).Msg("skipping unreadable session")
			continue
		}
		status, err := s.lifecycle.GraceStatus(session)
		if err != nil || status.State == core.GraceInactive {
			continue
		}
		if _, err := s.lifecycle.ResumeGracePeriod(session, s.expireGrace(session)); err != nil {
			s.log.Warn().Err(err).Str("session_id", rec.ID).Msg("resuming grace period")
			continue
		}
		s.log.Info().Str("user", session.User).Str("session_id", rec.ID).Str("state", string(status.State)).Msg("grace period resumed")
	}
	return nil
}

// expireGrace is scheduled when a web session self-unblocks.
func (s *Server) expireGrace(session core.Session) func() {
	return func() {
		ctx := context.Background()
		tasks, err := s.tasks.ListTasks(ctx, core.TaskFilter{})
		if err != nil {
			s.log.Error().Err(err).Str("user", session.User).Msg("listing tasks for grace expiry")
			return
		}
		if _, err := s.lifecycle.ExpireGracePeriod(ctx, session, tasks); err != nil {
			s.log.Error().Err(err).Str("user", session.User).Msg("expiring grace period")
		}
	}
}
