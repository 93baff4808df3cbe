// Package api is the thin HTTP ingress in front of the pipeline.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"emotrack-go/internal/alerts"
	"emotrack-go/internal/config"
	"emotrack-go/internal/logger"
	"emotrack-go/internal/metrics"
	"emotrack-go/internal/pipeline"
	"emotrack-go/internal/queue"
	"emotrack-go/internal/store"
	"emotrack-go/internal/types"
)

// Submitter accepts validated responses and reports task status.
type Submitter interface {
	Submit(ctx context.Context, s pipeline.Submission) (string, int64, error)
	TaskStatus(ctx context.Context, taskID string) (queue.Status, error)
}

// AudioValidator checks an uploaded artifact before it is queued.
type AudioValidator interface {
	Validate(path string, sizeBytes int64) (*types.AudioArtifact, error)
}

type Deps struct {
	Config   *config.Config
	Pipeline Submitter
	Audio    AudioValidator
	Store    store.UnitOfWork
	Engine   *alerts.Engine
	Sealer   *pipeline.Sealer
}

type Server struct {
	cfg      *config.Config
	pipeline Submitter
	audio    AudioValidator
	store    store.UnitOfWork
	engine   *alerts.Engine
	sealer   *pipeline.Sealer
	router   *gin.Engine
	log      *logger.Logger
}

func New(d Deps, log *logger.Logger) *Server {
	if d.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Sealer == nil {
		d.Sealer = pipeline.NewSealer(nil, log)
	}
	s := &Server{
		cfg:      d.Config,
		pipeline: d.Pipeline,
		audio:    d.Audio,
		store:    d.Store,
		engine:   d.Engine,
		sealer:   d.Sealer,
		log:      log.Component("http"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log))
	s.routes(router)
	s.router = router
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.POST("/responses", s.submitResponse)
	api.POST("/submit-responses", s.submitResponse)
	api.GET("/responses/:id", s.getResponse)
	api.GET("/response-status/:task_id", s.responseStatus)
	api.GET("/alerts", s.listAlerts)
	api.GET("/recommendations/:child_id", s.recommendations)

	cfg := api.Group("/config")
	cfg.GET("/alert-thresholds", s.getThresholds)
	cfg.PUT("/alert-thresholds", s.putThresholds)
	cfg.GET("/alert-severities", s.getSeverities)
	cfg.PUT("/alert-severities", s.putSeverities)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) health(c *gin.Context) {
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info("context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		entry := log.WithRequest(c.Request)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RecordHTTP(c.Request.Method, route, status)

		entry = entry.WithField("status", status).WithField("duration_ms", time.Since(start).Milliseconds())
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Warn("request failed")
			return
		}
		entry.Debug("request handled")
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: code, Message: message})
}
