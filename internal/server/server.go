package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammad-safakhou/issuesense/internal/dedupe"
	"github.com/mohammad-safakhou/issuesense/internal/queue"
	"github.com/mohammad-safakhou/issuesense/internal/runtime"
	"github.com/mohammad-safakhou/issuesense/models"
)

// Ingester stores webhook documents.
type Ingester interface {
	Ingest(ctx context.Context, doc models.Document) (models.Document, error)
	Delete(ctx context.Context, id string) error
}

// Deduper reacts to issue and comment events.
type Deduper interface {
	HandleIssueOpened(ctx context.Context, ev models.Event) (dedupe.Outcome, error)
	HandleIssueEdited(ctx context.Context, ev models.Event) (dedupe.Outcome, error)
	HandleCommentCreated(ctx context.Context, ev models.Event) error
}

// Drainer runs one queue processing pass.
type Drainer interface {
	ProcessQueue(ctx context.Context, maxPerRun int, now time.Time) (queue.Result, error)
}

type Options struct {
	WebhookSecret []byte
	BotLogin      string
	// JWTSecret guards /api; an empty secret leaves the API unmounted.
	JWTSecret      []byte
	RequestTimeout time.Duration
	MaxPerRun      int
	Registry       *prometheus.Registry
}

type Server struct {
	echo    *echo.Echo
	logger  *log.Logger
	ingest  Ingester
	dedupe  Deduper
	drainer Drainer
	opts    Options
	now     func() time.Time
}

func New(logger *log.Logger, ing Ingester, dd Deduper, dr Drainer, opts Options) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[SERVER] ", log.LstdFlags)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{logger: logger, ingest: ing, dedupe: dd, drainer: dr, opts: opts, now: time.Now}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if opts.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(runtime.MetricsHandler(opts.Registry)))
	}
	e.POST("/webhooks/github", s.webhook)

	if len(opts.JWTSecret) > 0 && dr != nil {
		api := e.Group("/api", runtime.EchoAuthMiddleware(opts.JWTSecret))
		api.POST("/queue/drain", s.drain, runtime.RequireScopes(runtime.ScopeQueueDrain))
	}
	s.echo = e
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", addr)
		errCh <- s.echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// handleError renders every error as {"error": msg} and logs it.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]any{"error": msg})
	}
}
