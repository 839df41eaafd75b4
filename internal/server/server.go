// Package server exposes the job manager over HTTP with a websocket progress stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ivlev/html2video/internal/config"
	"github.com/ivlev/html2video/internal/engine"
	"github.com/ivlev/html2video/internal/manifest"
)

// Message is one websocket frame: a progress event or the terminal snapshot.
type Message struct {
	Type  string           `json:"type"` // progress, result
	Event *engine.Event    `json:"event,omitempty"`
	Job   *engine.Snapshot `json:"job,omitempty"`
}

type Server struct {
	manager  *engine.Manager
	cfg      *config.Config
	log      *logrus.Entry
	echo     *echo.Echo
	upgrader websocket.Upgrader
}

func New(m *engine.Manager, cfg *config.Config, log *logrus.Entry) *Server {
	s := &Server{
		manager: m,
		cfg:     cfg,
		log:     log.WithField("component", "server"),
		upgrader: websocket.Upgrader{
			// Локальный API без браузерных клиентов с других origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.requestLogger)

	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/api/jobs", s.listJobs)
	e.POST("/api/jobs", s.createJob)
	e.GET("/api/jobs/:id", s.getJob)
	e.DELETE("/api/jobs/:id", s.cancelJob)
	e.GET("/api/jobs/:id/events", s.jobEvents)
	s.echo = e
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.manager.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.log.WithFields(logrus.Fields{
			"method":   c.Request().Method,
			"path":     c.Path(),
			"status":   c.Response().Status,
			"duration": time.Since(start).Round(time.Microsecond),
		}).Debug("request")
		return nil
	}
}

func (s *Server) createJob(c echo.Context) error {
	var m manifest.Manifest
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid manifest: "+err.Error())
	}
	job, err := engine.NewJob(&m, s.cfg)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h := s.manager.Submit(job)
	return c.JSON(http.StatusAccepted, map[string]string{"id": h.ID})
}

func (s *Server) listJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.List())
}

func (s *Server) getJob(c echo.Context) error {
	h, ok := s.manager.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, h.Status())
}

func (s *Server) cancelJob(c echo.Context) error {
	id := c.Param("id")
	if !s.manager.Cancel(id) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func (s *Server) jobEvents(c echo.Context) error {
	h, ok := s.manager.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	events, stop := h.Subscribe()
	defer stop()

	// Читаем только чтобы заметить закрытие со стороны клиента
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				snap := h.Status()
				if err := conn.WriteJSON(Message{Type: "result", Job: &snap}); err != nil {
					return nil
				}
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status)))
				return nil
			}
			if err := conn.WriteJSON(Message{Type: "progress", Event: &ev}); err != nil {
				s.log.WithError(err).Debug("websocket write failed")
				return nil
			}
		case <-gone:
			return nil
		}
	}
}
