// Package daemon exposes the running synchronization loop over a local HTTP
// control API.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"docsync/internal/engine"
	"docsync/internal/logger"
	"docsync/internal/model"
	"docsync/internal/notify"
	"docsync/internal/repository"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const defaultHistory = 20

// Controller is the part of the scheduler the API drives.
type Controller interface {
	Status() (model.SchedulerStatus, error)
	Pause()
	Resume()
	Stop()
	// Exclusive runs fn between two passes.
	Exclusive(ctx context.Context, fn func(context.Context) error) error
}

// Operator applies binding and root changes on behalf of the command line
// while the loop runs.
type Operator interface {
	SetToken(localFolder, token string) error
	Unbind(localFolder string) error
	BindRoot(ctx context.Context, localFolder, remoteRef string) (*model.RootBinding, error)
	UnbindRoot(ctx context.Context, localRoot string) error
	UpdateRoots(ctx context.Context, localFolder string) error
}

type Server struct {
	echo   *echo.Echo
	ctrl   Controller
	ops    Operator
	repos  *repository.Repositories
	events *notify.Recorder
	addr   string
}

func NewServer(ctrl Controller, ops Operator, repos *repository.Repositories, events *notify.Recorder, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		ctrl:   ctrl,
		ops:    ops,
		repos:  repos,
		events: events,
		addr:   net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/pause", s.handlePause)
	s.echo.POST("/resume", s.handleResume)
	s.echo.POST("/stop", s.handleStop)

	s.echo.GET("/history", s.handleHistory)
	s.echo.GET("/notices", s.handleNotices)
	s.echo.GET("/events", s.handleEvents)

	s.echo.PUT("/bindings/token", s.handleSetToken)
	s.echo.DELETE("/bindings", s.handleUnbind)
	s.echo.POST("/roots", s.handleBindRoot)
	s.echo.DELETE("/roots", s.handleUnbindRoot)
	s.echo.POST("/roots/refresh", s.handleRefreshRoots)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() {
	go func() {
		logger.Log.Info("daemon server started", zap.String("addr", s.addr))

		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("daemon server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleStatus(c echo.Context) error {
	status, err := s.ctrl.Status()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handlePause(c echo.Context) error {
	s.ctrl.Pause()
	return c.JSON(http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(c echo.Context) error {
	s.ctrl.Resume()
	return c.JSON(http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleStop(c echo.Context) error {
	s.ctrl.Stop()
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

func limit(c echo.Context) int {
	n := defaultHistory
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil && parsed > 0 {
			n = parsed
		}
	}
	return n
}

func (s *Server) handleHistory(c echo.Context) error {
	histories, err := s.repos.History.GetRecent(limit(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, histories)
}

func (s *Server) handleNotices(c echo.Context) error {
	notices, err := s.repos.Notices.GetRecent(limit(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, notices)
}

// handleEvents lists the in-memory events, optionally only one type.
func (s *Server) handleEvents(c echo.Context) error {
	events := s.events.Events()
	if t := c.QueryParam("type"); t != "" {
		events = s.events.OfType(notify.EventType(t))
	}
	if events == nil {
		events = []notify.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

type BindingRequest struct {
	LocalFolder string `json:"local_folder"`
	Token       string `json:"token,omitempty"`
	RemoteRef   string `json:"remote_ref,omitempty"`
}

// apply runs fn between passes.
func (s *Server) apply(c echo.Context, fn func(context.Context) error, ok any) error {
	return respond(c, s.ctrl.Exclusive(c.Request().Context(), fn), ok)
}

func respond(c echo.Context, err error, ok any) error {
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, ok)
	case errors.Is(err, engine.ErrNoBinding), errors.Is(err, engine.ErrNoRoot):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) handleSetToken(c echo.Context) error {
	var req BindingRequest
	if err := c.Bind(&req); err != nil || req.LocalFolder == "" || req.Token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "local_folder and token are required"})
	}

	return s.apply(c, func(context.Context) error {
		return s.ops.SetToken(req.LocalFolder, req.Token)
	}, map[string]string{"status": "updated"})
}

func (s *Server) handleUnbind(c echo.Context) error {
	folder := c.QueryParam("local_folder")
	if folder == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "local_folder is required"})
	}

	return s.apply(c, func(context.Context) error {
		return s.ops.Unbind(folder)
	}, map[string]string{"status": "unbound"})
}

func (s *Server) handleBindRoot(c echo.Context) error {
	var req BindingRequest
	if err := c.Bind(&req); err != nil || req.LocalFolder == "" || req.RemoteRef == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "local_folder and remote_ref are required"})
	}

	var root *model.RootBinding
	err := s.ctrl.Exclusive(c.Request().Context(), func(ctx context.Context) error {
		var err error
		root, err = s.ops.BindRoot(ctx, req.LocalFolder, req.RemoteRef)
		return err
	})
	return respond(c, err, root)
}

func (s *Server) handleUnbindRoot(c echo.Context) error {
	root := c.QueryParam("local_root")
	if root == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "local_root is required"})
	}

	return s.apply(c, func(ctx context.Context) error {
		return s.ops.UnbindRoot(ctx, root)
	}, map[string]string{"status": "removed"})
}

func (s *Server) handleRefreshRoots(c echo.Context) error {
	var req BindingRequest
	if err := c.Bind(&req); err != nil || req.LocalFolder == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "local_folder is required"})
	}

	return s.apply(c, func(ctx context.Context) error {
		return s.ops.UpdateRoots(ctx, req.LocalFolder)
	}, map[string]string{"status": "refreshed"})
}
