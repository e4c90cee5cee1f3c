// Package http serves the recovery and lockout API over echo.
package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/fx"

	"github.com/MrEthical07/accountguard/config"
	"github.com/MrEthical07/accountguard/internal/delivery/http/middleware"
	"github.com/MrEthical07/accountguard/internal/delivery/http/validator"
)

const shutdownTimeout = 10 * time.Second

// HTTPParams are the server dependencies, injected by fx.
type HTTPParams struct {
	fx.In
	fx.Lifecycle

	Config       *config.Config
	Logger       *slog.Logger
	RouterParams RouterParams
}

// Server wraps the echo instance with lifecycle handling.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	echo   *echo.Echo
}

// NewEcho builds the echo instance with middleware and routes but without
// lifecycle hooks.
func NewEcho(logger *slog.Logger, params RouterParams) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validator.New()
	e.Use(echomiddleware.Recover())
	e.Use(middleware.RequestID)
	e.Use(echomiddleware.BodyLimit("16K"))
	e.Use(requestLogger(logger))

	RegisterRoutes(e, params)
	return e
}

// NewServer builds the server and registers its shutdown hook.
func NewServer(params HTTPParams) *Server {
	s := &Server{
		cfg:    params.Config,
		logger: params.Logger,
		echo:   NewEcho(params.Logger, params.RouterParams),
	}

	t := params.Config.HTTP.Timeouts
	s.echo.Server.ReadTimeout = t.ReadTimeout
	s.echo.Server.ReadHeaderTimeout = t.ReadHeaderTimeout
	s.echo.Server.WriteTimeout = t.WriteTimeout
	s.echo.Server.IdleTimeout = t.IdleTimeout

	params.Append(fx.Hook{OnStop: s.stop})
	return s
}

// Serve blocks until the server stops.
func (s *Server) Serve(context.Context) error {
	hostPort := net.JoinHostPort("0.0.0.0", strconv.Itoa(s.cfg.HTTP.Port))
	s.logger.Info("Starting HTTP server", slog.String("hostPort", hostPort))
	if err := s.echo.Start(hostPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to serve http")
	}
	return nil
}

func (s *Server) stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return errors.WithStack(s.echo.Shutdown(shutdownCtx))
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURIPath:  true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request",
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", c.Response().Header().Get(middleware.HeaderXRequestID)),
			)
			return nil
		},
	})
}
