package http

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/MrEthical07/accountguard/internal/delivery/http/handler"
	"github.com/MrEthical07/accountguard/internal/delivery/http/middleware"
)

// RouterParams holds the handlers registered on the echo instance.
type RouterParams struct {
	fx.In

	RecoveryHandler *handler.RecoveryHandler
	LockoutHandler  *handler.LockoutHandler
	InternalKey     *middleware.InternalKey
	Metrics         echo.HandlerFunc `name:"metrics" optional:"true"`
}

// RegisterRoutes mounts the public recovery API, the internal lockout API and
// the operational endpoints.
func RegisterRoutes(e *echo.Echo, params RouterParams) {
	e.GET("/health", handler.HealthCheck)
	if params.Metrics != nil {
		e.GET("/metrics", params.Metrics)
	}

	authGroup := e.Group("/auth/password")
	{
		authGroup.POST("/request", params.RecoveryHandler.RequestReset)
		authGroup.POST("/reset", params.RecoveryHandler.CompleteReset)
	}

	internalGroup := e.Group("/internal")
	internalGroup.Use(params.InternalKey.Authenticate)
	{
		internalGroup.POST("/login-attempts", params.LockoutHandler.RecordLoginAttempt)
		internalGroup.GET("/accounts/:id/access", params.LockoutHandler.CheckAccess)
		internalGroup.GET("/accounts/:id/lockout", params.LockoutHandler.LockoutStatus)
		internalGroup.POST("/accounts/:id/unlock", params.LockoutHandler.Unlock)
	}
}
