package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/accountguard"
	"github.com/MrEthical07/accountguard/internal/delivery/http/response"
)

// LoginAttemptInput is the body of POST /internal/login-attempts.
type LoginAttemptInput struct {
	AccountID string `json:"accountId" validate:"required,max=128"`
	Success   *bool  `json:"success" validate:"required"`
	IP        string `json:"ip" validate:"omitempty,ip"`
	UserAgent string `json:"userAgent" validate:"max=512"`
}

// AccessOutput is the body of GET /internal/accounts/:id/access.
type AccessOutput struct {
	Allowed           bool  `json:"allowed"`
	RetryAfterSeconds int64 `json:"retryAfterSeconds,omitempty"`
}

// LockoutHandler serves the internal lockout endpoints used by the login
// service and operators.
type LockoutHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewLockoutHandler is the constructor for LockoutHandler, injected by fx.
func NewLockoutHandler(engine Engine, logger *slog.Logger) *LockoutHandler {
	return &LockoutHandler{engine: engine, logger: logger}
}

// RecordLoginAttempt feeds one authentication outcome into the lockout policy.
func (h *LockoutHandler) RecordLoginAttempt(c echo.Context) error {
	var input LoginAttemptInput
	if err := c.Bind(&input); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "accountId and success are required")
	}

	ip := input.IP
	if ip == "" {
		ip = c.RealIP()
	}
	status, err := h.engine.RecordLoginAttempt(c.Request().Context(), accountguard.LoginAttempt{
		AccountID: input.AccountID,
		Success:   *input.Success,
		IP:        ip,
		UserAgent: input.UserAgent,
	})
	if err != nil {
		return h.lockoutError(c, err)
	}
	if status.Locked() {
		setRetryAfter(c, status.RetryAfter)
	}
	return response.Success(c, http.StatusOK, status, "")
}

// CheckAccess reports whether the account may authenticate now.
func (h *LockoutHandler) CheckAccess(c echo.Context) error {
	decision, err := h.engine.CheckAccess(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.lockoutError(c, err)
	}
	out := AccessOutput{Allowed: decision.Allowed, RetryAfterSeconds: retrySeconds(decision.RetryAfter)}
	if !decision.Allowed {
		setRetryAfter(c, decision.RetryAfter)
	}
	return response.Success(c, http.StatusOK, out, "")
}

// LockoutStatus returns the stored lockout state of the account.
func (h *LockoutHandler) LockoutStatus(c echo.Context) error {
	status, err := h.engine.LockoutStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.lockoutError(c, err)
	}
	return response.Success(c, http.StatusOK, status, "")
}

// Unlock clears the lock on behalf of the operator named by X-Actor.
func (h *LockoutHandler) Unlock(c echo.Context) error {
	ctx := c.Request().Context()
	actor := accountguard.ActorFromContext(ctx)
	if actor == "" {
		return response.BadRequest(c, "ACTOR_REQUIRED", "X-Actor header is required")
	}

	if err := h.engine.Unlock(ctx, c.Param("id"), actor); err != nil {
		return h.lockoutError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *LockoutHandler) lockoutError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, accountguard.ErrInvalidInput):
		return response.BadRequest(c, "INVALID_INPUT", "account id is required")
	case errors.Is(err, accountguard.ErrAccountNotFound):
		return response.NotFound(c, "ACCOUNT_NOT_FOUND", "account not found")
	default:
		h.logger.Error("lockout operation failed", slog.String("error", err.Error()))
		return response.ServiceUnavailable(c, "SERVICE_UNAVAILABLE", "Please try again later")
	}
}
