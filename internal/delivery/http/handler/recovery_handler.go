package handler

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/accountguard"
	"github.com/MrEthical07/accountguard/internal/delivery/http/response"
	"github.com/MrEthical07/accountguard/password"
)

// RequestResetInput is the body of POST /auth/password/request.
type RequestResetInput struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

// CompleteResetInput is the body of POST /auth/password/reset.
type CompleteResetInput struct {
	Token       string `json:"token" validate:"required,max=512"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// RecoveryHandler serves the public credential recovery endpoints.
type RecoveryHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewRecoveryHandler is the constructor for RecoveryHandler, injected by fx.
func NewRecoveryHandler(engine Engine, logger *slog.Logger) *RecoveryHandler {
	return &RecoveryHandler{engine: engine, logger: logger}
}

// RequestReset answers 202 with the generic message for every well-formed
// request, including unknown addresses and rate-limited callers.
func (h *RecoveryHandler) RequestReset(c echo.Context) error {
	var input RequestResetInput
	if err := c.Bind(&input); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "A valid email is required")
	}

	req := c.Request()
	accepted, err := h.engine.RequestReset(req.Context(), input.Email, c.RealIP(), req.UserAgent())
	if err != nil {
		h.logger.Error("password reset request failed", slog.String("error", err.Error()))
		return response.ServiceUnavailable(c, "SERVICE_UNAVAILABLE", "Please try again later")
	}

	return response.Success(c, http.StatusAccepted, nil, accepted.Message)
}

// CompleteReset redeems a token and sets the new password.
func (h *RecoveryHandler) CompleteReset(c echo.Context) error {
	var input CompleteResetInput
	if err := c.Bind(&input); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "token and newPassword are required")
	}

	req := c.Request()
	err := h.engine.CompleteReset(req.Context(), input.Token, input.NewPassword, c.RealIP(), req.UserAgent())
	switch {
	case err == nil:
		return response.Success(c, http.StatusOK, nil, "Password has been reset")
	case errors.Is(err, accountguard.ErrInvalidToken):
		return response.BadRequest(c, "INVALID_TOKEN", accountguard.ErrInvalidToken.Error())
	case errors.Is(err, accountguard.ErrWeakCredential):
		return response.Error(c, http.StatusBadRequest, "WEAK_PASSWORD", "Password does not meet the strength policy", weakReasons(err))
	case errors.Is(err, accountguard.ErrRateLimited):
		if retry, ok := accountguard.RetryAfter(err); ok {
			setRetryAfter(c, retry)
		}
		return response.TooManyRequests(c, "RATE_LIMITED", "Too many attempts, please try again later")
	case errors.Is(err, accountguard.ErrSessionInvalidationFailed):
		// the password was changed; other sessions could not be revoked
		h.logger.Error("session invalidation failed after password reset")
		return response.Success(c, http.StatusOK, nil, "Password has been reset")
	default:
		h.logger.Error("password reset failed", slog.String("error", err.Error()))
		return response.ServiceUnavailable(c, "SERVICE_UNAVAILABLE", "Please try again later")
	}
}

func weakReasons(err error) string {
	var weak *password.WeakCredentialError
	if errors.As(err, &weak) {
		return strings.Join(weak.Reasons, ",")
	}
	return ""
}

func setRetryAfter(c echo.Context, retry time.Duration) {
	if retry <= 0 {
		return
	}
	c.Response().Header().Set("Retry-After", strconv.FormatInt(retrySeconds(retry), 10))
}

func retrySeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
