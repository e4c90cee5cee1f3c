package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/accountguard"
)

// HeaderXRequestID is the correlation header echoed on every response.
const HeaderXRequestID = "X-Request-Id"

// RequestID propagates or generates a request id and attaches it to the
// request context so audit events carry it.
func RequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(HeaderXRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		req := c.Request()
		c.SetRequest(req.WithContext(accountguard.WithRequestID(req.Context(), id)))
		c.Response().Header().Set(HeaderXRequestID, id)
		return next(c)
	}
}
