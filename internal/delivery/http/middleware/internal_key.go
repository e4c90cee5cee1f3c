package middleware

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/accountguard"
	"github.com/MrEthical07/accountguard/internal/delivery/http/response"
)

const (
	// HeaderInternalKey authenticates calls from the login service and operators.
	HeaderInternalKey = "X-Internal-Key"
	// HeaderActor names the operator behind an administrative call.
	HeaderActor = "X-Actor"
)

// InternalKey guards the internal routes with a shared secret.
type InternalKey struct {
	key []byte
}

// NewInternalKey creates the middleware. An empty key rejects every call.
func NewInternalKey(key string) *InternalKey {
	return &InternalKey{key: []byte(key)}
}

// Authenticate rejects requests without the shared key and records the
// X-Actor header as the operator identity.
func (m *InternalKey) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		got := []byte(c.Request().Header.Get(HeaderInternalKey))
		if len(m.key) == 0 || subtle.ConstantTimeCompare(got, m.key) != 1 {
			return response.Unauthorized(c, "UNAUTHORIZED", "missing or invalid internal key")
		}

		if actor := c.Request().Header.Get(HeaderActor); actor != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(accountguard.WithActor(req.Context(), actor)))
		}
		return next(c)
	}
}
