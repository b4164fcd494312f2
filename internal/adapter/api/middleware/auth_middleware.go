package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"bidchat/internal/domain/entity"
	"bidchat/pkg/errors"
	"bidchat/pkg/response"
)

// AuthMiddleware admits only callers holding the session's own token. The bridge acts
// for exactly one user, so there is nothing to look up.
type AuthMiddleware struct {
	session *entity.Session
}

func NewAuthMiddleware(session *entity.Session) *AuthMiddleware {
	return &AuthMiddleware{
		session: session,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			// Browsers can't set headers on websocket upgrades.
			token = c.QueryParam("token")
		}
		if token == "" {
			return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.session.Token)) != 1 {
			return response.Error(c, errors.Unauthorized("Invalid or expired token", nil))
		}

		c.Set("uid", m.session.User.ID)
		return next(c)
	}
}

func bearerToken(c echo.Context) string {
	parts := strings.SplitN(c.Request().Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
