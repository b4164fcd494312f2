package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
	"bidchat/pkg/errors"
)

// JWTSessionResolver reads the user from the claims of the marketplace access token.
// The signature is not checked here: the marketplace API verifies the same token on
// every call, so a forged token gets nothing from the server.
type JWTSessionResolver struct {
	parser *jwt.Parser
	now    func() time.Time
}

func NewJWTSessionResolver() repository.SessionResolver {
	return &JWTSessionResolver{
		parser: jwt.NewParser(),
		now:    time.Now,
	}
}

func (r *JWTSessionResolver) Resolve(ctx context.Context, token string) (*entity.Session, error) {
	if token == "" {
		return nil, errors.Unauthorized("Session token is required", nil)
	}

	claims := jwt.MapClaims{}
	if _, _, err := r.parser.ParseUnverified(token, claims); err != nil {
		return nil, errors.Unauthorized("Malformed session token", err)
	}
	if !claims.VerifyExpiresAt(r.now().Unix(), false) {
		return nil, errors.Unauthorized("Session token expired", nil)
	}

	userID := stringClaim(claims, "sub")
	if userID == "" {
		userID = stringClaim(claims, "uid")
	}
	if userID == "" {
		return nil, errors.Unauthorized("Session token has no subject", nil)
	}

	role, ok := entity.ParseRole(stringClaim(claims, "role"))
	if !ok {
		return nil, errors.Forbidden("Session token has no marketplace role", nil)
	}

	return &entity.Session{
		Token: token,
		User:  entity.User{ID: userID, Role: role},
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
