package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
	"bidchat/pkg/errors"
	"bidchat/pkg/logger"
)

const roleClaim = "role"

type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseSessionResolver verifies Firebase ID tokens. The marketplace role is a custom claim.
type FirebaseSessionResolver struct {
	client tokenVerifier
}

func NewFirebaseSessionResolver(client *auth.Client) repository.SessionResolver {
	return &FirebaseSessionResolver{
		client: client,
	}
}

func (f *FirebaseSessionResolver) Resolve(ctx context.Context, token string) (*entity.Session, error) {
	if token == "" {
		return nil, errors.Unauthorized("Session token is required", nil)
	}

	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, errors.Unauthorized("Invalid session token", err)
	}

	claim, _ := result.Claims[roleClaim].(string)
	role, ok := entity.ParseRole(claim)
	if !ok {
		return nil, errors.Forbidden("Token has no marketplace role", nil)
	}

	logger.Info("Firebase: session resolved for %s (%s)", result.UID, role)
	return &entity.Session{
		Token: token,
		User:  entity.User{ID: result.UID, Role: role},
	}, nil
}
