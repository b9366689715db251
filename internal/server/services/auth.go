package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/userdir/internal/logging"
	"github.com/dmitrijs2005/userdir/internal/server/auth"
)

// AuthService exchanges credentials for an access token.
type AuthService struct {
	verifier *auth.CredentialVerifier
	codec    *auth.TokenCodec
	log      logging.Logger
}

func NewAuthService(verifier *auth.CredentialVerifier, codec *auth.TokenCodec, log logging.Logger) *AuthService {
	return &AuthService{
		verifier: verifier,
		codec:    codec,
		log:      log.With("module", "auth"),
	}
}

// Login returns a token whose subject is the identity's canonical username.
// Unknown users and wrong passwords both yield common.ErrorUnauthorized.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	id, err := s.verifier.Authenticate(ctx, username, password)
	if err != nil {
		s.log.Warn(ctx, "login rejected", "username", username, "error", err)
		return "", err
	}

	token, err := s.codec.Issue(id.Subject())
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	s.log.Info(ctx, "login succeeded", "username", id.Subject())
	return token, nil
}
