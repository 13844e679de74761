package usecase

import (
	"context"
	"strings"
)

// IdentityResolver validates a bearer credential against the hosted auth
// provider and returns the stable user identifier it belongs to.
type IdentityResolver interface {
	ResolveUser(ctx context.Context, accessToken string) (string, error)
}

// resolveIdentity is the authentication half of the request gate, shared by
// every operation. A missing or rejected credential is always Unauthorized;
// the resolver is the only side effect before validation.
func resolveIdentity(ctx context.Context, resolver IdentityResolver, accessToken string) (string, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return "", newError(ErrorUnauthorized, "missing_bearer_token", nil)
	}
	userID, err := resolver.ResolveUser(ctx, token)
	if err != nil {
		return "", newError(ErrorUnauthorized, "invalid_credential", err)
	}
	return userID, nil
}
