package lending

import (
	"context"
)

// Authenticator holds methods to deal with authentication
type Authenticator struct {
	provider *IdentityProvider
	tokens   *TokenService
	logger   Logger
}

func NewAuthenticator(provider *IdentityProvider, tokens *TokenService, logger Logger) *Authenticator {
	return &Authenticator{
		provider: provider,
		tokens:   tokens,
		logger:   resolveLogger("lending.authenticator", logger),
	}
}

// Login verifies the credentials and issues a session token
func (a *Authenticator) Login(ctx context.Context, email, password string) (string, *Identity, error) {
	identity, err := a.provider.VerifyIdentity(ctx, email, password)
	if err != nil {
		a.logger.Debug("login rejected", "error", err)
		return "", nil, err
	}

	token, err := a.tokens.Issue(identity.ID, identity.Role)
	if err != nil {
		a.logger.Error("login failed to issue token", "identity_id", identity.ID, "error", err)
		return "", nil, err
	}

	a.logger.Info("login", "identity_id", identity.ID, "role", identity.Role)
	return token, identity, nil
}

// SessionFromToken verifies a raw token
func (a *Authenticator) SessionFromToken(raw string) (*Claims, error) {
	claims, err := a.tokens.Verify(raw)
	if err != nil {
		a.logger.Debug("session token rejected", "error", err)
		return nil, err
	}
	return claims, nil
}

// IdentityFromSession loads the identity behind a verified session
func (a *Authenticator) IdentityFromSession(ctx context.Context, session Session) (*Identity, error) {
	identity, err := a.provider.FindIdentity(ctx, session)
	if err != nil {
		a.logger.Debug("identity from session", "error", err)
		return nil, err
	}
	return identity, nil
}
