package lending

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// IdentityFinder is the store the provider reads from
type IdentityFinder interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
}

// IdentityProvider resolves and verifies identities
type IdentityProvider struct {
	store  IdentityFinder
	hasher PasswordHasher
	logger Logger
}

func NewIdentityProvider(store IdentityFinder, hasher PasswordHasher, logger Logger) *IdentityProvider {
	if hasher == nil {
		hasher = BcryptHasher{Cost: DefaultPasswordCost}
	}
	return &IdentityProvider{
		store:  store,
		hasher: hasher,
		logger: resolveLogger("lending.identity_provider", logger),
	}
}

// VerifyIdentity will find the identity by email and compare the password
func (p *IdentityProvider) VerifyIdentity(ctx context.Context, email, password string) (*Identity, error) {
	identity, err := p.store.GetByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, withMessage(ErrIdentityNotFound, "User not found. Please check your email.")
		}
		return nil, err
	}

	if err := p.hasher.ComparePasswordAndHash(password, identity.PasswordHash); err != nil {
		if goerrors.Is(err, ErrInvalidCredentials) {
			p.logger.Debug("password mismatch", "identity_id", identity.ID)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !identity.Role.IsValid() {
		p.logger.Error("identity has an unknown role", "identity_id", identity.ID, "role", identity.Role)
		return nil, internalError(ErrInvalidRole, "identity has an unknown role")
	}

	return identity, nil
}

// FindIdentity loads the identity a session points at
func (p *IdentityProvider) FindIdentity(ctx context.Context, session Session) (*Identity, error) {
	if session == nil {
		return nil, ErrUnauthenticated
	}
	return p.store.GetByID(ctx, session.GetIdentityID())
}
