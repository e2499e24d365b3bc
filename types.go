package lending

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Logger is satisfied by *slog.Logger
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defLogger resolves slog.Default on every call so it follows
// whatever handler the process installs after construction
type defLogger struct {
	component string
}

func (d defLogger) logger() *slog.Logger {
	return slog.Default().With("component", d.component)
}

func (d defLogger) Debug(msg string, args ...any) { d.logger().Debug(msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.logger().Info(msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.logger().Warn(msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.logger().Error(msg, args...) }

func resolveLogger(component string, l Logger) Logger {
	if l == nil {
		return defLogger{component: component}
	}
	return l
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetAuthScheme() string
	GetContextKey() string
	GetTokenLookup() string
	GetPasswordCost() int
	GetMaxBorrowed() int
}

// Session is the verified view of a session credential
type Session interface {
	GetIdentityID() uuid.UUID
	GetRole() Role
}

// TokenIssuer issues session credentials
type TokenIssuer interface {
	Issue(identityID uuid.UUID, role Role) (string, error)
}

// TokenVerifier verifies session credentials
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// IdentityStore persists identities
type IdentityStore interface {
	Create(ctx context.Context, identity *Identity) (*Identity, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	Update(ctx context.Context, identity *Identity, columns ...string) (*Identity, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Catalog persists books
type Catalog interface {
	Create(ctx context.Context, book *Book) (*Book, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Book, error)
	Query(ctx context.Context, q BookQuery) ([]*Book, error)
	ListByCataloger(ctx context.Context, catalogerID uuid.UUID) ([]*Book, error)
	Update(ctx context.Context, book *Book, columns ...string) (*Book, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
