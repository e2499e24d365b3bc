package lending

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload of a session credential
type Claims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid"`
	UserRole Role   `json:"role"`
}

var _ Session = (*Claims)(nil)

// GetIdentityID returns the identity id, uuid.Nil when unparsable
func (c *Claims) GetIdentityID() uuid.UUID {
	if c == nil {
		return uuid.Nil
	}
	raw := c.UID
	if raw == "" {
		raw = c.RegisteredClaims.Subject
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (c *Claims) GetRole() Role {
	if c == nil {
		return ""
	}
	return c.UserRole
}

// Expires returns the expiration time
func (c *Claims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Issued returns the issued at time
func (c *Claims) Issued() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// IsSelf checks the session belongs to the given identity
func (c *Claims) IsSelf(id uuid.UUID) bool {
	return id != uuid.Nil && c.GetIdentityID() == id
}
