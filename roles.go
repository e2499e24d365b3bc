package lending

import "strings"

// Role tags the identity variant. It is set on signup and never changes.
type Role string

const (
	// RoleCataloger creates and owns books
	RoleCataloger Role = "cataloger"
	// RoleBorrower borrows and returns books
	RoleBorrower Role = "borrower"
)

// legacy names accepted on signup
var roleAliases = map[string]Role{
	"cataloger": RoleCataloger,
	"author":    RoleCataloger,
	"borrower":  RoleBorrower,
	"reader":    RoleBorrower,
}

// ParseRole resolves a role name, case insensitive, accepting the
// "author" and "reader" aliases
func ParseRole(s string) (Role, error) {
	if r, ok := roleAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return r, nil
	}
	return "", withMetadata(ErrInvalidRole, map[string]any{"role": s})
}

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleCataloger, RoleBorrower:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// CanCatalog checks if this role can create and manage books
func (r Role) CanCatalog() bool {
	return r == RoleCataloger
}

// CanBorrow checks if this role can borrow and return books
func (r Role) CanBorrow() bool {
	return r == RoleBorrower
}

// Label is the display name used in client messages
func (r Role) Label() string {
	switch r {
	case RoleCataloger:
		return "Author"
	case RoleBorrower:
		return "Reader"
	default:
		return "Unknown"
	}
}
