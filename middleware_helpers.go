package lending

import (
	"context"

	"github.com/goliatone/go-lending/middleware/jwtware"
)

// ValidationListener aliases the jwtware listener so callers can use lending helpers directly.
type ValidationListener = jwtware.ValidationListener

// ContextEnricherAdapter stores verified claims in the standard context so
// services reached through c.UserContext() can read the session.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	lendingClaims, ok := claims.(*Claims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, lendingClaims)
}

// RegisterValidationListeners appends listeners to a jwtware.Config
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}
