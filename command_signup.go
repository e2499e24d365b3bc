package lending

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type SignupMessage struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	// UseHashid derives the identity id from the email
	UseHashid bool `json:"-"`
}

func (e SignupMessage) Type() string { return "identity.signup" }

// SignupResult is the created identity and its first session token
type SignupResult struct {
	Identity *Identity
	Token    string
}

type SignupHandler struct {
	repo    RepositoryManager
	tokens  TokenIssuer
	hasher  PasswordHasher
	timeout time.Duration
	logger  Logger

	hashidOptions []hashid.Option
}

func NewSignupHandler(repo RepositoryManager, tokens TokenIssuer, hasher PasswordHasher, logger Logger) *SignupHandler {
	if hasher == nil {
		hasher = BcryptHasher{Cost: DefaultPasswordCost}
	}
	return &SignupHandler{
		repo:    repo,
		tokens:  tokens,
		hasher:  hasher,
		timeout: DefaultOperationTimeout,
		logger:  resolveLogger("lending.signup", logger),
	}
}

// WithHashidOptions sets the options used to derive ids from emails
func (h *SignupHandler) WithHashidOptions(opts ...hashid.Option) *SignupHandler {
	h.hashidOptions = opts
	return h
}

func (h *SignupHandler) Execute(ctx context.Context, msg SignupMessage) (*SignupResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryInternal, "context cancelled during signup")
	default:
		return h.execute(ctx, msg)
	}
}

func (h *SignupHandler) execute(ctx context.Context, msg SignupMessage) (*SignupResult, error) {
	role, err := ParseRole(msg.Role)
	if err != nil {
		return nil, err
	}

	hash, err := h.hasher.HashPassword(msg.Password)
	if err != nil {
		return nil, err
	}

	identity := &Identity{
		Role:         role,
		Name:         msg.Name,
		Email:        msg.Email,
		PasswordHash: hash,
	}

	if msg.UseHashid {
		id, err := hashid.NewUUID(NormalizeEmail(msg.Email), h.hashidOptions...)
		if err != nil {
			h.logger.Warn("hashid derivation failed, using a random id", "error", err)
		} else {
			identity.ID = id
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := h.repo.Identities().CreateTx(ctx, tx, identity)
		if err != nil {
			return err
		}
		identity = created
		return nil
	})
	if err != nil {
		var rich *goerrors.Error
		if goerrors.As(err, &rich) {
			if rich.Category == goerrors.CategoryInternal {
				h.logger.Error("signup transaction failed", "error", err)
			}
			return nil, err
		}
		h.logger.Error("signup transaction failed", "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "signup transaction failed")
	}

	token, err := h.tokens.Issue(identity.ID, identity.Role)
	if err != nil {
		return nil, err
	}

	h.logger.Info("identity created", "identity_id", identity.ID, "role", identity.Role)
	return &SignupResult{Identity: identity, Token: token}, nil
}
