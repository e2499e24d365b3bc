package lending

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TouchIdentitySQL locks the identity row for the rest of the transaction
var TouchIdentitySQL = `UPDATE "identities"
SET
	"updated_at" = ?
WHERE
	"id" = ?;`

type UpdateAccountMessage struct {
	ID       uuid.UUID
	Name     *string
	Password *string
}

func (e UpdateAccountMessage) Type() string { return "identity.update" }

type UpdateAccountHandler struct {
	repo   RepositoryManager
	hasher PasswordHasher
	logger Logger
}

func NewUpdateAccountHandler(repo RepositoryManager, hasher PasswordHasher, logger Logger) *UpdateAccountHandler {
	if hasher == nil {
		hasher = BcryptHasher{Cost: DefaultPasswordCost}
	}
	return &UpdateAccountHandler{
		repo:   repo,
		hasher: hasher,
		logger: resolveLogger("lending.account", logger),
	}
}

// Execute updates name and password, an identity may only update itself
func (h *UpdateAccountHandler) Execute(ctx context.Context, session Session, msg UpdateAccountMessage) (*Identity, error) {
	if err := requireSelf(session, msg.ID, "You can only update your own account."); err != nil {
		return nil, err
	}

	columns := make([]string, 0, 2)
	patch := &Identity{ID: msg.ID}

	if msg.Name != nil {
		name := strings.TrimSpace(*msg.Name)
		if name == "" {
			return nil, withMessage(ErrValidation, "name: cannot be blank.")
		}
		patch.Name = name
		columns = append(columns, "name")
	}

	if msg.Password != nil {
		hash, err := h.hasher.HashPassword(*msg.Password)
		if err != nil {
			return nil, err
		}
		patch.PasswordHash = hash
		columns = append(columns, "password_hash")
	}

	var updated *Identity
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if updated, err = h.repo.Identities().UpdateTx(ctx, tx, patch, columns...); err != nil {
			return err
		}
		return h.repo.Identities().LoadVariantTx(ctx, tx, updated)
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("identity updated", "identity_id", msg.ID, "columns", columns)
	return updated, nil
}

type DeleteAccountMessage struct {
	ID uuid.UUID
}

func (e DeleteAccountMessage) Type() string { return "identity.delete" }

type DeleteAccountHandler struct {
	repo   RepositoryManager
	logger Logger
}

func NewDeleteAccountHandler(repo RepositoryManager, logger Logger) *DeleteAccountHandler {
	return &DeleteAccountHandler{
		repo:   repo,
		logger: resolveLogger("lending.account", logger),
	}
}

// Execute removes the identity. Borrowers must have returned every copy and
// catalogers must have deleted their books first.
func (h *DeleteAccountHandler) Execute(ctx context.Context, session Session, msg DeleteAccountMessage) error {
	if err := requireSelf(session, msg.ID, "You can only delete your own account."); err != nil {
		return err
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewRaw(TouchIdentitySQL, utcNow(), msg.ID).Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to lock identity")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrIdentityNotFound
		}

		identity, err := h.repo.Identities().GetByIDTx(ctx, tx, msg.ID)
		if err != nil {
			return err
		}

		switch identity.Role {
		case RoleBorrower:
			if identity.LoanCount > 0 {
				return withMetadata(ErrOutstandingLoans, map[string]any{"loans": identity.LoanCount})
			}
		case RoleCataloger:
			n, err := h.repo.Books().CountByCatalogerTx(ctx, tx, identity.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return withMetadata(ErrCatalogerHasBooks, map[string]any{"books": n})
			}
		}

		return h.repo.Identities().DeleteTx(ctx, tx, msg.ID)
	})
	if err != nil {
		return err
	}

	h.logger.Info("identity deleted", "identity_id", msg.ID)
	return nil
}

func requireSelf(session Session, id uuid.UUID, message string) error {
	if session == nil || session.GetIdentityID() == uuid.Nil {
		return ErrUnauthenticated
	}
	if session.GetIdentityID() != id {
		return withMessage(ErrForbidden, message)
	}
	return nil
}
