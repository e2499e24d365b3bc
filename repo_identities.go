package lending

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ReserveLoanSlotSQL claims one of the borrower's slots. No returned row
// means the borrower is missing or already at the limit.
var ReserveLoanSlotSQL = `UPDATE "identities"
SET
	"loan_count" = "loan_count" + 1,
	"updated_at" = ?
WHERE
	"id" = ?
AND "role" = ?
AND "loan_count" < ?
RETURNING *;`

var ReleaseLoanSlotSQL = `UPDATE "identities"
SET
	"loan_count" = "loan_count" - 1,
	"updated_at" = ?
WHERE
	"id" = ?
AND "loan_count" > 0
RETURNING *;`

var DeleteIdentitySQL = `DELETE FROM "identities"
WHERE "id" = ?
RETURNING *;`

type Identities interface {
	IdentityStore

	CreateTx(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error)
	UpdateTx(ctx context.Context, tx bun.IDB, identity *Identity, columns ...string) (*Identity, error)
	DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	// LoadVariant fills WrittenTitles or BorrowedBooks according to the role
	LoadVariant(ctx context.Context, identity *Identity) error
	LoadVariantTx(ctx context.Context, tx bun.IDB, identity *Identity) error

	FindCatalogerIDsByNameTx(ctx context.Context, tx bun.IDB, name string) ([]uuid.UUID, error)
	ReserveLoanSlotTx(ctx context.Context, tx bun.IDB, borrowerID uuid.UUID, limit int) (bool, error)
	ReleaseLoanSlotTx(ctx context.Context, tx bun.IDB, borrowerID uuid.UUID) error
}

type identities struct {
	repo repository.Repository[*Identity]
	db   *bun.DB
	now  func() time.Time
}

var _ Identities = (*identities)(nil)

// NewIdentitiesRepository keys the generic repository on email, the
// identifier used to log in
func NewIdentitiesRepository(db *bun.DB) Identities {
	repo := repository.NewRepository[*Identity](db, repository.ModelHandlers[*Identity]{
		NewRecord: func() *Identity { return &Identity{} },
		GetID: func(record *Identity) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Identity, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &identities{repo: repo, db: db, now: utcNow}
}

// NormalizeEmail lower cases and trims an email so lookups are stable
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *identities) Create(ctx context.Context, identity *Identity) (*Identity, error) {
	return r.CreateTx(ctx, r.db, identity)
}

func (r *identities) CreateTx(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error) {
	if identity == nil {
		return nil, withMetadata(ErrValidation, map[string]any{"reason": "nil identity"})
	}
	if !identity.Role.IsValid() {
		return nil, ErrInvalidRole
	}

	prepareIdentityDefaults(identity, r.now())

	if _, err := r.GetByEmailTx(ctx, tx, identity.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !goerrors.IsNotFound(err) {
		return nil, err
	}

	record, err := r.repo.CreateTx(ctx, tx, identity)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, withSource(ErrEmailTaken, err)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert identity")
	}

	return record, nil
}

func (r *identities) GetByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *identities) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error) {
	record := &Identity{}
	err := tx.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, withMetadata(ErrIdentityNotFound, map[string]any{"id": id.String()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve identity")
	}
	return record, nil
}

func (r *identities) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	return r.GetByEmailTx(ctx, r.db, email)
}

func (r *identities) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error) {
	record, err := r.repo.GetByIdentifierTx(ctx, tx, NormalizeEmail(email))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve identity")
	}
	return record, nil
}

func (r *identities) Update(ctx context.Context, identity *Identity, columns ...string) (*Identity, error) {
	return r.UpdateTx(ctx, r.db, identity, columns...)
}

// UpdateTx writes the given columns, role and loan_count are never written here
func (r *identities) UpdateTx(ctx context.Context, tx bun.IDB, identity *Identity, columns ...string) (*Identity, error) {
	if identity == nil || identity.ID == uuid.Nil {
		return nil, ErrIdentityNotFound
	}

	cols := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		switch c {
		case "id", "role", "loan_count", "created_at", "updated_at":
			continue
		case "email":
			identity.Email = NormalizeEmail(identity.Email)
		}
		cols = append(cols, c)
	}
	if len(cols) == 0 {
		return r.GetByIDTx(ctx, tx, identity.ID)
	}

	now := r.now()
	identity.UpdatedAt = &now
	cols = append(cols, "updated_at")

	res, err := tx.NewUpdate().Model(identity).Column(cols...).WherePK().Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, withSource(ErrEmailTaken, err)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update identity")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return nil, withMetadata(ErrIdentityNotFound, map[string]any{"id": identity.ID.String()})
	}

	return r.GetByIDTx(ctx, tx, identity.ID)
}

func (r *identities) Delete(ctx context.Context, id uuid.UUID) error {
	return r.DeleteTx(ctx, r.db, id)
}

func (r *identities) DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := r.repo.RawTx(ctx, tx, DeleteIdentitySQL, id)
	if err != nil && !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete identity")
	}
	if len(res) == 0 {
		return withMetadata(ErrIdentityNotFound, map[string]any{"id": id.String()})
	}
	return nil
}

func (r *identities) LoadVariant(ctx context.Context, identity *Identity) error {
	return r.LoadVariantTx(ctx, r.db, identity)
}

func (r *identities) LoadVariantTx(ctx context.Context, tx bun.IDB, identity *Identity) error {
	if identity == nil {
		return nil
	}

	switch identity.Role {
	case RoleCataloger:
		titles := make([]string, 0)
		err := tx.NewSelect().
			Model((*Book)(nil)).
			Column("title").
			Where("cataloger_id = ?", identity.ID).
			Order("created_at ASC", "id ASC").
			Scan(ctx, &titles)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load written titles")
		}
		identity.WrittenTitles = titles

	case RoleBorrower:
		ids := make([]uuid.UUID, 0, MaxBorrowedBooks)
		err := tx.NewSelect().
			Model((*Loan)(nil)).
			Column("book_id").
			Where("borrower_id = ?", identity.ID).
			Order("created_at ASC", "id ASC").
			Scan(ctx, &ids)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load borrowed books")
		}
		identity.BorrowedBooks = ids
	}

	return nil
}

func (r *identities) FindCatalogerIDsByNameTx(ctx context.Context, tx bun.IDB, name string) ([]uuid.UUID, error) {
	return findCatalogerIDsByName(ctx, tx, name)
}

func findCatalogerIDsByName(ctx context.Context, tx bun.IDB, name string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0)
	err := tx.NewSelect().
		Model((*Identity)(nil)).
		Column("id").
		Where("role = ?", RoleCataloger).
		Where("LOWER(name) LIKE ? ESCAPE '!'", containsPattern(name)).
		Order("created_at ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up catalogers")
	}
	return ids, nil
}

func (r *identities) ReserveLoanSlotTx(ctx context.Context, tx bun.IDB, borrowerID uuid.UUID, limit int) (bool, error) {
	res, err := r.repo.RawTx(ctx, tx, ReserveLoanSlotSQL, r.now(), borrowerID, RoleBorrower, limit)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reserve loan slot")
	}
	return len(res) == 1, nil
}

func (r *identities) ReleaseLoanSlotTx(ctx context.Context, tx bun.IDB, borrowerID uuid.UUID) error {
	if _, err := r.repo.RawTx(ctx, tx, ReleaseLoanSlotSQL, r.now(), borrowerID); err != nil && !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to release loan slot")
	}
	return nil
}

func prepareIdentityDefaults(identity *Identity, now time.Time) {
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	identity.Email = NormalizeEmail(identity.Email)
	identity.Name = strings.TrimSpace(identity.Name)
	identity.LoanCount = 0
	if identity.CreatedAt == nil {
		identity.CreatedAt = &now
	}
	identity.UpdatedAt = &now
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}

// containsPattern builds a case insensitive LIKE pattern escaping
// wildcards with '!'
func containsPattern(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(strings.ToLower(strings.TrimSpace(s))) + "%"
}
