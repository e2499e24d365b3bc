package lending

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DeleteOneLoanSQL removes the oldest outstanding loan of a book by a borrower
var DeleteOneLoanSQL = `DELETE FROM "loans"
WHERE "id" = (
	SELECT "l"."id" FROM "loans" AS "l"
	WHERE "l"."borrower_id" = ?
	AND "l"."book_id" = ?
	ORDER BY "l"."created_at" ASC, "l"."id" ASC
	LIMIT 1
)
RETURNING *;`

type Loans interface {
	CreateTx(ctx context.Context, tx bun.IDB, loan *Loan) (*Loan, error)
	DeleteOneTx(ctx context.Context, tx bun.IDB, borrowerID, bookID uuid.UUID) (bool, error)
	ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Loan, error)
	ListByBorrowerTx(ctx context.Context, tx bun.IDB, borrowerID uuid.UUID) ([]*Loan, error)
	CountByBookTx(ctx context.Context, tx bun.IDB, bookID uuid.UUID) (int, error)
	CountByBorrowerTx(ctx context.Context, tx bun.IDB, borrowerID uuid.UUID) (int, error)
}

type loans struct {
	repo repository.Repository[*Loan]
	db   *bun.DB
	now  func() time.Time
}

var _ Loans = (*loans)(nil)

func NewLoansRepository(db *bun.DB) Loans {
	repo := repository.NewRepository[*Loan](db, repository.ModelHandlers[*Loan]{
		NewRecord: func() *Loan { return &Loan{} },
		GetID: func(record *Loan) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Loan, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &loans{repo: repo, db: db, now: utcNow}
}

func (r *loans) CreateTx(ctx context.Context, tx bun.IDB, loan *Loan) (*Loan, error) {
	if loan.ID == uuid.Nil {
		loan.ID = uuid.New()
	}
	if loan.CreatedAt == nil {
		now := r.now()
		loan.CreatedAt = &now
	}

	record, err := r.repo.CreateTx(ctx, tx, loan)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert loan")
	}
	return record, nil
}

// DeleteOneTx reports false when the borrower holds no copy of the book
func (r *loans) DeleteOneTx(ctx context.Context, tx bun.IDB, borrowerID, bookID uuid.UUID) (bool, error) {
	res, err := r.repo.RawTx(ctx, tx, DeleteOneLoanSQL, borrowerID, bookID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete loan")
	}
	return len(res) == 1, nil
}

func (r *loans) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Loan, error) {
	return r.ListByBorrowerTx(ctx, r.db, borrowerID)
}

func (r *loans) ListByBorrowerTx(ctx context.Context, tx bun.IDB, borrowerID uuid.UUID) ([]*Loan, error) {
	records := make([]*Loan, 0, MaxBorrowedBooks)
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.borrower_id = ?", borrowerID).
		Order("ln.created_at ASC", "ln.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list loans")
	}
	return records, nil
}

func (r *loans) CountByBookTx(ctx context.Context, tx bun.IDB, bookID uuid.UUID) (int, error) {
	n, err := tx.NewSelect().Model((*Loan)(nil)).Where("book_id = ?", bookID).Count(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count loans")
	}
	return n, nil
}

func (r *loans) CountByBorrowerTx(ctx context.Context, tx bun.IDB, borrowerID uuid.UUID) (int, error) {
	n, err := tx.NewSelect().Model((*Loan)(nil)).Where("borrower_id = ?", borrowerID).Count(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count loans")
	}
	return n, nil
}
