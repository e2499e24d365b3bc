package lending

import (
	"context"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultOperationTimeout bounds every lending transaction
const DefaultOperationTimeout = 10 * time.Second

// LendingEngine applies borrow and return as single transactions. Each
// precondition is enforced by a conditional write, never by a prior read.
type LendingEngine struct {
	repo        RepositoryManager
	maxBorrowed int
	timeout     time.Duration
	logger      Logger
}

type LendingEngineOption func(*LendingEngine)

// WithMaxBorrowed overrides the number of copies a borrower may hold
func WithMaxBorrowed(n int) LendingEngineOption {
	return func(e *LendingEngine) {
		if n > 0 {
			e.maxBorrowed = n
		}
	}
}

func WithOperationTimeout(d time.Duration) LendingEngineOption {
	return func(e *LendingEngine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLendingLogger(l Logger) LendingEngineOption {
	return func(e *LendingEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewLendingEngine(repo RepositoryManager, opts ...LendingEngineOption) *LendingEngine {
	e := &LendingEngine{
		repo:        repo,
		maxBorrowed: MaxBorrowedBooks,
		timeout:     DefaultOperationTimeout,
		logger:      resolveLogger("lending.engine", nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxBorrowed returns the borrow limit in effect
func (e *LendingEngine) MaxBorrowed() int {
	return e.maxBorrowed
}

// Borrow hands one copy of bookID to the session's borrower and returns
// the updated book.
func (e *LendingEngine) Borrow(ctx context.Context, session Session, bookID uuid.UUID) (*Book, error) {
	if err := requireBorrower(session, "Only readers can borrow books."); err != nil {
		return nil, err
	}

	borrowerID := session.GetIdentityID()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var book *Book
	err := e.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := e.repo.Books().TakeCopyTx(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if !taken {
			exists, err := e.repo.Books().ExistsTx(ctx, tx, bookID)
			if err != nil {
				return err
			}
			if !exists {
				return withMetadata(ErrBookNotFound, map[string]any{"book_id": bookID.String()})
			}
			return withMetadata(ErrOutOfStock, map[string]any{"book_id": bookID.String()})
		}

		reserved, err := e.repo.Identities().ReserveLoanSlotTx(ctx, tx, borrowerID, e.maxBorrowed)
		if err != nil {
			return err
		}
		if !reserved {
			borrower, err := e.repo.Identities().GetByIDTx(ctx, tx, borrowerID)
			if err != nil {
				if goerrors.IsNotFound(err) {
					return withMetadata(ErrBorrowerNotFound, map[string]any{"borrower_id": borrowerID.String()})
				}
				return err
			}
			if !borrower.IsBorrower() {
				return withMessage(ErrForbidden, "Only readers can borrow books.")
			}
			return withMessage(ErrBorrowLimitExceeded, borrowLimitMessage(e.maxBorrowed)).
				WithMetadata(map[string]any{"borrower_id": borrowerID.String(), "limit": e.maxBorrowed})
		}

		loan := &Loan{BorrowerID: borrowerID, BookID: bookID}
		if _, err := e.repo.Loans().CreateTx(ctx, tx, loan); err != nil {
			return err
		}

		book, err = e.repo.Books().GetByIDTx(ctx, tx, bookID)
		return err
	})

	if err != nil {
		return nil, e.operationError(err, "borrow", borrowerID, bookID)
	}

	e.logger.Info("book borrowed", "book_id", bookID, "borrower_id", borrowerID, "stock", book.Stock)
	return book, nil
}

// Return takes back one copy of bookID from the session's borrower and
// returns the updated book.
func (e *LendingEngine) Return(ctx context.Context, session Session, bookID uuid.UUID) (*Book, error) {
	if err := requireBorrower(session, "Only readers can return books."); err != nil {
		return nil, err
	}

	borrowerID := session.GetIdentityID()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var book *Book
	err := e.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := e.repo.Books().ExistsTx(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if !exists {
			return withMetadata(ErrBookNotFound, map[string]any{"book_id": bookID.String()})
		}

		borrower, err := e.repo.Identities().GetByIDTx(ctx, tx, borrowerID)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return withMetadata(ErrBorrowerNotFound, map[string]any{"borrower_id": borrowerID.String()})
			}
			return err
		}
		if !borrower.IsBorrower() {
			return withMessage(ErrForbidden, "Only readers can return books.")
		}

		removed, err := e.repo.Loans().DeleteOneTx(ctx, tx, borrowerID, bookID)
		if err != nil {
			return err
		}
		if !removed {
			return withMetadata(ErrNotBorrowed, map[string]any{"book_id": bookID.String()})
		}

		if err := e.repo.Identities().ReleaseLoanSlotTx(ctx, tx, borrowerID); err != nil {
			return err
		}

		if err := e.repo.Books().PutBackCopyTx(ctx, tx, bookID); err != nil {
			return err
		}

		book, err = e.repo.Books().GetByIDTx(ctx, tx, bookID)
		return err
	})

	if err != nil {
		return nil, e.operationError(err, "return", borrowerID, bookID)
	}

	e.logger.Info("book returned", "book_id", bookID, "borrower_id", borrowerID, "stock", book.Stock)
	return book, nil
}

// BorrowedBooks lists the books the borrower holds, in loan order. A book
// held twice appears twice. Only the borrower may list their own books.
func (e *LendingEngine) BorrowedBooks(ctx context.Context, session Session, borrowerID uuid.UUID) ([]*Book, error) {
	if session == nil {
		return nil, ErrUnauthenticated
	}
	if !session.GetRole().CanBorrow() || session.GetIdentityID() != borrowerID {
		return nil, withMessage(ErrForbidden, "Not authorised to view these books.")
	}

	var out []*Book
	err := e.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		borrower, err := e.repo.Identities().GetByIDTx(ctx, tx, borrowerID)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return ErrBorrowerNotFound
			}
			return err
		}

		if err := e.repo.Identities().LoadVariantTx(ctx, tx, borrower); err != nil {
			return err
		}

		out, err = e.repo.Books().ListByIDsTx(ctx, tx, borrower.BorrowedBooks)
		return err
	})
	if err != nil {
		return nil, e.operationError(err, "list_borrowed", borrowerID, uuid.Nil)
	}
	return out, nil
}

func (e *LendingEngine) operationError(err error, op string, borrowerID, bookID uuid.UUID) error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Category != goerrors.CategoryInternal {
		return err
	}

	e.logger.Error("lending operation failed", "op", op, "borrower_id", borrowerID, "book_id", bookID, "error", err)
	if rich != nil {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "lending transaction failed")
}

func requireBorrower(session Session, message string) error {
	if session == nil || session.GetIdentityID() == uuid.Nil {
		return ErrUnauthenticated
	}
	if !session.GetRole().CanBorrow() {
		return withMessage(ErrForbidden, message)
	}
	return nil
}

func borrowLimitMessage(limit int) string {
	if limit == MaxBorrowedBooks {
		return ErrBorrowLimitExceeded.Message
	}
	return "You can only borrow up to " + strconv.Itoa(limit) + " books."
}
