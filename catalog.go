package lending

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TouchBookSQL locks the book row for the rest of the transaction
var TouchBookSQL = `UPDATE "books"
SET
	"updated_at" = ?
WHERE
	"id" = ?;`

type CreateBookMessage struct {
	Title string
	Genre string
	Stock int
}

func (e CreateBookMessage) Type() string { return "book.create" }

type UpdateBookMessage struct {
	ID    uuid.UUID
	Title *string
	Genre *string
}

func (e UpdateBookMessage) Type() string { return "book.update" }

// CatalogerBooks is a cataloger's inventory and the subset with copies on loan
type CatalogerBooks struct {
	Books                  []*Book `json:"books"`
	CurrentlyBorrowedBooks []*Book `json:"currentlyBorrowedBooks"`
}

// CatalogService gates catalog operations by role and ownership
type CatalogService struct {
	repo   RepositoryManager
	logger Logger
}

func NewCatalogService(repo RepositoryManager, logger Logger) *CatalogService {
	return &CatalogService{
		repo:   repo,
		logger: resolveLogger("lending.catalog", logger),
	}
}

// CreateBook adds a title owned by the session's cataloger
func (s *CatalogService) CreateBook(ctx context.Context, session Session, msg CreateBookMessage) (*Book, error) {
	if err := requireCataloger(session, "Not authorised to create Books"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(msg.Title) == "" || strings.TrimSpace(msg.Genre) == "" || msg.Stock < 0 {
		return nil, withMessage(ErrValidation, "All fields are required: title, genre, stock")
	}

	catalogerID := session.GetIdentityID()
	book := &Book{
		Title:       msg.Title,
		Genre:       msg.Genre,
		Stock:       msg.Stock,
		CatalogerID: catalogerID,
	}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		cataloger, err := s.repo.Identities().GetByIDTx(ctx, tx, catalogerID)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return withMessage(ErrCatalogerNotFound, "Author not found")
			}
			return err
		}
		if !cataloger.IsCataloger() {
			return withMessage(ErrForbidden, "Not authorised to create Books")
		}

		book, err = s.repo.Books().CreateTx(ctx, tx, book)
		return err
	})
	if err != nil {
		return nil, s.logged(err, "create_book")
	}

	s.logger.Info("book created", "book_id", book.ID, "cataloger_id", catalogerID, "stock", book.Stock)
	return book, nil
}

// SearchBooks runs a catalog query. An empty result is ErrNoBooksFound.
func (s *CatalogService) SearchBooks(ctx context.Context, session Session, q BookQuery) ([]*Book, error) {
	if session == nil || !session.GetRole().IsValid() {
		return nil, ErrUnauthenticated
	}

	records, err := s.repo.Books().Query(ctx, q)
	if err != nil {
		return nil, s.logged(err, "search_books")
	}
	if len(records) == 0 {
		return nil, ErrNoBooksFound
	}
	return records, nil
}

// CatalogerBooks lists the session's own books and those with copies on loan.
// A cataloger without books gets ErrNoBooksFound.
func (s *CatalogService) CatalogerBooks(ctx context.Context, session Session, catalogerID uuid.UUID) (*CatalogerBooks, error) {
	if err := requireCataloger(session, "Not authorised to view these books."); err != nil {
		return nil, err
	}
	if session.GetIdentityID() != catalogerID {
		return nil, withMessage(ErrForbidden, "Not authorised to view these books.")
	}

	out := &CatalogerBooks{Books: []*Book{}, CurrentlyBorrowedBooks: []*Book{}}
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.Identities().GetByIDTx(ctx, tx, catalogerID); err != nil {
			if goerrors.IsNotFound(err) {
				return withMessage(ErrCatalogerNotFound, "Author not found")
			}
			return err
		}

		records, err := s.repo.Books().ListByCatalogerTx(ctx, tx, catalogerID)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			return withMessage(ErrNoBooksFound, "No books found for this author.")
		}

		out.Books = records
		for _, b := range records {
			if len(b.Borrowers) > 0 {
				out.CurrentlyBorrowedBooks = append(out.CurrentlyBorrowedBooks, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.logged(err, "cataloger_books")
	}
	return out, nil
}

// UpdateBook changes title or genre of a book the session owns
func (s *CatalogService) UpdateBook(ctx context.Context, session Session, msg UpdateBookMessage) (*Book, error) {
	if err := requireCataloger(session, "Not authorised to update Books"); err != nil {
		return nil, err
	}

	patch := &Book{ID: msg.ID}
	columns := make([]string, 0, 2)
	if msg.Title != nil {
		if strings.TrimSpace(*msg.Title) == "" {
			return nil, withMessage(ErrValidation, "title: cannot be blank.")
		}
		patch.Title = strings.TrimSpace(*msg.Title)
		columns = append(columns, "title")
	}
	if msg.Genre != nil {
		if strings.TrimSpace(*msg.Genre) == "" {
			return nil, withMessage(ErrValidation, "genre: cannot be blank.")
		}
		patch.Genre = strings.TrimSpace(*msg.Genre)
		columns = append(columns, "genre")
	}

	var updated *Book
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.requireOwnerTx(ctx, tx, session, msg.ID); err != nil {
			return err
		}
		var err error
		updated, err = s.repo.Books().UpdateTx(ctx, tx, patch, columns...)
		return err
	})
	if err != nil {
		return nil, s.logged(err, "update_book")
	}
	return updated, nil
}

// DeleteBook removes a book the session owns. Books with copies on loan
// cannot be deleted.
func (s *CatalogService) DeleteBook(ctx context.Context, session Session, bookID uuid.UUID) error {
	if err := requireCataloger(session, "Not authorised to delete Books"); err != nil {
		return err
	}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewRaw(TouchBookSQL, utcNow(), bookID).Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to lock book")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrBookNotFound
		}

		if err := s.requireOwnerTx(ctx, tx, session, bookID); err != nil {
			return err
		}

		n, err := s.repo.Loans().CountByBookTx(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if n > 0 {
			return withMetadata(ErrBookOnLoan, map[string]any{"loans": n})
		}

		return s.repo.Books().DeleteTx(ctx, tx, bookID)
	})
	if err != nil {
		return s.logged(err, "delete_book")
	}

	s.logger.Info("book deleted", "book_id", bookID, "cataloger_id", session.GetIdentityID())
	return nil
}

func (s *CatalogService) requireOwnerTx(ctx context.Context, tx bun.IDB, session Session, bookID uuid.UUID) error {
	book, err := s.repo.Books().GetByIDTx(ctx, tx, bookID)
	if err != nil {
		return err
	}
	if book.CatalogerID != session.GetIdentityID() {
		return withMessage(ErrForbidden, "Only the owning author can change this book.")
	}
	return nil
}

func (s *CatalogService) logged(err error, op string) error {
	if StatusCode(err) >= 500 {
		s.logger.Error("catalog operation failed", "op", op, "error", err)
	}
	return err
}

func requireCataloger(session Session, message string) error {
	if session == nil || session.GetIdentityID() == uuid.Nil {
		return ErrUnauthenticated
	}
	if !session.GetRole().CanCatalog() {
		return withMessage(ErrForbidden, message)
	}
	return nil
}
