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

// TakeCopySQL decrements stock only while copies are available
var TakeCopySQL = `UPDATE "books"
SET
	"stock" = "stock" - 1,
	"updated_at" = ?
WHERE
	"id" = ?
AND "stock" > 0
RETURNING *;`

var PutBackCopySQL = `UPDATE "books"
SET
	"stock" = "stock" + 1,
	"updated_at" = ?
WHERE
	"id" = ?
RETURNING *;`

var DeleteBookSQL = `DELETE FROM "books"
WHERE "id" = ?
RETURNING *;`

type Books interface {
	Catalog

	CreateTx(ctx context.Context, tx bun.IDB, book *Book) (*Book, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Book, error)
	QueryTx(ctx context.Context, tx bun.IDB, q BookQuery) ([]*Book, error)
	ListByCatalogerTx(ctx context.Context, tx bun.IDB, catalogerID uuid.UUID) ([]*Book, error)
	ListByIDsTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) ([]*Book, error)
	UpdateTx(ctx context.Context, tx bun.IDB, book *Book, columns ...string) (*Book, error)
	DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	ExistsTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
	CountByCatalogerTx(ctx context.Context, tx bun.IDB, catalogerID uuid.UUID) (int, error)
	TakeCopyTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
	PutBackCopyTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type books struct {
	repo repository.Repository[*Book]
	db   *bun.DB
	now  func() time.Time
}

var _ Books = (*books)(nil)

func NewBooksRepository(db *bun.DB) Books {
	repo := repository.NewRepository[*Book](db, repository.ModelHandlers[*Book]{
		NewRecord: func() *Book { return &Book{} },
		GetID: func(record *Book) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Book, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &books{repo: repo, db: db, now: utcNow}
}

func (r *books) Create(ctx context.Context, book *Book) (*Book, error) {
	return r.CreateTx(ctx, r.db, book)
}

func (r *books) CreateTx(ctx context.Context, tx bun.IDB, book *Book) (*Book, error) {
	if book == nil {
		return nil, withMetadata(ErrValidation, map[string]any{"reason": "nil book"})
	}
	if book.Stock < 0 {
		return nil, withMetadata(ErrValidation, map[string]any{"stock": book.Stock})
	}

	prepareBookDefaults(book, r.now())

	record, err := r.repo.CreateTx(ctx, tx, book)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert book")
	}

	record.Borrowers = []uuid.UUID{}
	return record, nil
}

func (r *books) GetByID(ctx context.Context, id uuid.UUID) (*Book, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

// GetByIDTx loads the book with its borrowers set
func (r *books) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Book, error) {
	record, err := r.repo.GetByIdentifierTx(ctx, tx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, withMetadata(ErrBookNotFound, map[string]any{"id": id.String()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve book")
	}

	if err := loadBorrowers(ctx, tx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *books) Query(ctx context.Context, q BookQuery) ([]*Book, error) {
	return r.QueryTx(ctx, r.db, q)
}

// QueryTx matches case insensitive substrings. A cataloger name filter
// that matches no cataloger fails with ErrCatalogerNotFound.
func (r *books) QueryTx(ctx context.Context, tx bun.IDB, q BookQuery) ([]*Book, error) {
	records := make([]*Book, 0)
	sel := tx.NewSelect().Model(&records)

	if title := strings.TrimSpace(q.Title); title != "" {
		sel.Where("LOWER(?TableAlias.title) LIKE ? ESCAPE '!'", containsPattern(title))
	}

	if genre := strings.TrimSpace(q.Genre); genre != "" {
		sel.Where("LOWER(?TableAlias.genre) LIKE ? ESCAPE '!'", containsPattern(genre))
	}

	if name := strings.TrimSpace(q.CatalogerName); name != "" {
		ids, err := findCatalogerIDsByName(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, withMetadata(ErrCatalogerNotFound, map[string]any{"author": name})
		}
		sel.Where("?TableAlias.cataloger_id IN (?)", bun.In(ids))
	}

	if err := sel.Order("bk.created_at ASC", "bk.id ASC").Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to query books")
	}

	if err := loadBorrowers(ctx, tx, records...); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *books) ListByCataloger(ctx context.Context, catalogerID uuid.UUID) ([]*Book, error) {
	return r.ListByCatalogerTx(ctx, r.db, catalogerID)
}

func (r *books) ListByCatalogerTx(ctx context.Context, tx bun.IDB, catalogerID uuid.UUID) ([]*Book, error) {
	records := make([]*Book, 0)
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.cataloger_id = ?", catalogerID).
		Order("bk.created_at ASC", "bk.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list books")
	}

	if err := loadBorrowers(ctx, tx, records...); err != nil {
		return nil, err
	}
	return records, nil
}

// ListByIDsTx returns the books for ids in the given order, repeated ids
// repeat the book
func (r *books) ListByIDsTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) ([]*Book, error) {
	out := make([]*Book, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	records := make([]*Book, 0, len(ids))
	if err := tx.NewSelect().Model(&records).Where("?TableAlias.id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list books")
	}

	if err := loadBorrowers(ctx, tx, records...); err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*Book, len(records))
	for _, b := range records {
		byID[b.ID] = b
	}
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *books) Update(ctx context.Context, book *Book, columns ...string) (*Book, error) {
	return r.UpdateTx(ctx, r.db, book, columns...)
}

// UpdateTx writes descriptive columns only, stock belongs to the lending engine
func (r *books) UpdateTx(ctx context.Context, tx bun.IDB, book *Book, columns ...string) (*Book, error) {
	if book == nil || book.ID == uuid.Nil {
		return nil, ErrBookNotFound
	}

	cols := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		switch c {
		case "title", "genre":
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return r.GetByIDTx(ctx, tx, book.ID)
	}

	now := r.now()
	book.UpdatedAt = &now
	cols = append(cols, "updated_at")

	res, err := tx.NewUpdate().Model(book).Column(cols...).WherePK().Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update book")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, withMetadata(ErrBookNotFound, map[string]any{"id": book.ID.String()})
	}

	return r.GetByIDTx(ctx, tx, book.ID)
}

func (r *books) Delete(ctx context.Context, id uuid.UUID) error {
	return r.DeleteTx(ctx, r.db, id)
}

func (r *books) DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := r.repo.RawTx(ctx, tx, DeleteBookSQL, id)
	if err != nil && !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete book")
	}
	if len(res) == 0 {
		return withMetadata(ErrBookNotFound, map[string]any{"id": id.String()})
	}
	return nil
}

func (r *books) ExistsTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	ok, err := tx.NewSelect().Model((*Book)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check book")
	}
	return ok, nil
}

func (r *books) CountByCatalogerTx(ctx context.Context, tx bun.IDB, catalogerID uuid.UUID) (int, error) {
	n, err := tx.NewSelect().Model((*Book)(nil)).Where("cataloger_id = ?", catalogerID).Count(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count books")
	}
	return n, nil
}

// TakeCopyTx reports false when the book is missing or out of stock. The
// stock check happens in the UPDATE itself, never on a value read earlier.
func (r *books) TakeCopyTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	res, err := r.repo.RawTx(ctx, tx, TakeCopySQL, r.now(), id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to take copy")
	}
	return len(res) == 1, nil
}

func (r *books) PutBackCopyTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := r.repo.RawTx(ctx, tx, PutBackCopySQL, r.now(), id)
	if err != nil && !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to put back copy")
	}
	if len(res) == 0 {
		return withMetadata(ErrBookNotFound, map[string]any{"id": id.String()})
	}
	return nil
}

type bookBorrower struct {
	BookID     uuid.UUID `bun:"book_id"`
	BorrowerID uuid.UUID `bun:"borrower_id"`
}

// loadBorrowers fills the borrowers set of each book from outstanding
// loans, ordered by first loan
func loadBorrowers(ctx context.Context, tx bun.IDB, records ...*Book) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(records))
	byID := make(map[uuid.UUID][]*Book, len(records))
	for _, b := range records {
		b.Borrowers = []uuid.UUID{}
		if _, seen := byID[b.ID]; !seen {
			ids = append(ids, b.ID)
		}
		byID[b.ID] = append(byID[b.ID], b)
	}

	rows := make([]bookBorrower, 0)
	err := tx.NewSelect().
		Model((*Loan)(nil)).
		Column("book_id", "borrower_id").
		Where("book_id IN (?)", bun.In(ids)).
		Group("book_id", "borrower_id").
		OrderExpr("MIN(created_at) ASC").
		Scan(ctx, &rows)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load borrowers")
	}

	for _, row := range rows {
		for _, b := range byID[row.BookID] {
			b.Borrowers = append(b.Borrowers, row.BorrowerID)
		}
	}
	return nil
}

func prepareBookDefaults(book *Book, now time.Time) {
	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	book.Title = strings.TrimSpace(book.Title)
	book.Genre = strings.TrimSpace(book.Genre)
	if book.CreatedAt == nil {
		book.CreatedAt = &now
	}
	book.UpdatedAt = &now
}
