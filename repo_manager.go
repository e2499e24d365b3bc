package lending

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Ping(ctx context.Context) error
	Identities() Identities
	Books() Books
	Loans() Loans
}

type mngr struct {
	db         *bun.DB
	identities Identities
	books      Books
	loans      Loans
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:         db,
		identities: NewIdentitiesRepository(db),
		books:      NewBooksRepository(db),
		loans:      NewLoansRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository manager requires a database")
	}

	if m.identities == nil {
		return errors.New("repository identities should be initialized")
	}

	if m.books == nil {
		return errors.New("repository books should be initialized")
	}

	if m.loans == nil {
		return errors.New("repository loans should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m mngr) Identities() Identities {
	return m.identities
}

func (m mngr) Books() Books {
	return m.books
}

func (m mngr) Loans() Loans {
	return m.loans
}
