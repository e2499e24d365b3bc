package lending

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type tableIndex struct {
	model   any
	name    string
	columns []string
}

var lendingModels = []any{
	(*Identity)(nil),
	(*Book)(nil),
	(*Loan)(nil),
}

var lendingIndexes = []tableIndex{
	{model: (*Identity)(nil), name: "identities_role_idx", columns: []string{"role"}},
	{model: (*Book)(nil), name: "books_cataloger_id_idx", columns: []string{"cataloger_id"}},
	{model: (*Loan)(nil), name: "loans_borrower_id_idx", columns: []string{"borrower_id"}},
	{model: (*Loan)(nil), name: "loans_book_id_idx", columns: []string{"book_id"}},
}

// Migrate creates the lending schema if it does not exist
func Migrate(ctx context.Context, db *bun.DB) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range lendingModels {
			q := tx.NewCreateTable().Model(model).IfNotExists()
			switch model.(type) {
			case *Book:
				q = q.ForeignKey(`("cataloger_id") REFERENCES "identities" ("id")`)
			case *Loan:
				q = q.ForeignKey(`("borrower_id") REFERENCES "identities" ("id")`).
					ForeignKey(`("book_id") REFERENCES "books" ("id")`)
			}
			if _, err := q.Exec(ctx); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create table")
			}
		}

		for _, idx := range lendingIndexes {
			_, err := tx.NewCreateIndex().
				Model(idx.model).
				Index(idx.name).
				Column(idx.columns...).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create index")
			}
		}
		return nil
	})
}

// ResetSchema drops every lending table, used by tests and the migrate --reset flag
func ResetSchema(ctx context.Context, db *bun.DB) error {
	for i := len(lendingModels) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(lendingModels[i]).IfExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to drop table")
		}
	}
	return nil
}
