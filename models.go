package lending

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MaxBorrowedBooks is the number of copies a borrower may hold at once
const MaxBorrowedBooks = 5

// Identity is a person record. Role tags the variant: catalogers carry
// WrittenTitles, borrowers carry BorrowedBooks. Both are loaded from the
// books and loans tables, they are not columns.
type Identity struct {
	bun.BaseModel `bun:"table:identities,alias:idn"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Role          Role       `bun:"role,notnull" json:"role"`
	Name          string     `bun:"name,notnull" json:"name"`
	Email         string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	LoanCount     int        `bun:"loan_count,notnull,default:0" json:"-"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt,omitempty"`

	WrittenTitles []string    `bun:"-" json:"writtenTitles,omitempty"`
	BorrowedBooks []uuid.UUID `bun:"-" json:"borrowedBooks,omitempty"`
}

func (i *Identity) IsCataloger() bool {
	return i != nil && i.Role == RoleCataloger
}

func (i *Identity) IsBorrower() bool {
	return i != nil && i.Role == RoleBorrower
}

// Summary is the public projection returned with tokens
func (i *Identity) Summary() IdentitySummary {
	return IdentitySummary{
		ID:    i.ID,
		Name:  i.Name,
		Email: i.Email,
		Role:  i.Role,
	}
}

type IdentitySummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
}

// Book tracks available copies of a title. Borrowers is the set of
// borrower ids holding an outstanding copy, loaded from loans.
type Book struct {
	bun.BaseModel `bun:"table:books,alias:bk"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Title         string     `bun:"title,notnull" json:"title"`
	Genre         string     `bun:"genre,notnull" json:"genre"`
	CatalogerID   uuid.UUID  `bun:"cataloger_id,notnull,type:uuid" json:"catalogerId"`
	Stock         int        `bun:"stock,notnull" json:"stock"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt,omitempty"`

	Borrowers []uuid.UUID `bun:"-" json:"borrowers"`
}

// Loan is one outstanding copy held by a borrower
type Loan struct {
	bun.BaseModel `bun:"table:loans,alias:ln"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	BorrowerID    uuid.UUID  `bun:"borrower_id,notnull,type:uuid" json:"borrowerId"`
	BookID        uuid.UUID  `bun:"book_id,notnull,type:uuid" json:"bookId"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt,omitempty"`
}

// BookQuery filters catalog searches, empty fields are ignored
type BookQuery struct {
	Title         string
	Genre         string
	CatalogerName string
}

func (q BookQuery) IsEmpty() bool {
	return q.Title == "" && q.Genre == "" && q.CatalogerName == ""
}
