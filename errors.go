package lending

import (
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnauthenticated     = "UNAUTHENTICATED"
	TextCodeForbidden           = "FORBIDDEN"
	TextCodeNotFound            = "NOT_FOUND"
	TextCodeIdentityNotFound    = "IDENTITY_NOT_FOUND"
	TextCodeBorrowerNotFound    = "BORROWER_NOT_FOUND"
	TextCodeCatalogerNotFound   = "CATALOGER_NOT_FOUND"
	TextCodeBookNotFound        = "BOOK_NOT_FOUND"
	TextCodeNoBooksFound        = "NO_BOOKS_FOUND"
	TextCodeValidation          = "VALIDATION_ERROR"
	TextCodeOutOfStock          = "OUT_OF_STOCK"
	TextCodeBorrowLimitExceeded = "BORROW_LIMIT_EXCEEDED"
	TextCodeNotBorrowed         = "NOT_BORROWED"
	TextCodeEmailTaken          = "EMAIL_TAKEN"
	TextCodeInvalidRole         = "INVALID_ROLE"
	TextCodeOutstandingLoans    = "OUTSTANDING_LOANS"
	TextCodeCatalogerHasBooks   = "CATALOGER_HAS_BOOKS"
	TextCodeBookOnLoan          = "BOOK_ON_LOAN"
	TextCodeServerError         = "SERVER_ERROR"
)

// ErrUnauthenticated is returned for missing or unusable credentials
var ErrUnauthenticated = goerrors.New("Not authenticated", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

var ErrInvalidCredentials = goerrors.New("Invalid credentials. Please check your email and password.", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned when the role or ownership does not allow the operation
var ErrForbidden = goerrors.New("Not authorised to perform this action", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrNotFound = goerrors.New("Not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("User not found.", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrBorrowerNotFound = goerrors.New("Reader not found.", goerrors.CategoryNotFound).
	WithTextCode(TextCodeBorrowerNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrCatalogerNotFound = goerrors.New("Author not found.", goerrors.CategoryNotFound).
	WithTextCode(TextCodeCatalogerNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrBookNotFound = goerrors.New("Book not found.", goerrors.CategoryNotFound).
	WithTextCode(TextCodeBookNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrNoBooksFound = goerrors.New("No books found matching the search criteria.", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNoBooksFound).
	WithCode(goerrors.CodeNotFound)

var ErrValidation = goerrors.New("Invalid request", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

var ErrOutOfStock = goerrors.New("This book is out of stock.", goerrors.CategoryValidation).
	WithTextCode(TextCodeOutOfStock).
	WithCode(goerrors.CodeBadRequest)

var ErrBorrowLimitExceeded = goerrors.New("You can only borrow up to 5 books.", goerrors.CategoryValidation).
	WithTextCode(TextCodeBorrowLimitExceeded).
	WithCode(goerrors.CodeBadRequest)

var ErrNotBorrowed = goerrors.New("This book is not in your borrowed list.", goerrors.CategoryValidation).
	WithTextCode(TextCodeNotBorrowed).
	WithCode(goerrors.CodeBadRequest)

var ErrEmailTaken = goerrors.New("Email already exists, please login", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeBadRequest)

var ErrInvalidRole = goerrors.New("Invalid role. Role must be 'cataloger' or 'borrower'.", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRole).
	WithCode(goerrors.CodeBadRequest)

var ErrOutstandingLoans = goerrors.New("Return all borrowed books before deleting the account.", goerrors.CategoryValidation).
	WithTextCode(TextCodeOutstandingLoans).
	WithCode(goerrors.CodeBadRequest)

var ErrCatalogerHasBooks = goerrors.New("Delete your books before deleting the account.", goerrors.CategoryValidation).
	WithTextCode(TextCodeCatalogerHasBooks).
	WithCode(goerrors.CodeBadRequest)

var ErrBookOnLoan = goerrors.New("Copies of this book are still on loan.", goerrors.CategoryValidation).
	WithTextCode(TextCodeBookOnLoan).
	WithCode(goerrors.CodeBadRequest)

var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(goerrors.TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

var ErrTooManyRequests = goerrors.New("Too many requests, please try again later.", goerrors.CategoryRateLimit).
	WithTextCode(goerrors.TextCodeTooManyAttempts).
	WithCode(goerrors.CodeTooManyRequests)

// ErrServer is the opaque error clients get for unexpected failures
var ErrServer = goerrors.New("Server error", goerrors.CategoryInternal).
	WithTextCode(TextCodeServerError).
	WithCode(goerrors.CodeInternal)

// errorFrom copies a sentinel so details can be attached without touching
// the shared value. The copy keeps base in its chain, errors.Is(copy, base)
// holds. A non nil cause is joined next to base.
func errorFrom(base *goerrors.Error, cause error) *goerrors.Error {
	err := base.Clone()
	err.Timestamp = time.Now()
	err.Metadata = nil
	if cause != nil {
		err.Source = goerrors.Join(base, cause)
	} else {
		err.Source = base
	}
	return err
}

func withMessage(base *goerrors.Error, message string) *goerrors.Error {
	err := errorFrom(base, nil)
	err.Message = message
	return err
}

func withMetadata(base *goerrors.Error, md map[string]any) *goerrors.Error {
	return errorFrom(base, nil).WithMetadata(md)
}

func withSource(base *goerrors.Error, cause error) *goerrors.Error {
	return errorFrom(base, cause)
}

// internalError wraps err as an internal failure, whatever its category
func internalError(err error, message string) *goerrors.Error {
	rich := goerrors.New(message, goerrors.CategoryInternal).
		WithCode(goerrors.CodeInternal)
	rich.Source = err
	return rich
}

func categoryStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode resolves the HTTP status for err, unknown errors are 500
func StatusCode(err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return http.StatusInternalServerError
	}
	if rich.Code != 0 {
		return rich.Code
	}
	return categoryStatus(rich.Category)
}

// PublicMessage returns the message that is safe to send to a client
func PublicMessage(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Category != goerrors.CategoryInternal && StatusCode(err) < http.StatusInternalServerError {
		return rich.Message
	}
	return ErrServer.Message
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, ErrTokenExpired) || strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, ErrTokenMalformed) ||
		strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
