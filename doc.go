// Package lending provides the backend of a small library: identities with
// a role, a book catalog, and the borrow and return transactions that move
// copies between the shelf and a reader.
//
// Identities:
//   - An Identity is either a cataloger (shown to clients as "Author") or a
//     borrower (shown as "Reader"). Both live in one table and share a
//     global unique email. Role aliases "author" and "reader" are accepted
//     on signup.
//   - Sessions are HS256 tokens carrying the identity id and role. They are
//     valid for 15 days, inclusive of the expiration second.
//
// Lending:
//   - LendingEngine.Borrow and LendingEngine.Return each run in a single
//     transaction. Stock and the per borrower loan count are changed with
//     conditional UPDATE statements, so concurrent calls cannot push stock
//     below zero or a borrower past the limit.
//   - A loan is one row per outstanding copy. A reader may hold several
//     copies of the same title. A book's borrowers set is derived from its
//     loans.
//
// HTTP:
//   - NewLendingController wires the services, RegisterRoutes mounts them on
//     a fiber router under /api/v1. Errors are go-errors values and are mapped
//     to a `{"message": ...}` body by NewErrorHandler.
package lending
