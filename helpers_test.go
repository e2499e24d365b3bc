package lending_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	lending "github.com/goliatone/go-lending"
	"github.com/goliatone/go-lending/persistence"
)

const testSigningKey = "test-signing-key-0123456789"

// testHasher keeps bcrypt fast in tests
var testHasher = lending.BcryptHasher{Cost: bcrypt.MinCost}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	ctx := context.Background()
	db, err := persistence.Open(ctx, persistence.Options{
		Driver: persistence.DriverSQLite,
		DSN:    ":memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, lending.Migrate(ctx, db))
	return db
}

func newTestRepo(t *testing.T) lending.RepositoryManager {
	t.Helper()
	return lending.NewRepositoryManager(newTestDB(t))
}

var seedCounter struct {
	sync.Mutex
	n int
}

func nextEmail(prefix string) string {
	seedCounter.Lock()
	defer seedCounter.Unlock()
	seedCounter.n++
	return fmt.Sprintf("%s%d@example.com", prefix, seedCounter.n)
}

func seedIdentity(t *testing.T, repo lending.RepositoryManager, role lending.Role, name string) *lending.Identity {
	t.Helper()

	hash, err := testHasher.HashPassword("secret123")
	require.NoError(t, err)

	identity, err := repo.Identities().Create(context.Background(), &lending.Identity{
		Role:         role,
		Name:         name,
		Email:        nextEmail(string(role)),
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return identity
}

func seedBorrower(t *testing.T, repo lending.RepositoryManager) *lending.Identity {
	t.Helper()
	return seedIdentity(t, repo, lending.RoleBorrower, "Reader")
}

func seedCataloger(t *testing.T, repo lending.RepositoryManager, name string) *lending.Identity {
	t.Helper()
	return seedIdentity(t, repo, lending.RoleCataloger, name)
}

func seedBook(t *testing.T, repo lending.RepositoryManager, catalogerID uuid.UUID, title, genre string, stock int) *lending.Book {
	t.Helper()

	book, err := repo.Books().Create(context.Background(), &lending.Book{
		Title:       title,
		Genre:       genre,
		Stock:       stock,
		CatalogerID: catalogerID,
	})
	require.NoError(t, err)

	// keeps created_at ordering strict between seeded rows
	time.Sleep(2 * time.Millisecond)
	return book
}

func sessionFor(identity *lending.Identity) *lending.Claims {
	return &lending.Claims{UID: identity.ID.String(), UserRole: identity.Role}
}

func stockOf(t *testing.T, repo lending.RepositoryManager, id uuid.UUID) int {
	t.Helper()
	book, err := repo.Books().GetByID(context.Background(), id)
	require.NoError(t, err)
	return book.Stock
}

func borrowedOf(t *testing.T, repo lending.RepositoryManager, id uuid.UUID) []uuid.UUID {
	t.Helper()
	identity, err := repo.Identities().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, repo.Identities().LoadVariant(context.Background(), identity))
	return identity.BorrowedBooks
}

// MockLogger records log calls
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, args ...any) { m.Called(msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.Called(msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.Called(msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.Called(msg, args) }

func newQuietLogger() *MockLogger {
	l := &MockLogger{}
	l.On("Debug", mock.Anything, mock.Anything).Maybe()
	l.On("Info", mock.Anything, mock.Anything).Maybe()
	l.On("Warn", mock.Anything, mock.Anything).Maybe()
	l.On("Error", mock.Anything, mock.Anything).Maybe()
	return l
}

// testConfig implements lending.Config
type testConfig struct {
	maxBorrowed int
}

func (c testConfig) GetSigningKey() string      { return testSigningKey }
func (c testConfig) GetTokenExpiration() int    { return lending.DefaultTokenExpiration }
func (c testConfig) GetIssuer() string          { return "go-lending" }
func (c testConfig) GetAudience() []string      { return []string{"go-lending"} }
func (c testConfig) GetAuthScheme() string      { return "Bearer" }
func (c testConfig) GetContextKey() string      { return lending.DefaultContextKey }
func (c testConfig) GetTokenLookup() string     { return "header:Authorization" }
func (c testConfig) GetPasswordCost() int       { return bcrypt.MinCost }
func (c testConfig) GetMaxBorrowed() int {
	if c.maxBorrowed > 0 {
		return c.maxBorrowed
	}
	return lending.MaxBorrowedBooks
}
