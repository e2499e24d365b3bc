package lending_test

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lending "github.com/goliatone/go-lending"
	"github.com/goliatone/go-lending/middleware/ratelimit"
)

type apiClient struct {
	t   *testing.T
	app *fiber.App
}

func newTestAPI(t *testing.T, opts ...lending.LendingControllerOption) (*apiClient, lending.RepositoryManager) {
	t.Helper()
	repo := newTestRepo(t)

	opts = append([]lending.LendingControllerOption{lending.WithControllerLogger(newQuietLogger())}, opts...)
	controller := lending.NewLendingController(repo, testConfig{}, opts...)

	app := lending.NewApp(newQuietLogger(), lending.AppOptions{})
	lending.RegisterRoutes(app, controller)
	return &apiClient{t: t, app: app}, repo
}

func (a *apiClient) do(method, path, token string, body any) (int, map[string]any) {
	a.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := jsoniter.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := a.app.Test(req, -1)
	require.NoError(a.t, err)
	return res.StatusCode, decodeBody(a.t, res.Body)
}

type signedUp struct {
	ID    string
	Token string
}

func (a *apiClient) signup(name, email, role string) signedUp {
	a.t.Helper()
	status, body := a.do("POST", "/api/v1/users/signup", "", fiber.Map{
		"name":     name,
		"email":    email,
		"password": "secret123",
		"role":     role,
	})
	require.Equal(a.t, fiber.StatusCreated, status, body)
	user := body["user"].(map[string]any)
	return signedUp{ID: user["id"].(string), Token: body["token"].(string)}
}

func TestLendingController_Users(t *testing.T) {
	api, _ := newTestAPI(t)

	t.Run("signup", func(t *testing.T) {
		status, body := api.do("POST", "/api/v1/users/signup", "", fiber.Map{
			"name":     "Octavia",
			"email":    "octavia@example.com",
			"password": "secret123",
			"role":     "author",
		})
		require.Equal(t, 201, status)
		assert.Equal(t, "Signup successful", body["message"])
		assert.NotEmpty(t, body["token"])

		user := body["user"].(map[string]any)
		assert.Equal(t, "octavia@example.com", user["email"])
		assert.Equal(t, "cataloger", user["role"])
		assert.NotContains(t, user, "password")
		assert.NotContains(t, user, "passwordHash")
	})

	t.Run("signup validation", func(t *testing.T) {
		tests := []struct {
			name    string
			body    fiber.Map
			message string
		}{
			{"missing fields", fiber.Map{"email": "a@example.com"}, "All fields are required: name, email, password"},
			{"invalid role", fiber.Map{"name": "A", "email": nextEmail("a"), "password": "secret123", "role": "admin"}, "Invalid role. Role must be 'cataloger' or 'borrower'."},
			{"duplicate email", fiber.Map{"name": "A", "email": "OCTAVIA@example.com", "password": "secret123", "role": "reader"}, "Email already exists, please login"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				status, body := api.do("POST", "/api/v1/users/signup", "", tt.body)
				assert.Equal(t, 400, status)
				assert.Equal(t, tt.message, body["message"])
			})
		}

		status, _ := api.do("POST", "/api/v1/users/signup", "", fiber.Map{"name": "A", "email": "not-an-email", "password": "secret123", "role": "reader"})
		assert.Equal(t, 400, status)

		status, _ = api.do("POST", "/api/v1/users/signup", "", fiber.Map{"name": "A", "email": nextEmail("a"), "password": "123", "role": "reader"})
		assert.Equal(t, 400, status)
	})

	t.Run("login", func(t *testing.T) {
		status, body := api.do("POST", "/api/v1/users/login", "", fiber.Map{"email": "octavia@example.com", "password": "secret123"})
		require.Equal(t, 200, status)
		assert.Equal(t, "Login successful", body["message"])
		token := body["token"].(string)

		status, body = api.do("GET", "/api/v1/users/session/validate", token, nil)
		require.Equal(t, 200, status)
		assert.Equal(t, "Session is valid", body["message"])
		assert.Equal(t, "cataloger", body["user"].(map[string]any)["role"])
	})

	t.Run("login failures", func(t *testing.T) {
		status, body := api.do("POST", "/api/v1/users/login", "", fiber.Map{"email": "octavia@example.com", "password": "wrong-password"})
		assert.Equal(t, 401, status)
		assert.Equal(t, "Invalid credentials. Please check your email and password.", body["message"])

		status, _ = api.do("POST", "/api/v1/users/login", "", fiber.Map{"email": "nobody@example.com", "password": "secret123"})
		assert.Equal(t, 404, status)

		status, body = api.do("POST", "/api/v1/users/login", "", fiber.Map{"email": "octavia@example.com"})
		assert.Equal(t, 400, status)
		assert.Equal(t, "All fields are required: email and password", body["message"])
	})

	t.Run("session without token", func(t *testing.T) {
		status, body := api.do("GET", "/api/v1/users/session/validate", "", nil)
		assert.Equal(t, 401, status)
		assert.Equal(t, "Not authenticated", body["message"])
	})

	t.Run("update and delete account", func(t *testing.T) {
		reader := api.signup("Reader", nextEmail("reader"), "reader")
		other := api.signup("Other", nextEmail("other"), "reader")

		status, body := api.do("PUT", "/api/v1/users/update/"+reader.ID, reader.Token, fiber.Map{"name": "Renamed"})
		require.Equal(t, 200, status, body)
		assert.Equal(t, "User details updated successfully.", body["message"])
		assert.Equal(t, "Renamed", body["user"].(map[string]any)["name"])

		status, body = api.do("PUT", "/api/v1/users/update/"+reader.ID, reader.Token, fiber.Map{})
		assert.Equal(t, 400, status)
		assert.Equal(t, "Nothing to update: provide name or password.", body["message"])

		status, _ = api.do("PUT", "/api/v1/users/update/"+reader.ID, other.Token, fiber.Map{"name": "Hijack"})
		assert.Equal(t, 403, status)

		status, _ = api.do("PUT", "/api/v1/users/update/not-a-uuid", reader.Token, fiber.Map{"name": "x"})
		assert.Equal(t, 404, status)

		status, _ = api.do("DELETE", "/api/v1/users/delete/"+reader.ID, other.Token, nil)
		assert.Equal(t, 403, status)

		status, body = api.do("DELETE", "/api/v1/users/delete/"+reader.ID, reader.Token, nil)
		require.Equal(t, 200, status)
		assert.Equal(t, "User account deleted successfully.", body["message"])

		status, _ = api.do("DELETE", "/api/v1/users/delete/"+reader.ID, reader.Token, nil)
		assert.Equal(t, 404, status)
	})
}

func TestLendingController_Books(t *testing.T) {
	api, _ := newTestAPI(t)
	author := api.signup("Octavia Butler", nextEmail("author"), "author")
	reader := api.signup("Ada", nextEmail("reader"), "reader")

	t.Run("requires a session", func(t *testing.T) {
		status, _ := api.do("GET", "/api/v1/books/", "", nil)
		assert.Equal(t, 401, status)

		status, _ = api.do("POST", "/api/v1/books/create", "invalid", fiber.Map{"title": "x"})
		assert.Equal(t, 401, status)
	})

	t.Run("search with no books", func(t *testing.T) {
		status, body := api.do("GET", "/api/v1/books/", reader.Token, nil)
		assert.Equal(t, 404, status)
		assert.Equal(t, "No books found matching the search criteria.", body["message"])
	})

	t.Run("readers cannot create books", func(t *testing.T) {
		status, body := api.do("POST", "/api/v1/books/create", reader.Token, fiber.Map{})
		assert.Equal(t, 403, status)
		assert.Equal(t, "Not authorised to create Books", body["message"])
	})

	t.Run("create validation", func(t *testing.T) {
		status, body := api.do("POST", "/api/v1/books/create", author.Token, fiber.Map{"title": "Kindred", "genre": "SF"})
		assert.Equal(t, 400, status)
		assert.Equal(t, "All fields are required: title, genre, stock", body["message"])

		status, _ = api.do("POST", "/api/v1/books/create", author.Token, fiber.Map{"title": "Kindred", "genre": "SF", "stock": -2})
		assert.Equal(t, 400, status)
	})

	var bookID string
	t.Run("create", func(t *testing.T) {
		status, body := api.do("POST", "/api/v1/books/create", author.Token, fiber.Map{"title": "Kindred", "genre": "Science Fiction", "stock": 2})
		require.Equal(t, 201, status, body)
		assert.Equal(t, "Book added successfully", body["message"])

		book := body["book"].(map[string]any)
		bookID = book["id"].(string)
		assert.Equal(t, author.ID, book["catalogerId"])
		assert.Equal(t, float64(2), book["stock"])
		assert.Equal(t, []any{}, book["borrowers"])
	})

	t.Run("search", func(t *testing.T) {
		status, body := api.do("GET", "/api/v1/books/?title=kin&author=butler", reader.Token, nil)
		require.Equal(t, 200, status)
		assert.Equal(t, "Books retrieved successfully", body["message"])
		assert.Len(t, body["books"], 1)

		status, body = api.do("GET", "/api/v1/books/?author=asimov", reader.Token, nil)
		assert.Equal(t, 404, status)
		assert.Equal(t, "Author not found.", body["message"])

		status, _ = api.do("GET", "/api/v1/books/?genre=romance", author.Token, nil)
		assert.Equal(t, 404, status)
	})

	t.Run("author books", func(t *testing.T) {
		status, body := api.do("GET", "/api/v1/books/author/"+author.ID, author.Token, nil)
		require.Equal(t, 200, status)
		assert.Len(t, body["books"], 1)
		assert.Equal(t, []any{}, body["currentlyBorrowedBooks"])

		status, body = api.do("GET", "/api/v1/books/author/"+author.ID, reader.Token, nil)
		assert.Equal(t, 403, status)
		assert.Equal(t, "Only authors can access this route.", body["message"])
	})

	t.Run("update", func(t *testing.T) {
		status, body := api.do("PUT", "/api/v1/books/"+bookID, author.Token, fiber.Map{"genre": "Speculative Fiction"})
		require.Equal(t, 200, status, body)
		assert.Equal(t, "Book updated successfully", body["message"])
		assert.Equal(t, "Speculative Fiction", body["book"].(map[string]any)["genre"])

		intruder := api.signup("Someone", nextEmail("author"), "cataloger")
		status, _ = api.do("PUT", "/api/v1/books/"+bookID, intruder.Token, fiber.Map{"title": "Mine"})
		assert.Equal(t, 403, status)

		status, _ = api.do("PUT", "/api/v1/books/"+uuid.NewString(), author.Token, fiber.Map{"title": "Ghost"})
		assert.Equal(t, 404, status)
	})

	t.Run("delete", func(t *testing.T) {
		status, body := api.do("DELETE", "/api/v1/books/"+bookID, author.Token, nil)
		require.Equal(t, 200, status, body)
		assert.Equal(t, "Book deleted successfully", body["message"])

		status, _ = api.do("DELETE", "/api/v1/books/"+bookID, author.Token, nil)
		assert.Equal(t, 404, status)
	})
}

func TestLendingController_Reader(t *testing.T) {
	api, repo := newTestAPI(t)
	author := api.signup("Octavia Butler", nextEmail("author"), "author")
	reader := api.signup("Ada", nextEmail("reader"), "reader")

	status, body := api.do("POST", "/api/v1/books/create", author.Token, fiber.Map{"title": "Kindred", "genre": "SF", "stock": 1})
	require.Equal(t, 201, status, body)
	bookID := body["book"].(map[string]any)["id"].(string)

	t.Run("empty borrowed list", func(t *testing.T) {
		status, body := api.do("GET", "/api/v1/reader/books/"+reader.ID, reader.Token, nil)
		require.Equal(t, 200, status)
		assert.Equal(t, "No borrowed books found.", body["message"])
		assert.Equal(t, []any{}, body["borrowedBooks"])
	})

	t.Run("borrow validation", func(t *testing.T) {
		status, body := api.do("POST", "/api/v1/reader/books/borrow", reader.Token, fiber.Map{})
		assert.Equal(t, 400, status)
		assert.Equal(t, "bookId is required", body["message"])

		status, body = api.do("POST", "/api/v1/reader/books/borrow", reader.Token, fiber.Map{"bookId": "12345"})
		assert.Equal(t, 404, status)
		assert.Equal(t, "Book not found.", body["message"])

		status, body = api.do("POST", "/api/v1/reader/books/borrow", author.Token, fiber.Map{"bookId": bookID})
		assert.Equal(t, 403, status)
		assert.Equal(t, "Only readers can borrow books.", body["message"])
	})

	t.Run("borrow", func(t *testing.T) {
		status, body := api.do("POST", "/api/v1/reader/books/borrow", reader.Token, fiber.Map{"bookId": bookID})
		require.Equal(t, 200, status, body)
		assert.Equal(t, "Book borrowed successfully", body["message"])

		book := body["borrowedBook"].(map[string]any)
		assert.Equal(t, float64(0), book["stock"])
		assert.Equal(t, []any{reader.ID}, book["borrowers"])
	})

	t.Run("out of stock", func(t *testing.T) {
		second := api.signup("Bo", nextEmail("reader"), "reader")
		status, body := api.do("POST", "/api/v1/reader/books/borrow", second.Token, fiber.Map{"bookId": bookID})
		assert.Equal(t, 400, status)
		assert.Equal(t, "This book is out of stock.", body["message"])
		assert.Equal(t, 0, stockOf(t, repo, uuid.MustParse(bookID)))
	})

	t.Run("borrowed list and author view", func(t *testing.T) {
		status, body := api.do("GET", "/api/v1/reader/books/"+reader.ID, reader.Token, nil)
		require.Equal(t, 200, status)
		assert.Equal(t, "Borrowed books retrieved successfully", body["message"])
		assert.Len(t, body["borrowedBooks"], 1)

		status, body = api.do("GET", "/api/v1/books/author/"+author.ID, author.Token, nil)
		require.Equal(t, 200, status)
		assert.Len(t, body["currentlyBorrowedBooks"], 1)

		status, body = api.do("DELETE", "/api/v1/books/"+bookID, author.Token, nil)
		assert.Equal(t, 400, status)
		assert.Equal(t, "Copies of this book are still on loan.", body["message"])
	})

	t.Run("another reader cannot list", func(t *testing.T) {
		other := api.signup("Cy", nextEmail("reader"), "reader")
		status, _ := api.do("GET", "/api/v1/reader/books/"+reader.ID, other.Token, nil)
		assert.Equal(t, 403, status)
	})

	t.Run("return", func(t *testing.T) {
		status, body := api.do("POST", "/api/v1/reader/books/return", reader.Token, fiber.Map{"bookId": bookID})
		require.Equal(t, 200, status, body)
		assert.Equal(t, "Book returned successfully", body["message"])
		book := body["returnedBook"].(map[string]any)
		assert.Equal(t, float64(1), book["stock"])
		assert.Equal(t, []any{}, book["borrowers"])

		status, body = api.do("POST", "/api/v1/reader/books/return", reader.Token, fiber.Map{"bookId": bookID})
		assert.Equal(t, 400, status)
		assert.Equal(t, "This book is not in your borrowed list.", body["message"])
	})

	t.Run("borrow limit", func(t *testing.T) {
		for i := range 5 {
			status, body := api.do("POST", "/api/v1/books/create", author.Token, fiber.Map{"title": "Series", "genre": "SF", "stock": 1})
			require.Equal(t, 201, status, body)
			id := body["book"].(map[string]any)["id"].(string)

			status, body = api.do("POST", "/api/v1/reader/books/borrow", reader.Token, fiber.Map{"bookId": id})
			require.Equal(t, 200, status, "borrow %d: %v", i, body)
		}

		status, body := api.do("POST", "/api/v1/reader/books/borrow", reader.Token, fiber.Map{"bookId": bookID})
		assert.Equal(t, 400, status)
		assert.Equal(t, "You can only borrow up to 5 books.", body["message"])
		assert.Equal(t, 1, stockOf(t, repo, uuid.MustParse(bookID)))
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/reader/books/borrow", bytes.NewBufferString("{not json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+reader.Token)
		res, err := api.app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, 400, res.StatusCode)
		assert.Equal(t, "Invalid request body", decodeBody(t, res.Body)["message"])
	})
}

func TestLendingController_HealthAndThrottle(t *testing.T) {
	api, _ := newTestAPI(t, lending.WithThrottle(ratelimit.New(ratelimit.Config{
		Name:              "auth",
		RequestsPerMinute: 1,
		Burst:             2,
		LimitReached: func(c *fiber.Ctx) error {
			return lending.ErrTooManyRequests
		},
	})))

	status, body := api.do("GET", "/healthz", "", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", body["status"])

	for range 2 {
		status, _ := api.do("POST", "/api/v1/users/login", "", fiber.Map{"email": "nobody@example.com", "password": "secret123"})
		assert.Equal(t, 404, status)
	}

	status, body = api.do("POST", "/api/v1/users/login", "", fiber.Map{"email": "nobody@example.com", "password": "secret123"})
	assert.Equal(t, 429, status)
	assert.Equal(t, "Too many requests, please try again later.", body["message"])
}
