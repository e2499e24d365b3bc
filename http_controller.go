package lending

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// LendingControllerRoutes are the mount points of each router
type LendingControllerRoutes struct {
	Prefix string
	Users  string
	Books  string
	Reader string
	Health string
}

// LendingController exposes identity, catalog and lending operations over HTTP
type LendingController struct {
	Debug         bool
	Logger        Logger
	Config        Config
	Repo          RepositoryManager
	Routes        *LendingControllerRoutes
	Tokens        *TokenService
	Auther        *Authenticator
	Signup        *SignupHandler
	UpdateAccount *UpdateAccountHandler
	DeleteAccount *DeleteAccountHandler
	Catalog       *CatalogService
	Engine        *LendingEngine
	// Throttle guards the unauthenticated signup and login routes
	Throttle  fiber.Handler
	UseHashid bool

	engineOpts []LendingEngineOption
}

type LendingControllerOption func(*LendingController) *LendingController

func WithControllerLogger(logger Logger) LendingControllerOption {
	return func(c *LendingController) *LendingController {
		c.Logger = logger
		return c
	}
}

func WithControllerDebug(debug bool) LendingControllerOption {
	return func(c *LendingController) *LendingController {
		c.Debug = debug
		return c
	}
}

func WithThrottle(h fiber.Handler) LendingControllerOption {
	return func(c *LendingController) *LendingController {
		c.Throttle = h
		return c
	}
}

// WithTokenService replaces the token service built from Config
func WithTokenService(ts *TokenService) LendingControllerOption {
	return func(c *LendingController) *LendingController {
		c.Tokens = ts
		return c
	}
}

// WithHashidIdentities derives new identity ids from the email
func WithHashidIdentities(enabled bool) LendingControllerOption {
	return func(c *LendingController) *LendingController {
		c.UseHashid = enabled
		return c
	}
}

// WithEngineOptions are applied after the limit and logger taken from Config
func WithEngineOptions(opts ...LendingEngineOption) LendingControllerOption {
	return func(c *LendingController) *LendingController {
		c.engineOpts = append(c.engineOpts, opts...)
		return c
	}
}

func NewLendingController(repo RepositoryManager, cfg Config, opts ...LendingControllerOption) *LendingController {
	if repo == nil {
		panic("Missing RepositoryManager in lending controller...")
	}

	if cfg == nil {
		panic("Missing Config in lending controller...")
	}

	c := &LendingController{
		Repo:   repo,
		Config: cfg,
		Routes: &LendingControllerRoutes{
			Prefix: "/api/v1",
			Users:  "/users",
			Books:  "/books",
			Reader: "/reader",
			Health: "/healthz",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	c.Logger = resolveLogger("lending.http", c.Logger)

	if c.Tokens == nil {
		c.Tokens = NewTokenServiceFromConfig(cfg, c.Logger)
	}

	cost := cfg.GetPasswordCost()
	if cost <= 0 {
		cost = DefaultPasswordCost
	}
	hasher := BcryptHasher{Cost: cost}

	provider := NewIdentityProvider(repo.Identities(), hasher, c.Logger)
	c.Auther = NewAuthenticator(provider, c.Tokens, c.Logger)
	c.Signup = NewSignupHandler(repo, c.Tokens, hasher, c.Logger)
	c.UpdateAccount = NewUpdateAccountHandler(repo, hasher, c.Logger)
	c.DeleteAccount = NewDeleteAccountHandler(repo, c.Logger)
	c.Catalog = NewCatalogService(repo, c.Logger)
	engineOpts := append([]LendingEngineOption{
		WithMaxBorrowed(cfg.GetMaxBorrowed()),
		WithLendingLogger(c.Logger),
	}, c.engineOpts...)
	c.Engine = NewLendingEngine(repo, engineOpts...)

	return c
}

// RegisterRoutes mounts the users, books and reader routers
func RegisterRoutes(app fiber.Router, c *LendingController) {
	app.Get(c.Routes.Health, HealthHandler(c.Repo, c.Logger))

	api := app.Group(c.Routes.Prefix)
	protected := ProtectedRoute(c.Config, c.Tokens)

	throttle := c.Throttle
	if throttle == nil {
		throttle = func(ctx *fiber.Ctx) error { return ctx.Next() }
	}

	users := api.Group(c.Routes.Users)
	users.Post("/signup", throttle, c.SignupPost).Name("users.signup")
	users.Post("/login", throttle, c.LoginPost).Name("users.login")
	users.Get("/session/validate", protected, c.SessionValidate).Name("users.session")
	users.Put("/update/:id", protected, c.AccountUpdate).Name("users.update")
	users.Delete("/delete/:id", protected, c.AccountDelete).Name("users.delete")

	books := api.Group(c.Routes.Books, protected)
	books.Post("/create", c.BookCreate).Name("books.create")
	books.Get("/", c.BookSearch).Name("books.search")
	books.Get("/author/:id", c.CatalogerBooks).Name("books.author")
	books.Put("/:id", c.BookUpdate).Name("books.update")
	books.Delete("/:id", c.BookDelete).Name("books.delete")

	reader := api.Group(c.Routes.Reader, protected)
	reader.Post("/books/borrow", c.BorrowPost).Name("reader.borrow")
	reader.Post("/books/return", c.ReturnPost).Name("reader.return")
	reader.Get("/books/:id", c.BorrowedBooks).Name("reader.books")
}

// SignupPayload is the signup request body
type SignupPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Validate will run validation rules
func (r SignupPayload) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	); err != nil {
		return validationError(err, "All fields are required: name, email, password")
	}

	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Length(6, 72)),
	); err != nil {
		return validationError(err, "")
	}
	return nil
}

func (a *LendingController) SignupPost(c *fiber.Ctx) error {
	payload := new(SignupPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return err
	}

	res, err := a.Signup.Execute(c.UserContext(), SignupMessage{
		Name:      strings.TrimSpace(payload.Name),
		Email:     payload.Email,
		Password:  payload.Password,
		Role:      payload.Role,
		UseHashid: a.UseHashid,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Signup successful",
		"user":    res.Identity.Summary(),
		"token":   res.Token,
	})
}

// LoginPayload is the login request body
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	); err != nil {
		return validationError(err, "All fields are required: email and password")
	}
	return nil
}

func (a *LendingController) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return err
	}

	token, identity, err := a.Auther.Login(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "Login successful",
		"token":   token,
		"user":    identity.Summary(),
	})
}

func (a *LendingController) SessionValidate(c *fiber.Ctx) error {
	claims, err := a.session(c)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "Session is valid",
		"user": fiber.Map{
			"id":   claims.GetIdentityID(),
			"role": claims.GetRole(),
		},
	})
}

// UpdateAccountPayload carries the fields a user may change
type UpdateAccountPayload struct {
	Name     *string `json:"name"`
	Password *string `json:"password"`
}

// Validate will run validation rules
func (r UpdateAccountPayload) Validate() error {
	if r.Name == nil && r.Password == nil {
		return withMessage(ErrValidation, "Nothing to update: provide name or password.")
	}

	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&r.Password, validation.NilOrNotEmpty, validation.Length(6, 72)),
	); err != nil {
		return validationError(err, "")
	}
	return nil
}

func (a *LendingController) AccountUpdate(c *fiber.Ctx) error {
	claims, err := a.session(c)
	if err != nil {
		return err
	}

	id, err := parseID(c.Params("id"), ErrIdentityNotFound)
	if err != nil {
		return err
	}

	payload := new(UpdateAccountPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return err
	}

	identity, err := a.UpdateAccount.Execute(c.UserContext(), claims, UpdateAccountMessage{
		ID:       id,
		Name:     payload.Name,
		Password: payload.Password,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "User details updated successfully.",
		"user":    identity.Summary(),
	})
}

func (a *LendingController) AccountDelete(c *fiber.Ctx) error {
	claims, err := a.session(c)
	if err != nil {
		return err
	}

	id, err := parseID(c.Params("id"), ErrIdentityNotFound)
	if err != nil {
		return err
	}

	if err := a.DeleteAccount.Execute(c.UserContext(), claims, DeleteAccountMessage{ID: id}); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "User account deleted successfully.",
	})
}

// CreateBookPayload is the book creation request body
type CreateBookPayload struct {
	Title string `json:"title"`
	Genre string `json:"genre"`
	Stock *int   `json:"stock"`
}

// Validate will run validation rules
func (r CreateBookPayload) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 300)),
		validation.Field(&r.Genre, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Stock, validation.NotNil, validation.Min(0)),
	); err != nil {
		return validationError(err, "All fields are required: title, genre, stock")
	}
	return nil
}

func (a *LendingController) BookCreate(c *fiber.Ctx) error {
	claims, err := a.session(c)
	if err != nil {
		return err
	}

	// role is checked before the body so a borrower never learns about fields
	if !claims.GetRole().CanCatalog() {
		return withMessage(ErrForbidden, "Not authorised to create Books")
	}

	payload := new(CreateBookPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return err
	}

	book, err := a.Catalog.CreateBook(c.UserContext(), claims, CreateBookMessage{
		Title: strings.TrimSpace(payload.Title),
		Genre: strings.TrimSpace(payload.Genre),
		Stock: *payload.Stock,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Book added successfully",
		"book":    book,
	})
}

func (a *LendingController) BookSearch(c *fiber.Ctx) error {
	claims, err := a.session(c)
	if err != nil {
		return err
	}

	books, err := a.Catalog.SearchBooks(c.UserContext(), claims, BookQuery{
		Title:         c.Query("title"),
		Genre:         c.Query("genre"),
		CatalogerName: c.Query("author"),
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "Books retrieved successfully",
		"books":   books,
	})
}

func (a *LendingController) CatalogerBooks(c *fiber.Ctx) error {
	claims, err := a.session(c)
	if err != nil {
		return err
	}

	if !claims.GetRole().CanCatalog() {
		return withMessage(ErrForbidden, "Only authors can access this route.")
	}

	id, err := parseID(c.Params("id"), ErrCatalogerNotFound)
	if err != nil {
		return err
	}

	res, err := a.Catalog.CatalogerBooks(c.UserContext(), claims, id)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message":                "Books retrieved successfully",
		"books":                  res.Books,
		"currentlyBorrowedBooks": res.CurrentlyBorrowedBooks,
	})
}

// UpdateBookPayload carries the book fields an owner may change
type UpdateBookPayload struct {
	Title *string `json:"title"`
	Genre *string `json:"genre"`
}

// Validate will run validation rules
func (r UpdateBookPayload) Validate() error {
	if r.Title == nil && r.Genre == nil {
		return withMessage(ErrValidation, "Nothing to update: provide title or genre.")
	}

	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.NilOrNotEmpty, validation.Length(1, 300)),
		validation.Field(&r.Genre, validation.NilOrNotEmpty, validation.Length(1, 100)),
	); err != nil {
		return validationError(err, "")
	}
	return nil
}

func (a *LendingController) BookUpdate(c *fiber.Ctx) error {
	claims, err := a.session(c)
	if err != nil {
		return err
	}

	id, err := parseID(c.Params("id"), ErrBookNotFound)
	if err != nil {
		return err
	}

	payload := new(UpdateBookPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return err
	}

	book, err := a.Catalog.UpdateBook(c.UserContext(), claims, UpdateBookMessage{
		ID:    id,
		Title: payload.Title,
		Genre: payload.Genre,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "Book updated successfully",
		"book":    book,
	})
}

func (a *LendingController) BookDelete(c *fiber.Ctx) error {
	claims, err := a.session(c)
	if err != nil {
		return err
	}

	id, err := parseID(c.Params("id"), ErrBookNotFound)
	if err != nil {
		return err
	}

	if err := a.Catalog.DeleteBook(c.UserContext(), claims, id); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "Book deleted successfully",
	})
}

// LendingPayload names the book to borrow or return
type LendingPayload struct {
	BookID string `json:"bookId"`
}

// Validate will run validation rules
func (r LendingPayload) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.BookID, validation.Required),
	); err != nil {
		return validationError(err, "bookId is required")
	}
	return nil
}

func (a *LendingController) BorrowPost(c *fiber.Ctx) error {
	claims, bookID, err := a.lendingRequest(c, "Only readers can borrow books.")
	if err != nil {
		return err
	}

	book, err := a.Engine.Borrow(c.UserContext(), claims, bookID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message":      "Book borrowed successfully",
		"borrowedBook": book,
	})
}

func (a *LendingController) ReturnPost(c *fiber.Ctx) error {
	claims, bookID, err := a.lendingRequest(c, "Only readers can return books.")
	if err != nil {
		return err
	}

	book, err := a.Engine.Return(c.UserContext(), claims, bookID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message":      "Book returned successfully",
		"returnedBook": book,
	})
}

func (a *LendingController) BorrowedBooks(c *fiber.Ctx) error {
	claims, err := a.session(c)
	if err != nil {
		return err
	}

	id, err := parseID(c.Params("id"), ErrBorrowerNotFound)
	if err != nil {
		return err
	}

	books, err := a.Engine.BorrowedBooks(c.UserContext(), claims, id)
	if err != nil {
		return err
	}

	if len(books) == 0 {
		return c.JSON(fiber.Map{
			"message":       "No borrowed books found.",
			"borrowedBooks": []*Book{},
		})
	}

	return c.JSON(fiber.Map{
		"message":       "Borrowed books retrieved successfully",
		"borrowedBooks": books,
	})
}

// lendingRequest checks the role before reading the body, so a cataloger
// gets 403 whatever it sends
func (a *LendingController) lendingRequest(c *fiber.Ctx, forbidden string) (*Claims, uuid.UUID, error) {
	claims, err := a.session(c)
	if err != nil {
		return nil, uuid.Nil, err
	}

	if !claims.GetRole().CanBorrow() {
		return nil, uuid.Nil, withMessage(ErrForbidden, forbidden)
	}

	payload := new(LendingPayload)
	if err := a.bind(c, payload); err != nil {
		return nil, uuid.Nil, err
	}

	if err := payload.Validate(); err != nil {
		return nil, uuid.Nil, err
	}

	bookID, err := parseID(payload.BookID, ErrBookNotFound)
	if err != nil {
		return nil, uuid.Nil, err
	}

	return claims, bookID, nil
}

func (a *LendingController) session(c *fiber.Ctx) (*Claims, error) {
	claims, ok := GetFiberClaims(c, a.Config.GetContextKey())
	if !ok {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

func (a *LendingController) bind(c *fiber.Ctx, payload any) error {
	if len(c.Body()) == 0 {
		return nil
	}

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Debug("parse payload", "path", c.Path(), "error", err)
		rich := withSource(ErrValidation, err)
		rich.Message = "Invalid request body"
		return rich
	}

	if a.Debug {
		a.Logger.Debug("request payload", "path", c.Path(), "payload", print.MaybePrettyJSON(redact(payload)))
	}
	return nil
}

func parseID(raw string, notFound *goerrors.Error) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, withMetadata(notFound, map[string]any{"id": raw})
	}
	return id, nil
}

// FormatValidationErrorToMap flattens ozzo field errors into field -> message
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}

	var fields validation.Errors
	if !goerrors.As(err, &fields) {
		if err != nil {
			out["_"] = err.Error()
		}
		return out
	}

	for field, ferr := range fields {
		if ferr != nil {
			out[field] = ferr.Error()
		}
	}
	return out
}

func validationError(err error, message string) error {
	if message == "" {
		message = err.Error()
	}

	fields := FormatValidationErrorToMap(err)
	md := make(map[string]any, len(fields))
	for k, v := range fields {
		md[k] = v
	}
	return withMessage(ErrValidation, message).WithMetadata(md)
}

// redact masks credentials before payloads are logged
func redact(payload any) any {
	switch p := payload.(type) {
	case *SignupPayload:
		cp := *p
		cp.Password = "***"
		return cp
	case *LoginPayload:
		cp := *p
		cp.Password = "***"
		return cp
	case *UpdateAccountPayload:
		cp := *p
		if cp.Password != nil {
			masked := "***"
			cp.Password = &masked
		}
		return cp
	default:
		return payload
	}
}
