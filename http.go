package lending

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	jsoniter "github.com/json-iterator/go"

	"github.com/goliatone/go-lending/middleware/jwtware"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AppOptions tune the fiber application built by NewApp
type AppOptions struct {
	Name         string
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
}

// NewApp builds a fiber app with the JSON codec and error mapping used by
// every route
func NewApp(logger Logger, opts AppOptions) *fiber.App {
	if opts.Name == "" {
		opts.Name = "lending"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 15 * time.Second
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = 1 << 20
	}

	return fiber.New(fiber.Config{
		AppName:               opts.Name,
		DisableStartupMessage: true,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		BodyLimit:             opts.BodyLimit,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          NewErrorHandler(logger, opts.Debug),
	})
}

// NewErrorHandler maps errors to a `{message}` body. Unexpected failures
// are logged and sent as an opaque server error.
func NewErrorHandler(logger Logger, debug bool) fiber.ErrorHandler {
	logger = resolveLogger("lending.http", logger)

	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if goerrors.As(err, &fiberErr) {
			message := fiberErr.Message
			if fiberErr.Code >= fiber.StatusInternalServerError {
				logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
				message = ErrServer.Message
			}
			return c.Status(fiberErr.Code).JSON(fiber.Map{"message": message})
		}

		status := StatusCode(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		}

		var richErr *goerrors.Error
		if debug && goerrors.As(err, &richErr) && len(richErr.Metadata) > 0 {
			logger.Debug("request error details",
				"path", c.Path(),
				"text_code", richErr.TextCode,
				"details", print.MaybePrettyJSON(richErr.Metadata),
			)
		}

		return c.Status(status).JSON(fiber.Map{"message": PublicMessage(err)})
	}
}

// ProtectedRoute returns the access guard for routes that need a session.
// Verified claims are stored in Locals and in the user context. Listeners
// run after verification and may reject the request.
func ProtectedRoute(cfg Config, verifier TokenVerifier, listeners ...ValidationListener) fiber.Handler {
	guard := jwtware.Config{
		ContextKey:      cfg.GetContextKey(),
		TokenLookup:     cfg.GetTokenLookup(),
		AuthScheme:      cfg.GetAuthScheme(),
		TokenValidator:  tokenValidator(verifier),
		ContextEnricher: ContextEnricherAdapter,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if goerrors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				return ErrUnauthenticated
			}
			var rich *goerrors.Error
			if goerrors.As(err, &rich) && rich.Category != goerrors.CategoryAuth {
				return err
			}
			rich := withSource(ErrUnauthenticated, err)
			rich.Message = "Invalid or expired token. Please log in again."
			return rich
		},
	}
	RegisterValidationListeners(&guard, listeners...)
	return jwtware.New(guard)
}

func tokenValidator(verifier TokenVerifier) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
		claims, err := verifier.Verify(raw)
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}

// Pinger reports storage availability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers 200 while storage responds, 503 otherwise
func HealthHandler(db Pinger, logger Logger) fiber.Handler {
	logger = resolveLogger("lending.http", logger)
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			logger.Warn("health check failed", "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	}
}
