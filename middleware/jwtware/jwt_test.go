package jwtware_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-lending/middleware/jwtware"
)

var signingKey = []byte("test-secret-0123456789")

type testClaims struct {
	jwt.RegisteredClaims
}

func (c *testClaims) GetIdentityID() uuid.UUID {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil
	}
	return id
}

type ctxKey struct{}

func generateToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString(signingKey)
	require.NoError(t, err)
	return signed
}

func validator() jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
		claims := &testClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return signingKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}

func newApp(cfg jwtware.Config) *fiber.App {
	app := fiber.New()
	app.Use(jwtware.New(cfg))
	app.Get("/protected", func(c *fiber.Ctx) error {
		claims, ok := c.Locals("session").(jwtware.AuthClaims)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(claims.GetIdentityID().String())
	})
	app.Get("/public", func(c *fiber.Ctx) error {
		return c.SendString("open")
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, target, authorization string) (int, string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func TestAccessGuard_BearerHeader(t *testing.T) {
	id := uuid.New()
	app := newApp(jwtware.Config{TokenValidator: validator()})

	t.Run("valid token reaches handler", func(t *testing.T) {
		status, body := doRequest(t, app, "/protected", "Bearer "+generateToken(t, id.String(), time.Now().Add(time.Hour)))
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, id.String(), body)
	})

	t.Run("scheme is case insensitive", func(t *testing.T) {
		status, _ := doRequest(t, app, "/protected", "bearer "+generateToken(t, id.String(), time.Now().Add(time.Hour)))
		assert.Equal(t, fiber.StatusOK, status)
	})

	t.Run("missing header", func(t *testing.T) {
		status, body := doRequest(t, app, "/protected", "")
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.JSONEq(t, `{"message":"Not authenticated"}`, body)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		status, _ := doRequest(t, app, "/protected", "Basic "+generateToken(t, id.String(), time.Now().Add(time.Hour)))
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("scheme without token", func(t *testing.T) {
		status, _ := doRequest(t, app, "/protected", "Bearer ")
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("malformed token", func(t *testing.T) {
		status, body := doRequest(t, app, "/protected", "Bearer malformed.token.structure")
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.JSONEq(t, `{"message":"Invalid or expired token"}`, body)
	})

	t.Run("expired token", func(t *testing.T) {
		status, _ := doRequest(t, app, "/protected", "Bearer "+generateToken(t, id.String(), time.Now().Add(-time.Hour)))
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("token without identity", func(t *testing.T) {
		status, _ := doRequest(t, app, "/protected", "Bearer "+generateToken(t, "not-a-uuid", time.Now().Add(time.Hour)))
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})
}

func TestAccessGuard_CustomTokenLookup(t *testing.T) {
	id := uuid.New()
	app := newApp(jwtware.Config{
		TokenValidator: validator(),
		TokenLookup:    "header:Authorization,query:token,cookie:jwt",
	})
	token := generateToken(t, id.String(), time.Now().Add(time.Hour))

	t.Run("query", func(t *testing.T) {
		status, body := doRequest(t, app, "/protected?token="+token, "")
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, id.String(), body)
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.AddCookie(&http.Cookie{Name: "jwt", Value: token})
		res, err := app.Test(req, -1)
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, fiber.StatusOK, res.StatusCode)
	})
}

func TestAccessGuard_Filter(t *testing.T) {
	app := newApp(jwtware.Config{
		TokenValidator: validator(),
		Filter: func(c *fiber.Ctx) bool {
			return c.Path() == "/public"
		},
	})

	status, body := doRequest(t, app, "/public", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "open", body)

	status, _ = doRequest(t, app, "/protected", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestAccessGuard_ContextEnricherAndListeners(t *testing.T) {
	id := uuid.New()
	token := generateToken(t, id.String(), time.Now().Add(time.Hour))

	t.Run("enricher propagates claims", func(t *testing.T) {
		app := fiber.New()
		app.Use(jwtware.New(jwtware.Config{
			TokenValidator: validator(),
			ContextEnricher: func(ctx context.Context, claims jwtware.AuthClaims) context.Context {
				return context.WithValue(ctx, ctxKey{}, claims)
			},
		}))
		app.Get("/protected", func(c *fiber.Ctx) error {
			claims, ok := c.UserContext().Value(ctxKey{}).(jwtware.AuthClaims)
			if !ok {
				return c.SendStatus(fiber.StatusInternalServerError)
			}
			return c.SendString(claims.GetIdentityID().String())
		})

		status, body := doRequest(t, app, "/protected", "Bearer "+token)
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, id.String(), body)
	})

	t.Run("listener can reject", func(t *testing.T) {
		app := newApp(jwtware.Config{
			TokenValidator: validator(),
			ValidationListeners: []jwtware.ValidationListener{
				func(c *fiber.Ctx, claims jwtware.AuthClaims) error {
					return errors.New("revoked")
				},
			},
		})

		status, _ := doRequest(t, app, "/protected", "Bearer "+token)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("custom error handler", func(t *testing.T) {
		app := newApp(jwtware.Config{
			TokenValidator: validator(),
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				return c.Status(fiber.StatusTeapot).SendString(err.Error())
			},
		})

		status, body := doRequest(t, app, "/protected", "")
		assert.Equal(t, fiber.StatusTeapot, status)
		assert.Equal(t, jwtware.ErrJWTMissingOrMalformed.Error(), body)
	})
}

func TestAccessGuard_RequiresValidator(t *testing.T) {
	assert.Panics(t, func() {
		jwtware.New(jwtware.Config{})
	})
}
