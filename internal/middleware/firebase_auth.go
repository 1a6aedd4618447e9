package middleware

import (
	"context"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/anonto42/nano-midea/engagement/internal/apperrors"
	"github.com/labstack/echo/v4"
)

// ActorIDKey is the echo context key holding the authenticated actor id
const ActorIDKey = "actorID"

// TokenVerifier verifies Firebase ID tokens; *auth.Client satisfies it
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseAuthMiddleware creates an Echo middleware to verify Firebase ID tokens
func FirebaseAuthMiddleware(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			idToken, err := bearerToken(c)
			if err != nil {
				return err
			}

			token, err := verifier.VerifyIDToken(c.Request().Context(), idToken)
			if err != nil {
				return apperrors.Unauthorized("invalid or expired ID token")
			}

			c.Set(ActorIDKey, token.UID)
			c.Set("firebaseToken", token)

			return next(c)
		}
	}
}

// ActorID returns the authenticated actor id, or "" when the request is anonymous
func ActorID(c echo.Context) string {
	id, _ := c.Get(ActorIDKey).(string)
	return id
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", apperrors.Unauthorized("authorization header is missing")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", apperrors.Unauthorized("authorization header must be in Bearer format")
	}
	return parts[1], nil
}
