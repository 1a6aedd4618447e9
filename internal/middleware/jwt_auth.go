package middleware

import (
	"github.com/anonto42/nano-midea/engagement/internal/apperrors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ActorClaims are the claims of a locally issued token; the actor is the subject
type ActorClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthMiddleware checks for a valid HMAC-signed JWT and uses its subject as the actor id
func JWTAuthMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, err := bearerToken(c)
			if err != nil {
				return err
			}

			claims := &ActorClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}))
			if err != nil || !token.Valid {
				return apperrors.Unauthorized("invalid token")
			}
			if claims.Subject == "" {
				return apperrors.Unauthorized("token has no subject")
			}

			c.Set(ActorIDKey, claims.Subject)
			c.Set("user", claims)

			return next(c)
		}
	}
}
