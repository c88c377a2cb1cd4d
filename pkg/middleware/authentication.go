package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

const verifyTimeout = 5 * time.Second

type UserClaims struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

// Actor is the name recorded on jobs and import records for these claims
func (c UserClaims) Actor() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.Sub
}

// TokenVerifier checks a raw bearer token and decodes its claims
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (UserClaims, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v oidcVerifier) Verify(ctx context.Context, raw string) (UserClaims, error) {
	var claims UserClaims
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return claims, err
	}
	if err := idToken.Claims(&claims); err != nil {
		return claims, fmt.Errorf("cannot parse claims: %w", err)
	}
	return claims, nil
}

// NewOIDCVerifier discovers the issuer and returns a verifier for clientID tokens
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return oidcVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func Authentication(logger ectologger.Logger, verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx, span := tracing.StartSpan(ctx, "middleware.Authentication")
			defer span.End()

			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
			defer cancel()

			claims, err := verifier.Verify(verifyCtx, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("token is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx = lichenctx.SetActor(ctx, claims.Actor())
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
