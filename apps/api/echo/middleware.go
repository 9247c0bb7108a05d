package echoapi

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
)

// viewHeader lets a client tell its views (e.g. browser tabs) apart.
const viewHeader = "X-View-ID"

// forwardBearerMiddleware carries the caller's own token into the request context,
// so upstream services are called on their behalf.
func forwardBearerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		token, err := getContextToken(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context token")
		}
		req := ctx.Request()
		ctx.SetRequest(req.WithContext(fetch.WithBearer(req.Context(), token.Raw)))
		return next(ctx)
	}
}

// newViewScopeMiddleware scopes fetches to the caller's view, "<subject>" or "<subject>/<view id>":
// a newer request from the same view supersedes an older one, other callers never do.
func newViewScopeMiddleware(validate *validator.Validate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}

			scope := claims.Subject
			if view := core.CleanString(ctx.Request().Header.Get(viewHeader)); view != "" {
				if err = validate.Var(view, "max=64,printascii"); err != nil {
					return core.NewValidationError(
						errors.Wrapf(err, "invalid %s header", viewHeader),
						core.FieldError{Field: viewHeader, Error: "must be at most 64 printable ASCII characters"},
					)
				}
				scope += "/" + view
			}

			req := ctx.Request()
			ctx.SetRequest(req.WithContext(fetch.WithScope(req.Context(), scope)))
			return next(ctx)
		}
	}
}
