package echoapi

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
)

// reserved query params are never forwarded upstream
var reservedParams = map[string]bool{"userId": true, "ordering": true}

type (
	resourceRequest struct {
		Name     string `param:"name" json:"name" validate:"required,alphanum"`
		Ordering string `query:"ordering" json:"ordering" validate:"omitempty,ordering"` // "field" | "-field"
		Params   fetch.Params
	}

	dashboardRequest struct {
		Domain string `param:"domain" json:"domain" validate:"required,alpha"`
	}
)

// Bind reads the path and query params; the caller's id always comes from their token.
func (r *resourceRequest) Bind(ctx echo.Context, userID string) {
	r.Name = core.CleanString(ctx.Param("name"))
	r.Ordering = core.CleanString(ctx.QueryParam("ordering"))
	r.Params = fetch.Params{"userId": userID}
	for key, values := range ctx.QueryParams() {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		if v := core.CleanString(strings.Join(values, ",")); v != "" {
			r.Params[key] = v
		}
	}
}

func (r resourceRequest) Validate(validate *validator.Validate) error {
	return errors.Wrap(validate.Struct(r), "validating resource request")
}

// OrderBy returns the requested ordering, if any.
func (r resourceRequest) OrderBy() (core.DBOrdering, bool) {
	return core.ParseOrdering(r.Ordering)
}

func (r *dashboardRequest) Bind(ctx echo.Context) {
	r.Domain = core.CleanString(ctx.Param("domain"), true)
}

func (r dashboardRequest) Validate(validate *validator.Validate) error {
	return errors.Wrap(validate.Struct(r), "validating dashboard request")
}
