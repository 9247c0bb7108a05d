package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
)

type (
	resourceApi struct {
		fetcher  ResourceFetcher
		validate *validator.Validate
	}

	resourceResponse struct {
		Resource string         `json:"resource"`
		Source   string         `json:"source"`
		Shape    string         `json:"shape"`
		Degraded bool           `json:"degraded"`
		Count    int            `json:"count"`
		Data     []fetch.Record `json:"data"`
	}
)

func registerResourceAPI(g *echo.Group, fetcher ResourceFetcher, validate *validator.Validate, mws ...echo.MiddlewareFunc) {
	api := resourceApi{fetcher: fetcher, validate: validate}

	rg := g.Group("/resources", mws...)
	rg.GET("", api.list)
	rg.GET("/:name", api.retrieve)
}

// Handlers

func (api *resourceApi) list(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.fetcher.Resources().Names())
}

// retrieve always answers 200 with the (possibly empty) records; `degraded` tells whether they
// came from the secondary store or nowhere.
func (api *resourceApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var req resourceRequest
	req.Bind(ctx, claims.Subject)
	if err = req.Validate(api.validate); err != nil {
		return err
	}
	if _, err = api.fetcher.Resources().Get(req.Name); err != nil {
		return err
	}

	res := api.fetcher.FetchResource(ctx.Request().Context(), req.Name, req.Params)
	if res.Stale || core.IsShutdown(res.Err) {
		return res.Err
	}
	if ord, ok := req.OrderBy(); ok {
		fetch.SortRecords(res.Records, ord)
	}
	return ctx.JSON(http.StatusOK, resourceResponse{
		Resource: res.Resource,
		Source:   res.Source.String(),
		Shape:    res.Shape.String(),
		Degraded: res.Degraded(),
		Count:    len(res.Records),
		Data:     res.Records,
	})
}
