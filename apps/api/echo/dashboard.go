package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type dashboardApi struct {
	svc      DashboardService
	validate *validator.Validate
}

func registerDashboardAPI(g *echo.Group, svc DashboardService, validate *validator.Validate, mws ...echo.MiddlewareFunc) {
	api := dashboardApi{svc: svc, validate: validate}

	dg := g.Group("/dashboard", mws...)
	dg.GET("", api.list)
	dg.GET("/:domain", api.retrieve)
}

// Handlers

func (api *dashboardApi) list(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Domains())
}

func (api *dashboardApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var req dashboardRequest
	req.Bind(ctx)
	if err = req.Validate(api.validate); err != nil {
		return err
	}

	dash, err := api.svc.View(ctx.Request().Context(), req.Domain, claims.Subject)
	if err != nil {
		return errors.Wrapf(err, "building %s dashboard", req.Domain)
	}
	return ctx.JSON(http.StatusOK, dash)
}
