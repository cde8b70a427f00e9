package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
	"github.com/Incrisz/school-nextjs-sub002/core/rollover"
)

type sessionApi struct {
	periods *academic.Service
	planner *rollover.Planner
	ledger  *ledger.Service
	metrics *Metrics
}

func registerSessionAPI(g *echo.Group, deps ServerDeps) {
	api := sessionApi{
		periods: deps.Periods,
		planner: deps.Planner,
		ledger:  deps.Ledger,
		metrics: deps.Metrics,
	}

	sg := g.Group("/sessions")
	sg.GET("/:id/terms", api.terms)
	sg.POST("/rollover/preview", api.previewRollover)
	sg.POST("/rollover", api.commitRollover)
	sg.GET("/rollovers", api.rollovers)
}

// Handlers

func (api *sessionApi) terms(ctx echo.Context) error {
	terms, err := api.periods.ListTerms(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing terms")
	}
	return ctx.JSON(http.StatusOK, terms)
}

func (api *sessionApi) previewRollover(ctx echo.Context) error {
	var data rollover.PreviewRequest
	if err := bindJSON(ctx, &data); err != nil {
		return err
	}

	proposal, err := api.planner.Preview(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "previewing rollover")
	}
	return ctx.JSON(http.StatusOK, proposal)
}

func (api *sessionApi) commitRollover(ctx echo.Context) error {
	var data rollover.CommitRequest
	if err := bindJSON(ctx, &data); err != nil {
		return err
	}

	res, err := api.planner.Commit(ctx.Request().Context(), data, actorOf(ctx))
	if err != nil {
		return errors.Wrap(err, "committing rollover")
	}
	api.metrics.Rollovers.Inc()
	return ctx.JSON(http.StatusCreated, res)
}

func (api *sessionApi) rollovers(ctx echo.Context) error {
	page, err := api.ledger.Rollovers(ctx.Request().Context(), ctx.QueryParam("source_session_id"), bindPagination(ctx))
	if err != nil {
		return errors.Wrap(err, "querying rollovers")
	}
	return ctx.JSON(http.StatusOK, page)
}
