package echoapi

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
	"github.com/Incrisz/school-nextjs-sub002/core/promotion"
)

// Export response headers
const (
	HeaderTotalCount      = "X-Total-Count"
	HeaderExportTruncated = "X-Export-Truncated"
)

type promotionApi struct {
	promoter  *promotion.Engine
	ledger    *ledger.Service
	exporters Exporters
	metrics   *Metrics
}

func registerPromotionAPI(g *echo.Group, deps ServerDeps) {
	api := promotionApi{
		promoter:  deps.Promoter,
		ledger:    deps.Ledger,
		exporters: deps.Exporters,
		metrics:   deps.Metrics,
	}

	pg := g.Group("/promotions")
	pg.POST("/bulk", api.bulkPromote)
	pg.GET("/history", api.history)
	pg.GET("/history/export.csv", api.export(api.exporters.CSV))
	pg.GET("/history/export.pdf", api.export(api.exporters.PDF))
}

// Handlers

func (api *promotionApi) bulkPromote(ctx echo.Context) error {
	var data promotion.Request
	if err := bindJSON(ctx, &data); err != nil {
		return err
	}

	res, err := api.promoter.Promote(ctx.Request().Context(), data, actorOf(ctx))
	api.metrics.Promotions.WithLabelValues("promoted").Add(float64(res.Promoted))
	api.metrics.Promotions.WithLabelValues("skipped").Add(float64(res.Skipped))
	if err != nil {
		return errors.Wrap(err, "promoting students")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *promotionApi) history(ctx echo.Context) error {
	page, err := api.ledger.History(ctx.Request().Context(), bindLedgerFilter(ctx), bindPagination(ctx))
	if err != nil {
		return errors.Wrap(err, "querying promotion history")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *promotionApi) export(exporter core.TableExporter) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		buf := new(bytes.Buffer)
		res, err := api.ledger.Export(ctx.Request().Context(), bindLedgerFilter(ctx), exporter, buf)
		if err != nil {
			return errors.Wrap(err, "exporting promotion history")
		}
		ctx.Response().Header().Set(HeaderTotalCount, strconv.Itoa(res.Total))
		if res.Truncated() {
			ctx.Response().Header().Set(HeaderExportTruncated, "true")
		}
		return attachment(ctx, exporter, "promotion-history", buf)
	}
}
