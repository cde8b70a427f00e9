package echoapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
)

// bindPagination reads `page` and `page_size`; malformed values fall back to the defaults.
func bindPagination(ctx echo.Context) core.Pagination {
	var pag core.Pagination
	pag.Page, _ = strconv.Atoi(ctx.QueryParam("page"))
	pag.PageSize, _ = strconv.Atoi(ctx.QueryParam("page_size"))
	pag.Clean()
	return pag
}

func bindLedgerFilter(ctx echo.Context) ledger.Filter {
	filter := ledger.Filter{
		SessionID:     ctx.QueryParam("session_id"),
		TermID:        ctx.QueryParam("term_id"),
		SchoolClassID: ctx.QueryParam("school_class_id"),
	}
	filter.Clean()
	return filter
}

// bindJSON decodes the request body into data. Decoding failures are structural, never a 500.
func bindJSON(ctx echo.Context, data interface{}) error {
	if err := ctx.Bind(data); err != nil {
		return core.NewStructuralError(errors.New("malformed request body"))
	}
	return nil
}

// attachment sends buf as a downloadable file named after the exporter's extension.
func attachment(ctx echo.Context, exporter core.TableExporter, name string, buf *bytes.Buffer) error {
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name+exporter.Extension()))
	return ctx.Blob(http.StatusOK, exporter.ContentType(), buf.Bytes())
}
