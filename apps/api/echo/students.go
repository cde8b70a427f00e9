package echoapi

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
)

type studentImportApi struct {
	svc       *studentimport.Service
	exporters Exporters
	metrics   *Metrics
}

func registerStudentImportAPI(g *echo.Group, deps ServerDeps) {
	api := studentImportApi{
		svc:       deps.Imports,
		exporters: deps.Exporters,
		metrics:   deps.Metrics,
	}

	bg := g.Group("/students/bulk")
	bg.GET("/template", api.template)
	bg.POST("/preview", api.preview, uploadLimit(deps.Conf.Import.MaxUploadSize))
	bg.GET("/:batch_id", api.retrieve)
	bg.GET("/:batch_id/errors.csv", api.errorReport)
	bg.POST("/:batch_id/commit", api.commit)
	bg.DELETE("/:batch_id", api.discard)
}

// Handlers

func (api *studentImportApi) template(ctx echo.Context) error {
	exporter := api.exporters.CSV
	if ctx.QueryParam("format") == "xlsx" {
		exporter = api.exporters.XLSX
	}

	buf := new(bytes.Buffer)
	if err := exporter.Export(buf, studentimport.Template()); err != nil {
		return errors.Wrap(err, "rendering import template")
	}
	return attachment(ctx, exporter, "student-import-template", buf)
}

func (api *studentImportApi) preview(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return errFileRequired
	}
	file, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer func() { _ = file.Close() }()

	batch, err := api.svc.Preview(ctx.Request().Context(), studentimport.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Body:        file,
	}, actorOf(ctx))
	if err != nil {
		return errors.Wrap(err, "previewing import")
	}
	api.metrics.ImportBatches.WithLabelValues("staged").Inc()
	return ctx.JSON(http.StatusCreated, batch)
}

func (api *studentImportApi) retrieve(ctx echo.Context) error {
	batch, err := api.svc.Get(ctx.Request().Context(), ctx.Param("batch_id"))
	if err != nil {
		return errors.Wrap(err, "getting import batch")
	}
	return ctx.JSON(http.StatusOK, batch)
}

func (api *studentImportApi) errorReport(ctx echo.Context) error {
	batchID := ctx.Param("batch_id")
	buf := new(bytes.Buffer)
	if err := api.svc.ErrorReport(ctx.Request().Context(), batchID, api.exporters.CSV, buf); err != nil {
		return errors.Wrap(err, "rendering error report")
	}
	return attachment(ctx, api.exporters.CSV, "import-"+batchID+"-errors", buf)
}

func (api *studentImportApi) commit(ctx echo.Context) error {
	res, err := api.svc.Commit(ctx.Request().Context(), ctx.Param("batch_id"), actorOf(ctx))
	if err != nil {
		return errors.Wrap(err, "committing import")
	}
	api.metrics.ImportBatches.WithLabelValues("committed").Inc()
	api.metrics.ImportedStudents.Add(float64(res.Created))
	return ctx.JSON(http.StatusOK, res)
}

func (api *studentImportApi) discard(ctx echo.Context) error {
	if err := api.svc.Discard(ctx.Request().Context(), ctx.Param("batch_id"), actorOf(ctx)); err != nil {
		return errors.Wrap(err, "discarding import")
	}
	api.metrics.ImportBatches.WithLabelValues("discarded").Inc()
	return ctx.NoContent(http.StatusNoContent)
}
