package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	echoapi "github.com/Incrisz/school-nextjs-sub002/apps/api/echo"
	"github.com/Incrisz/school-nextjs-sub002/apps/container"
	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
	"github.com/Incrisz/school-nextjs-sub002/services/export"
	"github.com/Incrisz/school-nextjs-sub002/services/spreadsheet"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()
	logger := container.NewLogger(conf, "API : ")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := container.New(ctx, conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up dependencies: %v", err), err)
	}
	defer c.Close()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := echoapi.NewMetrics(registry)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /debug/metrics - The prometheus collectors of the process.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/debug/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Import Reaper

	reaper := studentimport.NewReaper(c.Imports, conf.Import.ReapInterval, logger)
	reaper.OnReap = metrics.ReapHook
	go func() {
		if err := reaper.Run(ctx); err != nil && err != context.Canceled {
			logger.Error(fmt.Sprintf("import reaper stopped: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			Translator: c.Translator,
			Metrics:    metrics,
			Periods:    c.Periods,
			Planner:    c.Planner,
			Promoter:   c.Promoter,
			Imports:    c.Imports,
			Ledger:     c.Ledger,
			Exporters: echoapi.Exporters{
				CSV:  export.CSVExporter{},
				PDF:  export.PDFExporter{Author: conf.AppName},
				XLSX: spreadsheet.XLSXExporter{},
			},
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		cancel()

		// give outstanding requests a deadline for completion
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancelShutdown()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(shutdownCtx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
