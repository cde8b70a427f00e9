package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
	"github.com/Incrisz/school-nextjs-sub002/core/promotion"
	"github.com/Incrisz/school-nextjs-sub002/core/rollover"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Translator ut.Translator
		Metrics    *Metrics

		Periods   *academic.Service
		Planner   *rollover.Planner
		Promoter  *promotion.Engine
		Imports   *studentimport.Service
		Ledger    *ledger.Service
		Exporters Exporters
	}

	// Exporters render the downloadable documents.
	Exporters struct {
		CSV  core.TableExporter
		PDF  core.TableExporter
		XLSX core.TableExporter
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Server.ReadTimeout = conf.Server.ReadTimeout
	s.app.Server.WriteTimeout = conf.Server.WriteTimeout
	s.app.Debug = conf.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(s.deps.Metrics.Middleware())

	s.app.GET("/", home)

	api := s.app.Group("/api", middleware.JWTWithConfig(jwtConfig(conf)), actorMiddleware())
	registerSessionAPI(api, s.deps)
	registerPromotionAPI(api, s.deps)
	registerStudentImportAPI(api, s.deps)
}

// Start blocks until the server stops. Listen errors are sent to Errors().
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to the school API!")
}
