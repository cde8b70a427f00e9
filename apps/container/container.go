package container

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
	"github.com/Incrisz/school-nextjs-sub002/core/promotion"
	"github.com/Incrisz/school-nextjs-sub002/core/rollover"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
	emailsvc "github.com/Incrisz/school-nextjs-sub002/services/email"
	"github.com/Incrisz/school-nextjs-sub002/services/export"
	"github.com/Incrisz/school-nextjs-sub002/services/filestore"
	lockersvc "github.com/Incrisz/school-nextjs-sub002/services/locker"
	logsvc "github.com/Incrisz/school-nextjs-sub002/services/logger"
	"github.com/Incrisz/school-nextjs-sub002/services/spreadsheet"
	"github.com/Incrisz/school-nextjs-sub002/storage/database"
	inmemdb "github.com/Incrisz/school-nextjs-sub002/storage/database/inmem"
	sqlxrepos "github.com/Incrisz/school-nextjs-sub002/storage/database/sqlx"
)

const (
	// EngineMemory keeps every table in memory, for demos and local runs without postgres.
	EngineMemory = "memory"

	lockWait = 5 * time.Second
)

type (
	// Container holds the services shared by the API server and the admin commands.
	Container struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator

		Periods  *academic.Service
		Ledger   *ledger.Service
		Planner  *rollover.Planner
		Promoter *promotion.Engine
		Imports  *studentimport.Service

		closers []func() error
	}

	repositories struct {
		tx        core.Transactor
		academic  academic.Repository
		students  student.Repository
		overrides student.SubjectOverrides
		ledger    ledger.Repository
		batches   studentimport.Repository
	}
)

// New wires every service from conf. Close releases the connections it opened.
func New(ctx context.Context, conf *core.Config, logger core.Logger) (*Container, error) {
	c := &Container{Conf: conf, Logger: logger}
	c.Validate, c.Translator = core.NewValidator()

	repos, err := c.newRepositories()
	if err != nil {
		c.Close()
		return nil, err
	}
	locker, err := c.newLocker(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	files, err := newFileStore(conf)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Periods = academic.NewService(repos.academic, repos.tx, c.Validate)
	c.Ledger = ledger.NewService(repos.ledger)
	c.Planner = rollover.NewPlanner(c.Periods, c.Ledger, repos.tx, locker, c.Validate)
	c.Promoter = promotion.NewEngine(c.Periods, repos.students, repos.overrides, c.Ledger, repos.tx, c.Validate)
	c.Imports = studentimport.NewService(&studentimport.ServiceDeps{
		Repo:       repos.batches,
		Periods:    c.Periods,
		Students:   repos.students,
		Tx:         repos.tx,
		Locker:     locker,
		Files:      files,
		Decoder:    spreadsheet.NewDecoder(),
		Reporter:   export.CSVExporter{},
		MailSvc:    newEmailService(conf, logger),
		Logger:     logger,
		Validate:   c.Validate,
		Translator: c.Translator,
	}, studentimport.Options{
		BatchTTL: conf.Import.BatchTTL,
		MaxRows:  conf.Import.MaxRows,
		From:     conf.DefaultFromEmail(),
	})
	return c, nil
}

// Close runs the closers in reverse order and logs their failures.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Error(fmt.Sprintf("closing container: %v", err), err)
		}
	}
	c.closers = nil
}

func (c *Container) newRepositories() (repositories, error) {
	if c.Conf.Database.Engine == EngineMemory {
		c.Logger.Warn("using the in-memory store: nothing will be persisted")
		db := inmemdb.Open()
		return repositories{
			tx:        db,
			academic:  inmemdb.NewAcademicRepository(db),
			students:  inmemdb.NewStudentRepository(db),
			overrides: inmemdb.NewSubjectOverrides(db),
			ledger:    inmemdb.NewLedgerRepository(db),
			batches:   inmemdb.NewBatchRepository(db),
		}, nil
	}

	db, err := SetUpDB(c.Conf)
	if err != nil {
		return repositories{}, errors.Wrap(err, "setting up database")
	}
	dbLogger := NewLogger(c.Conf, "DB : ")
	c.closers = append(c.closers, func() error {
		if err := db.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
			return err
		}
		return nil
	})

	return repositories{
		tx:        database.NewTransactor(db),
		academic:  sqlxrepos.NewAcademicRepository(db),
		students:  sqlxrepos.NewStudentRepository(db),
		overrides: sqlxrepos.NewSubjectOverrides(db),
		ledger:    sqlxrepos.NewLedgerRepository(db),
		batches:   sqlxrepos.NewBatchRepository(db),
	}, nil
}

// newLocker shares locks through redis when configured, so that several API replicas exclude each other.
func (c *Container) newLocker(ctx context.Context) (core.Locker, error) {
	if c.Conf.Redis.URL == "" {
		return lockersvc.NewLocalLocker(lockWait), nil
	}
	client, err := lockersvc.NewRedisClient(ctx, c.Conf.Redis.URL)
	if err != nil {
		return nil, errors.Wrap(err, "setting up redis")
	}
	c.closers = append(c.closers, client.Close)
	return lockersvc.NewRedisLocker(client, c.Conf.Redis.LockTTL, lockWait, c.Logger), nil
}

func newFileStore(conf *core.Config) (core.FileStore, error) {
	switch {
	case conf.Storage.Bucket != "":
		return filestore.NewS3Store(conf.Storage)
	case conf.Storage.LocalDir != "":
		return filestore.NewDiskStore(conf.Storage.LocalDir)
	default:
		return filestore.NewMemoryStore(), nil
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(log.New(os.Stdout, "MAIL : ", log.LstdFlags), conf.AppName, conf.DefaultFromEmail())
	}
	return emailsvc.NewSendgridService(conf.SendgridApiKey, conf.AppName, conf.DefaultFromEmail(), logger)
}

// NewLogger returns a rollbar logger printing to stdout with prefix.
func NewLogger(conf *core.Config, prefix string) core.Logger {
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(conf.RollbarToken != "" && !conf.Debug)
	return logger
}

// SetUpDB creates the database if needed, connects to it and applies the pending migrations.
func SetUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
