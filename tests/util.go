package testutil

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
	"github.com/Incrisz/school-nextjs-sub002/services/logger"
	"github.com/Incrisz/school-nextjs-sub002/storage/database/inmem"
)

// Store is an in-memory store with the services every package test needs.
type Store struct {
	DB         *inmemdb.DB
	Validate   *validator.Validate
	Translator ut.Translator

	AcademicRepo academic.Repository
	Students     student.Repository
	Overrides    *inmemdb.SubjectOverrides
	LedgerRepo   ledger.Repository
	Batches      studentimport.Repository

	Periods *academic.Service
	Ledger  *ledger.Service
}

func NewStore() *Store {
	db := inmemdb.Open()
	validate, translator := core.NewValidator()
	s := &Store{
		DB:           db,
		Validate:     validate,
		Translator:   translator,
		AcademicRepo: inmemdb.NewAcademicRepository(db),
		Students:     inmemdb.NewStudentRepository(db),
		Overrides:    inmemdb.NewSubjectOverrides(db),
		LedgerRepo:   inmemdb.NewLedgerRepository(db),
		Batches:      inmemdb.NewBatchRepository(db),
	}
	s.Periods = academic.NewService(s.AcademicRepo, db, validate)
	s.Ledger = ledger.NewService(s.LedgerRepo)
	return s
}

func Date(s string) time.Time {
	d, err := academic.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// CreateSession creates a session spanning [start, end) with one term per `terms` entry: {name, start, end}.
func CreateSession(t *testing.T, s *Store, name, start, end string, terms ...[3]string) (academic.Session, []academic.Term) {
	ctx := context.Background()
	sess, err := s.Periods.CreateSession(ctx, academic.NewSession{Name: name, StartDate: start, EndDate: end})
	if err != nil {
		t.Fatalf("createSession() failed: %v", err)
	}
	created := make([]academic.Term, 0, len(terms))
	for _, term := range terms {
		tm, err := s.Periods.CreateTerm(ctx, academic.NewTerm{SessionID: sess.ID, Name: term[0], StartDate: term[1], EndDate: term[2]})
		if err != nil {
			t.Fatalf("createTerm() failed: %v", err)
		}
		created = append(created, tm)
	}
	return sess, created
}

// CreatePlacement creates a class with an arm and, if sectionName is not empty, a section.
// The class and arm are reused when they already exist.
func CreatePlacement(t *testing.T, s *Store, className, armName, sectionName string) academic.ResolvedPlacement {
	ctx := context.Background()
	var rp academic.ResolvedPlacement
	var err error

	if rp.Class, err = s.AcademicRepo.GetClassByName(ctx, className); err != nil {
		if rp.Class, err = s.Periods.CreateClass(ctx, className); err != nil {
			t.Fatalf("createClass() failed: %v", err)
		}
	}
	if rp.Arm, err = s.AcademicRepo.GetArmByName(ctx, rp.Class.ID, armName); err != nil {
		if rp.Arm, err = s.Periods.CreateArm(ctx, rp.Class.ID, armName); err != nil {
			t.Fatalf("createArm() failed: %v", err)
		}
	}
	if sectionName != "" {
		sec, err := s.Periods.CreateSection(ctx, rp.Arm.ID, sectionName)
		if err != nil {
			t.Fatalf("createSection() failed: %v", err)
		}
		rp.Section = &sec
	}
	return rp
}

func CreateStudent(
	t *testing.T,
	s *Store,
	admissionNo, firstName, lastName string,
	p academic.Placement,
	sessionID string,
	status ...string,
) student.Student {
	now := core.NowFunc()
	st := student.Student{
		ID:               uuid.New().String(),
		AdmissionNo:      admissionNo,
		FirstName:        firstName,
		LastName:         lastName,
		Placement:        p,
		CurrentSessionID: sessionID,
		Status:           student.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if len(status) > 0 {
		st.Status = status[0]
	}
	st, err := s.Students.CreateStudent(context.Background(), st)
	if err != nil {
		t.Fatalf("createStudent() failed: %v", err)
	}
	return st
}

func CreateParent(t *testing.T, s *Store, name, email string) student.Parent {
	p, err := s.Students.CreateParent(context.Background(), student.Parent{ID: uuid.New().String(), Name: name, Email: email})
	if err != nil {
		t.Fatalf("createParent() failed: %v", err)
	}
	return p
}

// Actor is the operator used by tests.
var Actor = core.Actor{ID: "op-1", Name: "Test Operator", Email: "operator@test.test"}

// SetNow freezes core.NowFunc at `now` until the test ends.
func SetNow(t *testing.T, now time.Time) {
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { core.NowFunc = orig })
}

// Logger returns a logger that discards its output and reports nothing.
func Logger() core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), &core.Config{Debug: true})
}
