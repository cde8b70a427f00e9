package academic

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

var (
	// errors
	ErrSessionNotFound = core.NewNotFoundError("session not found")
	ErrTermNotFound    = core.NewNotFoundError("term not found")
	ErrClassNotFound   = core.NewNotFoundError("class not found")
	ErrArmNotFound     = core.NewNotFoundError("class arm not found")
	ErrSectionNotFound = core.NewNotFoundError("class section not found")
	ErrSessionExists   = core.NewConflictError("session_exists", "a session with this name already exists")

	errArmNotInClass   = "class arm does not belong to the class"
	errSectionNotInArm = "class section does not belong to the class arm"
	errStartBeforeEnd  = "must be before end_date"
	errTermDates       = "term must start before it ends"
)

type (
	Repository interface {
		CreateSession(ctx context.Context, s Session, exec ...core.DBExecutor) (Session, error)
		GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (Session, error)
		// GetSessionByName does a case-insensitive match on Session.Name.
		GetSessionByName(ctx context.Context, name string, exec ...core.DBExecutor) (Session, error)
		CurrentSession(ctx context.Context, exec ...core.DBExecutor) (Session, error)
		// SetCurrentSession marks the session as current and every other session as not current.
		SetCurrentSession(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreateTerm(ctx context.Context, t Term, exec ...core.DBExecutor) (Term, error)
		GetTerm(ctx context.Context, id string, exec ...core.DBExecutor) (Term, error)
		// ListTerms returns the terms of a session ordered by start date, then name.
		ListTerms(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]Term, error)

		CreateClass(ctx context.Context, c SchoolClass, exec ...core.DBExecutor) (SchoolClass, error)
		GetClass(ctx context.Context, id string, exec ...core.DBExecutor) (SchoolClass, error)
		GetClassByName(ctx context.Context, name string, exec ...core.DBExecutor) (SchoolClass, error)

		CreateArm(ctx context.Context, a ClassArm, exec ...core.DBExecutor) (ClassArm, error)
		GetArm(ctx context.Context, id string, exec ...core.DBExecutor) (ClassArm, error)
		GetArmByName(ctx context.Context, classID, name string, exec ...core.DBExecutor) (ClassArm, error)

		CreateSection(ctx context.Context, s ClassSection, exec ...core.DBExecutor) (ClassSection, error)
		GetSection(ctx context.Context, id string, exec ...core.DBExecutor) (ClassSection, error)
		GetSectionByName(ctx context.Context, armID, name string, exec ...core.DBExecutor) (ClassSection, error)
	}

	// Service is the Period Store: the authoritative source of sessions, terms and class placements.
	Service struct {
		repo     Repository
		tx       core.Transactor
		validate *validator.Validate
	}
)

func NewService(repo Repository, tx core.Transactor, validate *validator.Validate) *Service {
	return &Service{repo: repo, tx: tx, validate: validate}
}

func (svc *Service) GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (Session, error) {
	return svc.repo.GetSession(ctx, id, exec...)
}

func (svc *Service) FindSessionByName(ctx context.Context, name string, exec ...core.DBExecutor) (Session, error) {
	name = core.CleanString(name)
	if name == "" {
		return Session{}, ErrSessionNotFound
	}
	return svc.repo.GetSessionByName(ctx, name, exec...)
}

func (svc *Service) CurrentSession(ctx context.Context) (Session, error) {
	return svc.repo.CurrentSession(ctx)
}

func (svc *Service) ListTerms(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]Term, error) {
	if _, err := svc.repo.GetSession(ctx, sessionID, exec...); err != nil {
		return nil, err
	}
	terms, err := svc.repo.ListTerms(ctx, sessionID, exec...)
	if err != nil {
		return nil, errors.Wrap(err, "listing terms")
	}
	return terms, nil
}

// FirstTerm returns the earliest term of a session; ok is false when the session has none.
func (svc *Service) FirstTerm(ctx context.Context, sessionID string, exec ...core.DBExecutor) (term Term, ok bool, err error) {
	terms, err := svc.repo.ListTerms(ctx, sessionID, exec...)
	if err != nil {
		return Term{}, false, errors.Wrap(err, "listing terms")
	}
	if len(terms) == 0 {
		return Term{}, false, nil
	}
	return terms[0], true, nil
}

// FindTermByName returns the term of a session named `name` (case-insensitive).
func (svc *Service) FindTermByName(ctx context.Context, sessionID, name string, exec ...core.DBExecutor) (Term, error) {
	terms, err := svc.repo.ListTerms(ctx, sessionID, exec...)
	if err != nil {
		return Term{}, errors.Wrap(err, "listing terms")
	}
	for _, t := range terms {
		if strings.EqualFold(t.Name, core.CleanString(name)) {
			return t, nil
		}
	}
	return Term{}, ErrTermNotFound
}

// ResolvePlacement loads every entity of p and checks that the arm belongs to the class
// and the section (if any) to the arm.
func (svc *Service) ResolvePlacement(ctx context.Context, p Placement, exec ...core.DBExecutor) (ResolvedPlacement, error) {
	var rp ResolvedPlacement
	var err error

	if rp.Class, err = svc.repo.GetClass(ctx, p.SchoolClassID, exec...); err != nil {
		return ResolvedPlacement{}, err
	}
	if rp.Arm, err = svc.repo.GetArm(ctx, p.ClassArmID, exec...); err != nil {
		return ResolvedPlacement{}, err
	}
	if rp.Arm.SchoolClassID != rp.Class.ID {
		return ResolvedPlacement{}, core.NewValidationError(nil, core.FieldError{Field: "class_arm_id", Error: errArmNotInClass})
	}
	if p.ClassSectionID.Valid && p.ClassSectionID.String != "" {
		sec, err := svc.repo.GetSection(ctx, p.ClassSectionID.String, exec...)
		if err != nil {
			return ResolvedPlacement{}, err
		}
		if sec.ClassArmID != rp.Arm.ID {
			return ResolvedPlacement{}, core.NewValidationError(nil, core.FieldError{Field: "class_section_id", Error: errSectionNotInArm})
		}
		rp.Section = &sec
	}
	return rp, nil
}

// ResolvePlacementByName resolves a placement from names (case-insensitive). sectionName may be empty.
// The returned error is the NotFound sentinel of the first entity that could not be found.
func (svc *Service) ResolvePlacementByName(ctx context.Context, className, armName, sectionName string, exec ...core.DBExecutor) (ResolvedPlacement, error) {
	var rp ResolvedPlacement
	var err error

	if rp.Class, err = svc.repo.GetClassByName(ctx, core.CleanString(className), exec...); err != nil {
		return ResolvedPlacement{}, err
	}
	if rp.Arm, err = svc.repo.GetArmByName(ctx, rp.Class.ID, core.CleanString(armName), exec...); err != nil {
		return ResolvedPlacement{}, err
	}
	if sectionName = core.CleanString(sectionName); sectionName != "" {
		sec, err := svc.repo.GetSectionByName(ctx, rp.Arm.ID, sectionName, exec...)
		if err != nil {
			return ResolvedPlacement{}, err
		}
		rp.Section = &sec
	}
	return rp, nil
}

// LabelOf returns the label of a stored placement, falling back to raw ids for entities that no longer exist.
func (svc *Service) LabelOf(ctx context.Context, p Placement, exec ...core.DBExecutor) string {
	if rp, err := svc.ResolvePlacement(ctx, p, exec...); err == nil {
		return rp.Label()
	}
	parts := []string{p.SchoolClassID, p.ClassArmID}
	if p.ClassSectionID.Valid {
		parts = append(parts, p.ClassSectionID.String)
	}
	return strings.Join(parts, " / ")
}

func (svc *Service) CreateSession(ctx context.Context, data NewSession) (Session, error) {
	data.Clean()
	if err := svc.validate.Struct(data); err != nil {
		return Session{}, err
	}
	start, _ := ParseDate(data.StartDate)
	end, _ := ParseDate(data.EndDate)
	if !start.Before(end) {
		return Session{}, core.NewValidationError(nil, core.FieldError{Field: "start_date", Error: errStartBeforeEnd})
	}

	var sess Session
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		sess, err = svc.CreateSessionTx(ctx, Session{Name: data.Name, StartDate: start, EndDate: end}, exec)
		if err != nil {
			return err
		}
		if data.IsCurrent {
			if err = svc.repo.SetCurrentSession(ctx, sess.ID, exec); err != nil {
				return errors.Wrap(err, "setting current session")
			}
			sess.IsCurrent = true
		}
		return nil
	})
	return sess, err
}

// CreateSessionTx creates a session inside the caller's transaction, refusing duplicate names.
func (svc *Service) CreateSessionTx(ctx context.Context, s Session, exec core.DBExecutor) (Session, error) {
	if _, err := svc.repo.GetSessionByName(ctx, s.Name, exec); err == nil {
		return Session{}, ErrSessionExists
	} else if errors.Cause(err) != ErrSessionNotFound {
		return Session{}, errors.Wrap(err, "checking session name")
	}
	s.ID = uuid.New().String()
	s.StartDate = core.TruncateDate(s.StartDate)
	s.EndDate = core.TruncateDate(s.EndDate)
	s.CreatedAt = core.NowFunc()
	return svc.repo.CreateSession(ctx, s, exec)
}

// CreateTermTx creates a term inside the caller's transaction.
func (svc *Service) CreateTermTx(ctx context.Context, t Term, exec core.DBExecutor) (Term, error) {
	if !t.StartDate.Before(t.EndDate) {
		return Term{}, core.NewValidationError(errors.New(errTermDates))
	}
	t.ID = uuid.New().String()
	t.StartDate = core.TruncateDate(t.StartDate)
	t.EndDate = core.TruncateDate(t.EndDate)
	t.CreatedAt = core.NowFunc()
	return svc.repo.CreateTerm(ctx, t, exec)
}

func (svc *Service) SetCurrentSession(ctx context.Context, id string, exec ...core.DBExecutor) error {
	if _, err := svc.repo.GetSession(ctx, id, exec...); err != nil {
		return err
	}
	return svc.repo.SetCurrentSession(ctx, id, exec...)
}

func (svc *Service) CreateTerm(ctx context.Context, data NewTerm) (Term, error) {
	data.Clean()
	if err := svc.validate.Struct(data); err != nil {
		return Term{}, err
	}
	if _, err := svc.repo.GetSession(ctx, data.SessionID); err != nil {
		return Term{}, err
	}
	start, _ := ParseDate(data.StartDate)
	end, _ := ParseDate(data.EndDate)
	if !start.Before(end) {
		return Term{}, core.NewValidationError(nil, core.FieldError{Field: "start_date", Error: errStartBeforeEnd})
	}
	return svc.CreateTermTx(ctx, Term{SessionID: data.SessionID, Name: data.Name, StartDate: start, EndDate: end}, nil)
}

func (svc *Service) CreateClass(ctx context.Context, name string) (SchoolClass, error) {
	name = core.CleanString(name)
	if name == "" {
		return SchoolClass{}, core.NewValidationError(nil, core.FieldError{Field: "name", Error: "this field is required"})
	}
	return svc.repo.CreateClass(ctx, SchoolClass{ID: uuid.New().String(), Name: name})
}

func (svc *Service) CreateArm(ctx context.Context, classID, name string) (ClassArm, error) {
	name = core.CleanString(name)
	if name == "" {
		return ClassArm{}, core.NewValidationError(nil, core.FieldError{Field: "name", Error: "this field is required"})
	}
	if _, err := svc.repo.GetClass(ctx, classID); err != nil {
		return ClassArm{}, err
	}
	return svc.repo.CreateArm(ctx, ClassArm{ID: uuid.New().String(), SchoolClassID: classID, Name: name})
}

func (svc *Service) CreateSection(ctx context.Context, armID, name string) (ClassSection, error) {
	name = core.CleanString(name)
	if name == "" {
		return ClassSection{}, core.NewValidationError(nil, core.FieldError{Field: "name", Error: "this field is required"})
	}
	if _, err := svc.repo.GetArm(ctx, armID); err != nil {
		return ClassSection{}, err
	}
	return svc.repo.CreateSection(ctx, ClassSection{ID: uuid.New().String(), ClassArmID: armID, Name: name})
}

// SectionID is a convenience for building placements from an optional section.
func SectionID(id string) null.String {
	return null.NewString(id, id != "")
}
