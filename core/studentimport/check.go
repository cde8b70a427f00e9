package studentimport

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
)

type placementKey struct {
	class, arm, section string
}

type placementRef struct {
	rp  academic.ResolvedPlacement
	err error
}

type sessionRef struct {
	sess academic.Session
	err  error
}

type termRef struct {
	term academic.Term
	err  error
}

type parentRef struct {
	parent student.Parent
	err    error
}

// checker validates rows against the Period Store and existing students.
// Lookups are cached by lower-cased name for the duration of one check.
type checker struct {
	svc *Service

	sessions   map[string]sessionRef
	terms      map[string]termRef
	placements map[placementKey]placementRef
	parents    map[string]parentRef
}

func newChecker(svc *Service) *checker {
	return &checker{
		svc:        svc,
		sessions:   make(map[string]sessionRef),
		terms:      make(map[string]termRef),
		placements: make(map[placementKey]placementRef),
		parents:    make(map[string]parentRef),
	}
}

// check fills the errors of every row and returns the students built from the valid ones, keyed by row number.
// Only storage failures are returned as error.
func (c *checker) check(ctx context.Context, rows []Row) (map[int]student.Student, error) {
	nos := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Record.AdmissionNo != "" {
			nos = append(nos, r.Record.AdmissionNo)
		}
	}
	existing, err := c.svc.students.ExistingAdmissionNos(ctx, nos)
	if err != nil {
		return nil, errors.Wrap(err, "checking admission numbers")
	}
	taken := make(map[string]bool, len(existing))
	for _, no := range existing {
		taken[strings.ToLower(no)] = true
	}

	firstSeen := make(map[string]int, len(rows))
	students := make(map[int]student.Student, len(rows))
	for i := range rows {
		row := &rows[i]
		row.Errors = c.fieldErrors(*row)

		if no := strings.ToLower(row.Record.AdmissionNo); no != "" {
			if first, dup := firstSeen[no]; dup {
				row.Errors = append(row.Errors, RowError{
					Row:     row.Row,
					Column:  ColAdmissionNo,
					Message: fmt.Sprintf("duplicate admission number in file (first seen on row %d)", first),
				})
			} else {
				firstSeen[no] = row.Row
				if taken[no] {
					row.Errors = append(row.Errors, RowError{Row: row.Row, Column: ColAdmissionNo, Message: "admission number already in use"})
				}
			}
		}

		st, refErrs, err := c.resolve(ctx, *row)
		if err != nil {
			return nil, err
		}
		row.Errors = append(row.Errors, refErrs...)
		if row.Valid() {
			students[row.Row] = st
		}
	}
	return students, nil
}

func (c *checker) fieldErrors(row Row) []RowError {
	errs := make([]RowError, 0)
	err := c.svc.validate.Struct(row.Record)
	if err == nil {
		return errs
	}
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return append(errs, RowError{Row: row.Row, Message: err.Error()})
	}
	for _, vErr := range vErrs {
		errs = append(errs, RowError{Row: row.Row, Column: vErr.Field(), Message: vErr.Translate(c.svc.translator)})
	}
	return errs
}

// resolve maps the names of a row to stored entities. Names that are empty were already reported by fieldErrors.
func (c *checker) resolve(ctx context.Context, row Row) (student.Student, []RowError, error) {
	rec := row.Record
	errs := make([]RowError, 0)
	addErr := func(col, msg string) {
		errs = append(errs, RowError{Row: row.Row, Column: col, Message: msg})
	}

	st := student.Student{
		AdmissionNo: rec.AdmissionNo,
		FirstName:   rec.FirstName,
		MiddleName:  rec.MiddleName,
		LastName:    rec.LastName,
		Gender:      strings.ToLower(rec.Gender),
		Status:      student.StatusActive,
	}
	if rec.DateOfBirth != "" {
		if dob, err := academic.ParseDate(rec.DateOfBirth); err == nil {
			st.DateOfBirth = null.TimeFrom(dob)
		}
	}

	if rec.Session != "" {
		sess, err := c.session(ctx, rec.Session)
		switch {
		case err == nil:
			st.CurrentSessionID = sess.ID
			if rec.Term != "" {
				term, err := c.term(ctx, sess.ID, rec.Term)
				switch {
				case err == nil:
					st.CurrentTermID = null.StringFrom(term.ID)
				case core.IsNotFound(err):
					addErr(ColTerm, fmt.Sprintf("term %q not found in session %q", rec.Term, sess.Name))
				default:
					return st, nil, err
				}
			}
		case core.IsNotFound(err):
			addErr(ColSession, fmt.Sprintf("session %q not found", rec.Session))
		default:
			return st, nil, err
		}
	}

	if rec.Class != "" && rec.Arm != "" {
		rp, err := c.placement(ctx, rec.Class, rec.Arm, rec.Section)
		switch cause := errors.Cause(err); {
		case err == nil:
			st.Placement = rp.Placement()
		case cause == academic.ErrClassNotFound:
			addErr(ColClass, fmt.Sprintf("class %q not found", rec.Class))
		case cause == academic.ErrArmNotFound:
			addErr(ColArm, fmt.Sprintf("arm %q not found in class %q", rec.Arm, rec.Class))
		case cause == academic.ErrSectionNotFound:
			addErr(ColSection, fmt.Sprintf("section %q not found in arm %q", rec.Section, rec.Arm))
		case core.IsNotFound(err):
			addErr(ColClass, err.Error())
		default:
			return st, nil, err
		}
	}

	if rec.ParentEmail != "" && !flagged(row, ColParentEmail) {
		parent, err := c.parent(ctx, rec.ParentEmail)
		switch {
		case err == nil:
			st.ParentID = null.StringFrom(parent.ID)
		case core.IsNotFound(err):
			addErr(ColParentEmail, fmt.Sprintf("no parent with email %q", rec.ParentEmail))
		default:
			return st, nil, err
		}
	}
	return st, errs, nil
}

// flagged reports whether a column of row already has an error.
func flagged(row Row, col string) bool {
	for _, e := range row.Errors {
		if e.Column == col {
			return true
		}
	}
	return false
}

func (c *checker) session(ctx context.Context, name string) (academic.Session, error) {
	key := strings.ToLower(name)
	ref, ok := c.sessions[key]
	if !ok {
		ref.sess, ref.err = c.svc.periods.FindSessionByName(ctx, name)
		if ref.err != nil && !core.IsNotFound(ref.err) {
			return academic.Session{}, errors.Wrap(ref.err, "finding session")
		}
		c.sessions[key] = ref
	}
	return ref.sess, ref.err
}

func (c *checker) term(ctx context.Context, sessionID, name string) (academic.Term, error) {
	key := sessionID + "/" + strings.ToLower(name)
	ref, ok := c.terms[key]
	if !ok {
		ref.term, ref.err = c.svc.periods.FindTermByName(ctx, sessionID, name)
		if ref.err != nil && !core.IsNotFound(ref.err) {
			return academic.Term{}, errors.Wrap(ref.err, "finding term")
		}
		c.terms[key] = ref
	}
	return ref.term, ref.err
}

func (c *checker) placement(ctx context.Context, class, arm, section string) (academic.ResolvedPlacement, error) {
	key := placementKey{strings.ToLower(class), strings.ToLower(arm), strings.ToLower(section)}
	ref, ok := c.placements[key]
	if !ok {
		ref.rp, ref.err = c.svc.periods.ResolvePlacementByName(ctx, class, arm, section)
		if ref.err != nil && !core.IsNotFound(ref.err) {
			return academic.ResolvedPlacement{}, errors.Wrap(ref.err, "resolving placement")
		}
		c.placements[key] = ref
	}
	return ref.rp, ref.err
}

func (c *checker) parent(ctx context.Context, email string) (student.Parent, error) {
	key := strings.ToLower(email)
	ref, ok := c.parents[key]
	if !ok {
		ref.parent, ref.err = c.svc.students.GetParentByEmail(ctx, email)
		if ref.err != nil && !core.IsNotFound(ref.err) {
			return student.Parent{}, errors.Wrap(ref.err, "finding parent")
		}
		c.parents[key] = ref
	}
	return ref.parent, ref.err
}
