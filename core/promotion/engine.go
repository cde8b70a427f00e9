package promotion

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
)

// Skip reasons
const (
	ReasonDuplicate       = "duplicate in request"
	ReasonNotFound        = "not found"
	ReasonAlreadyPromoted = "already promoted"
)

type (
	Request struct {
		TargetSessionID      string   `json:"target_session_id" validate:"required"`
		TargetSchoolClassID  string   `json:"target_school_class_id" validate:"required"`
		TargetClassArmID     string   `json:"target_class_arm_id" validate:"required"`
		TargetClassSectionID string   `json:"target_class_section_id"`
		RetainSubjects       bool     `json:"retain_subjects"`
		StudentIDs           []string `json:"student_ids" validate:"required,min=1,dive,required"`
	}

	Skip struct {
		StudentID string `json:"student_id"`
		Reason    string `json:"reason"`
	}

	Result struct {
		Promoted int    `json:"promoted"`
		Skipped  int    `json:"skipped"`
		Message  string `json:"message"`
		Skips    []Skip `json:"skips"`
	}

	// Engine moves students to a target placement, one transaction per student.
	// A student's failure never rolls back the students promoted before it.
	Engine struct {
		periods   *academic.Service
		students  student.Repository
		overrides student.SubjectOverrides
		ledger    *ledger.Service
		tx        core.Transactor
		validate  *validator.Validate
	}
)

func (r *Request) Clean() {
	r.TargetSessionID = core.CleanString(r.TargetSessionID)
	r.TargetSchoolClassID = core.CleanString(r.TargetSchoolClassID)
	r.TargetClassArmID = core.CleanString(r.TargetClassArmID)
	r.TargetClassSectionID = core.CleanString(r.TargetClassSectionID)
	for i, id := range r.StudentIDs {
		r.StudentIDs[i] = core.CleanString(id)
	}
}

func NewEngine(
	periods *academic.Service,
	students student.Repository,
	overrides student.SubjectOverrides,
	ledgerSvc *ledger.Service,
	tx core.Transactor,
	validate *validator.Validate,
) *Engine {
	return &Engine{
		periods:   periods,
		students:  students,
		overrides: overrides,
		ledger:    ledgerSvc,
		tx:        tx,
		validate:  validate,
	}
}

type target struct {
	session   academic.Session
	term      null.String
	placement academic.Placement
	label     string
}

// Promote applies req in the order of its student ids. On a storage failure it stops and returns
// the result so far with a TransientError: the students already promoted stay promoted.
func (e *Engine) Promote(ctx context.Context, req Request, actor core.Actor) (Result, error) {
	req.Clean()
	if err := e.validate.Struct(req); err != nil {
		return Result{}, err
	}

	tgt, err := e.resolveTarget(ctx, req)
	if err != nil {
		return Result{}, err
	}

	res := Result{Skips: make([]Skip, 0)}
	seen := make(map[string]bool, len(req.StudentIDs))
	for _, id := range req.StudentIDs {
		if seen[id] {
			res.skip(id, ReasonDuplicate)
			continue
		}
		seen[id] = true
		if _, err := uuid.Parse(id); err != nil {
			res.skip(id, ReasonNotFound)
			continue
		}

		reason, err := e.promoteOne(ctx, id, tgt, req.RetainSubjects, actor)
		if err != nil {
			res.Message = res.message(len(req.StudentIDs))
			return res, core.NewTransientError(
				errors.Wrapf(err, "promoting student %s", id),
				fmt.Sprintf("promoted %d of %d student(s) before failure", res.Promoted, len(req.StudentIDs)),
			)
		}
		if reason != "" {
			res.skip(id, reason)
			continue
		}
		res.Promoted++
	}
	res.Message = res.message(len(req.StudentIDs))
	return res, nil
}

func (e *Engine) resolveTarget(ctx context.Context, req Request) (target, error) {
	sess, err := e.periods.GetSession(ctx, req.TargetSessionID)
	if err != nil {
		return target{}, err
	}
	rp, err := e.periods.ResolvePlacement(ctx, academic.Placement{
		SchoolClassID:  req.TargetSchoolClassID,
		ClassArmID:     req.TargetClassArmID,
		ClassSectionID: academic.SectionID(req.TargetClassSectionID),
	})
	if err != nil {
		return target{}, err
	}

	tgt := target{session: sess, placement: rp.Placement(), label: rp.Label()}
	term, ok, err := e.periods.FirstTerm(ctx, sess.ID)
	if err != nil {
		return target{}, core.NewTransientError(err, "resolving target term")
	}
	if ok {
		tgt.term = null.StringFrom(term.ID)
	}
	return tgt, nil
}

// promoteOne returns a non-empty skip reason when the student is left untouched.
func (e *Engine) promoteOne(ctx context.Context, id string, tgt target, retainSubjects bool, actor core.Actor) (string, error) {
	var reason string
	err := e.tx.InTx(ctx, func(exec core.DBExecutor) error {
		st, err := e.students.LockStudent(ctx, id, exec)
		if err != nil {
			if errors.Cause(err) == student.ErrNotFound {
				reason = ReasonNotFound
				return nil
			}
			return err
		}
		if st.IsTerminal() {
			reason = "student " + st.Status
			return nil
		}
		if st.Placement.Equal(tgt.placement) && st.CurrentSessionID == tgt.session.ID {
			reason = ReasonAlreadyPromoted
			return nil
		}

		fromLabel := e.periods.LabelOf(ctx, st.Placement, exec)
		if err = e.students.UpdatePlacement(ctx, st.ID, tgt.placement, tgt.session.ID, tgt.term, exec); err != nil {
			return errors.Wrap(err, "updating placement")
		}
		if _, err = e.ledger.RecordPromotion(ctx, ledger.PromotionRecord{
			StudentID:     st.ID,
			AdmissionNo:   st.AdmissionNo,
			StudentName:   st.FullName(),
			FromSessionID: st.CurrentSessionID,
			ToSessionID:   tgt.session.ID,
			TermID:        tgt.term,
			FromClassID:   st.SchoolClassID,
			ToClassID:     tgt.placement.SchoolClassID,
			FromLabel:     fromLabel,
			ToLabel:       tgt.label,
			PerformedBy:   actor.Label(),
		}, exec); err != nil {
			return err
		}
		if !retainSubjects {
			if err = e.overrides.ClearOverrides(ctx, st.ID, exec); err != nil {
				return errors.Wrap(err, "clearing subject overrides")
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return reason, nil
}

func (r *Result) skip(id, reason string) {
	r.Skipped++
	r.Skips = append(r.Skips, Skip{StudentID: id, Reason: reason})
}

func (r Result) message(requested int) string {
	return fmt.Sprintf("Promoted %d of %d student(s); %d skipped", r.Promoted, requested, r.Skipped)
}
