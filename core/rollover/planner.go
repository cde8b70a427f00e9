package rollover

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
)

// Proposal statuses
const (
	StatusOK         = "ok"
	StatusEmpty      = "empty"
	StatusStructural = "structural"
)

var (
	ErrInProgress = core.NewConflictError("rollover_in_progress", "a rollover of this session is already in progress")

	errStartBeforeEnd = "must be before new_session_end"
	msgEmpty          = "the source session has no terms: there is nothing to roll over"
	msgStructural     = "provide the new session start and end dates to compute the term dates"
)

type (
	PreviewRequest struct {
		SourceSessionID string `json:"source_session_id" validate:"required"`
		NewSessionName  string `json:"new_session_name" validate:"max=64"`
		NewSessionStart string `json:"new_session_start" validate:"omitempty,datetime=2006-01-02"`
		NewSessionEnd   string `json:"new_session_end" validate:"omitempty,datetime=2006-01-02"`
		Notes           string `json:"notes" validate:"max=500"`
	}

	CommitRequest struct {
		SourceSessionID string `json:"source_session_id" validate:"required"`
		NewSessionName  string `json:"new_session_name" validate:"required,max=64"`
		NewSessionStart string `json:"new_session_start" validate:"required,datetime=2006-01-02"`
		NewSessionEnd   string `json:"new_session_end" validate:"required,datetime=2006-01-02"`
		Notes           string `json:"notes" validate:"max=500"`
		MakeCurrent     bool   `json:"make_current"`
	}

	NewSessionProposal struct {
		Name      string    `json:"name"`
		StartDate null.Time `json:"start_date"`
		EndDate   null.Time `json:"end_date"`
	}

	// ProposedTerm has null dates in a structural preview (no new session dates given).
	ProposedTerm struct {
		SourceTermID  string    `json:"source_term_id"`
		Name          string    `json:"name"`
		ProposedStart null.Time `json:"proposed_start"`
		ProposedEnd   null.Time `json:"proposed_end"`
	}

	Proposal struct {
		SourceSessionID string             `json:"source_session_id"`
		NewSession      NewSessionProposal `json:"new_session"`
		Terms           []ProposedTerm     `json:"proposed_terms"`
		DurationDays    int                `json:"duration_days"`
		Status          string             `json:"status"`
		Message         string             `json:"message"`
		Warnings        []string           `json:"warnings"`
		Notes           string             `json:"notes,omitempty"`
	}

	Result struct {
		Session academic.Session `json:"session"`
		Terms   []academic.Term  `json:"terms"`
		Message string           `json:"message"`
	}

	// Planner clones the term structure of a session into a new session with prorated dates.
	Planner struct {
		periods  *academic.Service
		ledger   *ledger.Service
		tx       core.Transactor
		locker   core.Locker
		validate *validator.Validate
	}
)

func (r *PreviewRequest) Clean() {
	r.SourceSessionID = core.CleanString(r.SourceSessionID)
	r.NewSessionName = core.CleanString(r.NewSessionName)
	r.NewSessionStart = core.CleanString(r.NewSessionStart)
	r.NewSessionEnd = core.CleanString(r.NewSessionEnd)
	r.Notes = core.CleanString(r.Notes)
}

func (r *CommitRequest) Clean() {
	r.SourceSessionID = core.CleanString(r.SourceSessionID)
	r.NewSessionName = core.CleanString(r.NewSessionName)
	r.NewSessionStart = core.CleanString(r.NewSessionStart)
	r.NewSessionEnd = core.CleanString(r.NewSessionEnd)
	r.Notes = core.CleanString(r.Notes)
}

func NewPlanner(
	periods *academic.Service,
	ledgerSvc *ledger.Service,
	tx core.Transactor,
	locker core.Locker,
	validate *validator.Validate,
) *Planner {
	return &Planner{
		periods:  periods,
		ledger:   ledgerSvc,
		tx:       tx,
		locker:   locker,
		validate: validate,
	}
}

// Preview computes the proposal without side effects.
func (p *Planner) Preview(ctx context.Context, req PreviewRequest) (Proposal, error) {
	req.Clean()
	if err := p.validate.Struct(req); err != nil {
		return Proposal{}, err
	}

	terms, err := p.periods.ListTerms(ctx, req.SourceSessionID)
	if err != nil {
		return Proposal{}, err
	}

	prop := Proposal{
		SourceSessionID: req.SourceSessionID,
		NewSession:      NewSessionProposal{Name: req.NewSessionName},
		Terms:           make([]ProposedTerm, 0, len(terms)),
		Warnings:        inspectTerms(terms),
		Notes:           req.Notes,
	}
	if len(terms) == 0 {
		prop.Status = StatusEmpty
		prop.Message = msgEmpty
		return prop, nil
	}

	if req.NewSessionStart == "" || req.NewSessionEnd == "" {
		for _, t := range terms {
			prop.Terms = append(prop.Terms, ProposedTerm{SourceTermID: t.ID, Name: t.Name})
		}
		prop.Status = StatusStructural
		prop.Message = msgStructural
		return prop, nil
	}

	start, _ := academic.ParseDate(req.NewSessionStart)
	end, _ := academic.ParseDate(req.NewSessionEnd)
	if !start.Before(end) {
		return Proposal{}, core.NewValidationError(nil, core.FieldError{Field: "new_session_start", Error: errStartBeforeEnd})
	}
	prop.NewSession.StartDate = null.TimeFrom(start)
	prop.NewSession.EndDate = null.TimeFrom(end)
	prop.DurationDays = Duration(start, end, len(terms))

	for i, w := range Prorate(start, end, len(terms)) {
		prop.Terms = append(prop.Terms, ProposedTerm{
			SourceTermID:  terms[i].ID,
			Name:          terms[i].Name,
			ProposedStart: null.TimeFrom(w.Start),
			ProposedEnd:   null.TimeFrom(w.End),
		})
	}
	prop.Status = StatusOK
	prop.Message = fmt.Sprintf("%d term(s) of %d day(s) each", len(terms), prop.DurationDays)
	return prop, nil
}

// Commit creates the new session and all its terms atomically. The source session is only read.
// Terms are recomputed from the source as it is at commit time.
func (p *Planner) Commit(ctx context.Context, req CommitRequest, actor core.Actor) (Result, error) {
	req.Clean()
	if err := p.validate.Struct(req); err != nil {
		return Result{}, err
	}
	start, _ := academic.ParseDate(req.NewSessionStart)
	end, _ := academic.ParseDate(req.NewSessionEnd)
	if !start.Before(end) {
		return Result{}, core.NewValidationError(nil, core.FieldError{Field: "new_session_start", Error: errStartBeforeEnd})
	}

	unlock, err := p.locker.Lock(ctx, LockKey(req.SourceSessionID, req.NewSessionName))
	if err != nil {
		if errors.Cause(err) == core.ErrLockTimeout {
			return Result{}, ErrInProgress
		}
		return Result{}, errors.Wrap(err, "locking rollover")
	}
	defer unlock()

	src, err := p.periods.GetSession(ctx, req.SourceSessionID)
	if err != nil {
		return Result{}, err
	}
	srcTerms, err := p.periods.ListTerms(ctx, src.ID)
	if err != nil {
		return Result{}, err
	}
	windows := Prorate(start, end, len(srcTerms))

	var res Result
	err = p.tx.InTx(ctx, func(exec core.DBExecutor) error {
		sess, err := p.periods.CreateSessionTx(ctx, academic.Session{Name: req.NewSessionName, StartDate: start, EndDate: end}, exec)
		if err != nil {
			return err
		}

		terms := make([]academic.Term, 0, len(srcTerms))
		for i, st := range srcTerms {
			t, err := p.periods.CreateTermTx(ctx, academic.Term{
				SessionID: sess.ID,
				Name:      st.Name,
				StartDate: windows[i].Start,
				EndDate:   windows[i].End,
			}, exec)
			if err != nil {
				return errors.Wrapf(err, "creating term %q", st.Name)
			}
			terms = append(terms, t)
		}

		if req.MakeCurrent {
			if err = p.periods.SetCurrentSession(ctx, sess.ID, exec); err != nil {
				return errors.Wrap(err, "setting current session")
			}
			sess.IsCurrent = true
		}

		if _, err = p.ledger.RecordRollover(ctx, ledger.RolloverRecord{
			SourceSessionID: src.ID,
			NewSessionID:    sess.ID,
			NewSessionName:  sess.Name,
			TermCount:       len(terms),
			Notes:           req.Notes,
			PerformedBy:     actor.Label(),
		}, exec); err != nil {
			return err
		}

		res = Result{
			Session: sess,
			Terms:   terms,
			Message: fmt.Sprintf("Session %s created with %d term(s) from %s", sess.Name, len(terms), src.Name),
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// LockKey scopes the commit lock to one (source session -> new session) pair.
func LockKey(sourceSessionID, newSessionName string) string {
	return "rollover:" + sourceSessionID + "->" + strings.ToLower(core.CleanString(newSessionName))
}

// inspectTerms reports overlaps and gaps between consecutive source terms (ordered by start date).
// They are not rejected: the operator decides whether the new layout is acceptable.
func inspectTerms(terms []academic.Term) []string {
	warnings := make([]string, 0)
	for i := 1; i < len(terms); i++ {
		prev, curr := terms[i-1], terms[i]
		switch {
		case curr.StartDate.Before(prev.EndDate):
			warnings = append(warnings, fmt.Sprintf("source term %q overlaps term %q", curr.Name, prev.Name))
		case curr.StartDate.After(prev.EndDate):
			gap := int(curr.StartDate.Sub(prev.EndDate) / day)
			warnings = append(warnings, fmt.Sprintf("gap of %d day(s) between source terms %q and %q", gap, prev.Name, curr.Name))
		}
	}
	return warnings
}
