package ledger

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

// PromotionRecord is the audit entry of one student moved by one promotion commit. Immutable.
type PromotionRecord struct {
	ID            string      `db:"id" json:"id"`
	Seq           int64       `db:"seq" json:"-"`
	StudentID     string      `db:"student_id" json:"student_id"`
	AdmissionNo   string      `db:"admission_no" json:"admission_no"`
	StudentName   string      `db:"student_name" json:"student_name"`
	FromSessionID string      `db:"from_session_id" json:"from_session_id"`
	ToSessionID   string      `db:"to_session_id" json:"to_session_id"`
	TermID        null.String `db:"term_id" json:"term_id"`
	FromClassID   string      `db:"from_school_class_id" json:"from_school_class_id"`
	ToClassID     string      `db:"to_school_class_id" json:"to_school_class_id"`
	FromLabel     string      `db:"from_placement_label" json:"from_placement_label"`
	ToLabel       string      `db:"to_placement_label" json:"to_placement_label"`
	PerformedBy   string      `db:"performed_by" json:"performed_by"`
	PromotedAt    time.Time   `db:"promoted_at" json:"promoted_at"` // UTC
}

// RolloverRecord is the audit entry of one committed rollover. Immutable.
type RolloverRecord struct {
	ID              string    `db:"id" json:"id"`
	Seq             int64     `db:"seq" json:"-"`
	SourceSessionID string    `db:"source_session_id" json:"source_session_id"`
	NewSessionID    string    `db:"new_session_id" json:"new_session_id"`
	NewSessionName  string    `db:"new_session_name" json:"new_session_name"`
	TermCount       int       `db:"term_count" json:"term_count"`
	Notes           string    `db:"notes" json:"notes"`
	PerformedBy     string    `db:"performed_by" json:"performed_by"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"` // UTC
}

// Filter applies AND on its non-empty fields.
// SessionID matches the target session, SchoolClassID matches either the origin or the target class.
type Filter struct {
	SessionID     string `query:"session_id"`
	TermID        string `query:"term_id"`
	SchoolClassID string `query:"school_class_id"`
}

func (f *Filter) Clean() {
	f.SessionID = core.CleanString(f.SessionID)
	f.TermID = core.CleanString(f.TermID)
	f.SchoolClassID = core.CleanString(f.SchoolClassID)
}

func (f Filter) Match(r PromotionRecord) bool {
	if f.SessionID != "" && r.ToSessionID != f.SessionID {
		return false
	}
	if f.TermID != "" && (!r.TermID.Valid || r.TermID.String != f.TermID) {
		return false
	}
	if f.SchoolClassID != "" && r.FromClassID != f.SchoolClassID && r.ToClassID != f.SchoolClassID {
		return false
	}
	return true
}

type PromotionPage struct {
	Items    []PromotionRecord `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

type RolloverPage struct {
	Items    []RolloverRecord `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}
