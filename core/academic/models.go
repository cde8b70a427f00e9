package academic

import (
	"strings"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

type Session struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	IsCurrent bool      `db:"is_current" json:"is_current"`
	CreatedAt time.Time `db:"created_at" json:"created_at"` // UTC
}

type Term struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	CreatedAt time.Time `db:"created_at" json:"created_at"` // UTC
}

type SchoolClass struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

type ClassArm struct {
	ID            string `db:"id" json:"id"`
	SchoolClassID string `db:"school_class_id" json:"school_class_id"`
	Name          string `db:"name" json:"name"`
}

type ClassSection struct {
	ID         string `db:"id" json:"id"`
	ClassArmID string `db:"class_arm_id" json:"class_arm_id"`
	Name       string `db:"name" json:"name"`
}

// Placement identifies where a student sits. Not every arm subdivides into sections.
type Placement struct {
	SchoolClassID  string      `db:"school_class_id" json:"school_class_id"`
	ClassArmID     string      `db:"class_arm_id" json:"class_arm_id"`
	ClassSectionID null.String `db:"class_section_id" json:"class_section_id"`
}

func (p Placement) Equal(other Placement) bool {
	return p.SchoolClassID == other.SchoolClassID &&
		p.ClassArmID == other.ClassArmID &&
		p.ClassSectionID.Valid == other.ClassSectionID.Valid &&
		p.ClassSectionID.String == other.ClassSectionID.String
}

// ResolvedPlacement is a Placement whose entities were all found in the store.
type ResolvedPlacement struct {
	Class   SchoolClass   `json:"school_class"`
	Arm     ClassArm      `json:"class_arm"`
	Section *ClassSection `json:"class_section,omitempty"`
}

func (rp ResolvedPlacement) Placement() Placement {
	p := Placement{SchoolClassID: rp.Class.ID, ClassArmID: rp.Arm.ID}
	if rp.Section != nil {
		p.ClassSectionID = null.StringFrom(rp.Section.ID)
	}
	return p
}

// Label is the human readable placement, e.g. "JSS 1 / A / Science".
func (rp ResolvedPlacement) Label() string {
	parts := []string{rp.Class.Name, rp.Arm.Name}
	if rp.Section != nil {
		parts = append(parts, rp.Section.Name)
	}
	return strings.Join(parts, " / ")
}

// NewSession contains information needed to create a new Session.
type NewSession struct {
	Name      string `json:"name" validate:"required,max=64"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	IsCurrent bool   `json:"is_current"`
}

func (ns *NewSession) Clean() {
	ns.Name = core.CleanString(ns.Name)
	ns.StartDate = core.CleanString(ns.StartDate)
	ns.EndDate = core.CleanString(ns.EndDate)
}

// NewTerm contains information needed to create a new Term.
type NewTerm struct {
	SessionID string `json:"session_id" validate:"required"`
	Name      string `json:"name" validate:"required,term_name"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func (nt *NewTerm) Clean() {
	nt.SessionID = core.CleanString(nt.SessionID)
	nt.Name = core.CleanString(nt.Name, true /* lower */)
	nt.StartDate = core.CleanString(nt.StartDate)
	nt.EndDate = core.CleanString(nt.EndDate)
}

// ParseDate parses a YYYY-MM-DD date at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

const DateLayout = "2006-01-02"
