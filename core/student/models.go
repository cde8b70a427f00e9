package student

import (
	"strings"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core/academic"
)

// Statuses
const (
	StatusActive    = "active"
	StatusWithdrawn = "withdrawn"
	StatusGraduated = "graduated"
)

// Genders
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

type Student struct {
	ID          string      `db:"id" json:"id"`
	AdmissionNo string      `db:"admission_no" json:"admission_no"`
	FirstName   string      `db:"first_name" json:"first_name"`
	MiddleName  string      `db:"middle_name" json:"middle_name"`
	LastName    string      `db:"last_name" json:"last_name"`
	Gender      string      `db:"gender" json:"gender"`
	DateOfBirth null.Time   `db:"date_of_birth" json:"date_of_birth"`
	ParentID    null.String `db:"parent_id" json:"parent_id"`

	academic.Placement
	CurrentSessionID string      `db:"current_session_id" json:"current_session_id"`
	CurrentTermID    null.String `db:"current_term_id" json:"current_term_id"`

	Status        string      `db:"status" json:"status"`
	ImportBatchID null.String `db:"import_batch_id" json:"import_batch_id"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"` // UTC
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"` // UTC
}

func (s Student) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.FirstName, s.MiddleName, s.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// IsTerminal reports whether the student left the school and can no longer be moved.
func (s Student) IsTerminal() bool {
	return s.Status == StatusWithdrawn || s.Status == StatusGraduated
}

type Parent struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
}
