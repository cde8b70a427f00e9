package studentimport

import (
	"io"
	"time"

	"github.com/volatiletech/null/v8"
)

// Batch statuses. Only staged batches transition; the others are terminal.
const (
	StatusStaged    = "staged"
	StatusCommitted = "committed"
	StatusExpired   = "expired"
	StatusDiscarded = "discarded"
)

// Columns of the import file.
const (
	ColFirstName   = "first_name"
	ColMiddleName  = "middle_name"
	ColLastName    = "last_name"
	ColAdmissionNo = "admission_no"
	ColGender      = "gender"
	ColDateOfBirth = "date_of_birth"
	ColSession     = "session"
	ColTerm        = "term"
	ColClass       = "class"
	ColArm         = "arm"
	ColSection     = "section"
	ColParentEmail = "parent_email"
)

var (
	// Columns is the column order of the template.
	Columns = []string{
		ColFirstName, ColMiddleName, ColLastName, ColAdmissionNo, ColGender, ColDateOfBirth,
		ColSession, ColTerm, ColClass, ColArm, ColSection, ColParentEmail,
	}

	RequiredColumns = []string{ColFirstName, ColLastName, ColAdmissionNo, ColSession, ColClass, ColArm}
)

// RowError explains why a row is not eligible for commit. Column is empty for row-level errors.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

// Record is one prospective student, as read from the file.
type Record struct {
	FirstName   string `json:"first_name" validate:"required,max=64"`
	MiddleName  string `json:"middle_name" validate:"max=64"`
	LastName    string `json:"last_name" validate:"required,max=64"`
	AdmissionNo string `json:"admission_no" validate:"required,admission_no"`
	Gender      string `json:"gender" validate:"omitempty,oneof=male female"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Session     string `json:"session" validate:"required"`
	Term        string `json:"term"`
	Class       string `json:"class" validate:"required"`
	Arm         string `json:"arm" validate:"required"`
	Section     string `json:"section"`
	ParentEmail string `json:"parent_email" validate:"omitempty,email"`
}

type Row struct {
	Row    int        `json:"row"`
	Record Record     `json:"record"`
	Errors []RowError `json:"row_errors"`
}

func (r Row) Valid() bool { return len(r.Errors) == 0 }

type Summary struct {
	Total     int            `json:"total"`
	Valid     int            `json:"valid"`
	Invalid   int            `json:"invalid"`
	BySession map[string]int `json:"by_session"`
	ByClass   map[string]int `json:"by_class"`
}

type Batch struct {
	ID            string    `json:"batch_id"`
	Filename      string    `json:"filename"`
	FileKey       string    `json:"-"`
	Status        string    `json:"status"`
	Rows          []Row     `json:"rows"`
	Summary       Summary   `json:"summary"`
	Warnings      []string  `json:"warnings"`
	UploadedBy    string    `json:"uploaded_by"`
	UploaderEmail string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	ExpiresAt     time.Time `json:"expires_at"` // UTC
	UpdatedAt     null.Time `json:"updated_at"` // UTC; set on every status change
}

// Errors returns every row error of the batch, in row order.
func (b Batch) Errors() []RowError {
	errs := make([]RowError, 0)
	for _, r := range b.Rows {
		errs = append(errs, r.Errors...)
	}
	return errs
}

// Upload is one file posted to the preview.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type Failure struct {
	Row         int    `json:"row"`
	AdmissionNo string `json:"admission_no"`
	Reason      string `json:"reason"`
}

type CommitResult struct {
	BatchID string    `json:"batch_id"`
	Created int       `json:"created"`
	Failed  []Failure `json:"failed"`
	Message string    `json:"message"`
}
