package student

import (
	"context"

	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
)

var (
	// errors
	ErrNotFound          = core.NewNotFoundError("student not found")
	ErrParentNotFound    = core.NewNotFoundError("parent not found")
	ErrAdmissionNoExists = core.NewConflictError("admission_no_exists", "admission number already in use")
)

type (
	Repository interface {
		CreateStudent(ctx context.Context, s Student, exec ...core.DBExecutor) (Student, error)
		GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (Student, error)
		// LockStudent reads a student and holds a write lock on it until the end of the transaction of exec.
		LockStudent(ctx context.Context, id string, exec ...core.DBExecutor) (Student, error)
		// UpdatePlacement moves a student to p within the given session and term.
		UpdatePlacement(ctx context.Context, id string, p academic.Placement, sessionID string, termID null.String, exec ...core.DBExecutor) error
		// ExistingAdmissionNos returns the subset of `nos` already used by a student.
		ExistingAdmissionNos(ctx context.Context, nos []string, exec ...core.DBExecutor) ([]string, error)
		CountStudents(ctx context.Context, exec ...core.DBExecutor) (int, error)

		CreateParent(ctx context.Context, p Parent, exec ...core.DBExecutor) (Parent, error)
		// GetParentByEmail does a case-insensitive match on Parent.Email.
		GetParentByEmail(ctx context.Context, email string, exec ...core.DBExecutor) (Parent, error)
	}

	// SubjectOverrides is the subject-assignment collaborator: it owns the per-student subject overrides
	// tied to a placement.
	SubjectOverrides interface {
		ClearOverrides(ctx context.Context, studentID string, exec ...core.DBExecutor) error
	}
)
