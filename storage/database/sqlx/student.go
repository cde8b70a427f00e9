package sqlxrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
	"github.com/Incrisz/school-nextjs-sub002/storage/database"
)

const studentColumns = `id, admission_no, first_name, middle_name, last_name, gender, date_of_birth, parent_id,
	school_class_id, class_arm_id, class_section_id, current_session_id, current_term_id,
	status, import_batch_id, created_at, updated_at`

type studentRepository struct {
	db *sqlx.DB
}

var (
	_ student.Repository       = (*studentRepository)(nil) // interface compliance check
	_ student.SubjectOverrides = (*subjectOverrides)(nil)
)

func NewStudentRepository(db *sqlx.DB) student.Repository {
	return &studentRepository{db: db}
}

func (repo *studentRepository) CreateStudent(ctx context.Context, s student.Student, exec ...core.DBExecutor) (student.Student, error) {
	_, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), `
		INSERT INTO students (`+studentColumns+`)
		VALUES (:id, :admission_no, :first_name, :middle_name, :last_name, :gender, :date_of_birth, :parent_id,
			:school_class_id, :class_arm_id, :class_section_id, :current_session_id, :current_term_id,
			:status, :import_batch_id, :created_at, :updated_at)`, s)
	if database.IsUniqueViolation(err, "students_admission_no_key") {
		return student.Student{}, student.ErrAdmissionNoExists
	}
	if err != nil {
		return student.Student{}, errors.Wrap(database.MapError(err, nil), "inserting student")
	}
	return s, nil
}

func (repo *studentRepository) GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (student.Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return student.Student{}, student.ErrNotFound
	}
	var s student.Student
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &s, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	if err != nil {
		return student.Student{}, database.MapError(err, student.ErrNotFound)
	}
	return s, nil
}

// LockStudent locks the student row until the end of the caller's transaction.
// A malformed id is not sent to the database: the error would abort the transaction.
func (repo *studentRepository) LockStudent(ctx context.Context, id string, exec ...core.DBExecutor) (student.Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return student.Student{}, student.ErrNotFound
	}
	var s student.Student
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &s, `SELECT `+studentColumns+` FROM students WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return student.Student{}, database.MapError(err, student.ErrNotFound)
	}
	return s, nil
}

func (repo *studentRepository) UpdatePlacement(
	ctx context.Context,
	id string,
	p academic.Placement,
	sessionID string,
	termID null.String,
	exec ...core.DBExecutor,
) error {
	res, err := getExec(repo.db, exec).ExecContext(ctx, `
		UPDATE students
		SET school_class_id = $2, class_arm_id = $3, class_section_id = $4,
			current_session_id = $5, current_term_id = $6, updated_at = $7
		WHERE id = $1`,
		id, p.SchoolClassID, p.ClassArmID, p.ClassSectionID, sessionID, termID, core.NowFunc(),
	)
	if err != nil {
		return errors.Wrap(database.MapError(err, nil), "updating student placement")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return student.ErrNotFound
	}
	return nil
}

func (repo *studentRepository) ExistingAdmissionNos(ctx context.Context, nos []string, exec ...core.DBExecutor) ([]string, error) {
	found := make([]string, 0)
	if len(nos) == 0 {
		return found, nil
	}
	err := sqlx.SelectContext(ctx, getExec(repo.db, exec), &found, `
		SELECT admission_no FROM students
		WHERE lower(admission_no) = ANY (SELECT lower(unnest($1::text[])))`, pq.Array(nos))
	if err != nil {
		return nil, errors.Wrap(database.MapError(err, nil), "selecting admission numbers")
	}
	return found, nil
}

func (repo *studentRepository) CountStudents(ctx context.Context, exec ...core.DBExecutor) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &n, `SELECT count(*) FROM students`); err != nil {
		return 0, errors.Wrap(database.MapError(err, nil), "counting students")
	}
	return n, nil
}

func (repo *studentRepository) CreateParent(ctx context.Context, p student.Parent, exec ...core.DBExecutor) (student.Parent, error) {
	_, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), `
		INSERT INTO parents (id, name, email) VALUES (:id, :name, :email)`, p)
	if err != nil {
		return student.Parent{}, errors.Wrap(database.MapError(err, nil), "inserting parent")
	}
	return p, nil
}

func (repo *studentRepository) GetParentByEmail(ctx context.Context, email string, exec ...core.DBExecutor) (student.Parent, error) {
	var p student.Parent
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &p, `
		SELECT id, name, email FROM parents WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return student.Parent{}, database.MapError(err, student.ErrParentNotFound)
	}
	return p, nil
}

type subjectOverrides struct {
	db *sqlx.DB
}

func NewSubjectOverrides(db *sqlx.DB) student.SubjectOverrides {
	return &subjectOverrides{db: db}
}

func (so *subjectOverrides) ClearOverrides(ctx context.Context, studentID string, exec ...core.DBExecutor) error {
	_, err := getExec(so.db, exec).ExecContext(ctx, `DELETE FROM student_subject_overrides WHERE student_id = $1`, studentID)
	if err != nil {
		return errors.Wrap(database.MapError(err, nil), "clearing subject overrides")
	}
	return nil
}
