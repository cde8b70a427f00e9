package inmemdb

import (
	"context"
	"strings"

	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
)

type studentRepository struct {
	db *DB
}

var (
	_ student.Repository       = (*studentRepository)(nil) // interface compliance check
	_ student.SubjectOverrides = (*SubjectOverrides)(nil)
)

func NewStudentRepository(db *DB) student.Repository {
	return &studentRepository{db: db}
}

func (repo *studentRepository) CreateStudent(ctx context.Context, s student.Student, exec ...core.DBExecutor) (student.Student, error) {
	tbl := repo.db.students
	tbl.Lock()
	defer tbl.Unlock()

	if _, ok := tbl.find(func(o student.Student) bool { return strings.EqualFold(o.AdmissionNo, s.AdmissionNo) }); ok {
		return student.Student{}, student.ErrAdmissionNoExists
	}
	tbl.track(exec, s.ID)
	tbl.put(s.ID, s)
	return s, nil
}

func (repo *studentRepository) GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (student.Student, error) {
	tbl := repo.db.students
	tbl.RLock()
	defer tbl.RUnlock()

	if s, ok := tbl.get(id); ok {
		return s, nil
	}
	return student.Student{}, student.ErrNotFound
}

// LockStudent relies on DB.InTx serializing transactions.
func (repo *studentRepository) LockStudent(ctx context.Context, id string, exec ...core.DBExecutor) (student.Student, error) {
	return repo.GetStudent(ctx, id, exec...)
}

func (repo *studentRepository) UpdatePlacement(
	ctx context.Context,
	id string,
	p academic.Placement,
	sessionID string,
	termID null.String,
	exec ...core.DBExecutor,
) error {
	tbl := repo.db.students
	tbl.Lock()
	defer tbl.Unlock()

	s, ok := tbl.get(id)
	if !ok {
		return student.ErrNotFound
	}
	s.Placement = p
	s.CurrentSessionID = sessionID
	s.CurrentTermID = termID
	s.UpdatedAt = core.NowFunc()
	tbl.track(exec, id)
	tbl.put(id, s)
	return nil
}

func (repo *studentRepository) ExistingAdmissionNos(ctx context.Context, nos []string, exec ...core.DBExecutor) ([]string, error) {
	tbl := repo.db.students
	tbl.RLock()
	defer tbl.RUnlock()

	wanted := make(map[string]bool, len(nos))
	for _, no := range nos {
		wanted[strings.ToLower(no)] = true
	}
	found := make([]string, 0)
	for _, s := range tbl.all() {
		if wanted[strings.ToLower(s.AdmissionNo)] {
			found = append(found, s.AdmissionNo)
		}
	}
	return found, nil
}

func (repo *studentRepository) CountStudents(ctx context.Context, exec ...core.DBExecutor) (int, error) {
	tbl := repo.db.students
	tbl.RLock()
	defer tbl.RUnlock()
	return len(tbl.rows), nil
}

func (repo *studentRepository) CreateParent(ctx context.Context, p student.Parent, exec ...core.DBExecutor) (student.Parent, error) {
	tbl := repo.db.parents
	tbl.Lock()
	defer tbl.Unlock()

	tbl.track(exec, p.ID)
	tbl.put(p.ID, p)
	return p, nil
}

func (repo *studentRepository) GetParentByEmail(ctx context.Context, email string, exec ...core.DBExecutor) (student.Parent, error) {
	tbl := repo.db.parents
	tbl.RLock()
	defer tbl.RUnlock()

	if p, ok := tbl.find(func(p student.Parent) bool { return strings.EqualFold(p.Email, email) }); ok {
		return p, nil
	}
	return student.Parent{}, student.ErrParentNotFound
}

// SubjectOverrides keeps the subject ids assigned to students outside of their placement's defaults.
type SubjectOverrides struct {
	db *DB
}

func NewSubjectOverrides(db *DB) *SubjectOverrides {
	return &SubjectOverrides{db: db}
}

func (so *SubjectOverrides) SetOverrides(studentID string, subjectIDs ...string) {
	tbl := so.db.overrides
	tbl.Lock()
	defer tbl.Unlock()
	tbl.put(studentID, append([]string(nil), subjectIDs...))
}

func (so *SubjectOverrides) Overrides(studentID string) []string {
	tbl := so.db.overrides
	tbl.RLock()
	defer tbl.RUnlock()
	ids, _ := tbl.get(studentID)
	return ids
}

func (so *SubjectOverrides) ClearOverrides(ctx context.Context, studentID string, exec ...core.DBExecutor) error {
	tbl := so.db.overrides
	tbl.Lock()
	defer tbl.Unlock()
	tbl.track(exec, studentID)
	delete(tbl.rows, studentID)
	return nil
}
