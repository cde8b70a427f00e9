package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
)

type academicRepository struct {
	db *DB
}

var _ academic.Repository = (*academicRepository)(nil) // interface compliance check

func NewAcademicRepository(db *DB) academic.Repository {
	return &academicRepository{db: db}
}

func (repo *academicRepository) CreateSession(ctx context.Context, s academic.Session, exec ...core.DBExecutor) (academic.Session, error) {
	tbl := repo.db.sessions
	tbl.Lock()
	defer tbl.Unlock()

	if _, ok := tbl.find(func(o academic.Session) bool { return strings.EqualFold(o.Name, s.Name) }); ok {
		return academic.Session{}, academic.ErrSessionExists
	}
	tbl.track(exec, s.ID)
	tbl.put(s.ID, s)
	return s, nil
}

func (repo *academicRepository) GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (academic.Session, error) {
	tbl := repo.db.sessions
	tbl.RLock()
	defer tbl.RUnlock()

	if s, ok := tbl.get(id); ok {
		return s, nil
	}
	return academic.Session{}, academic.ErrSessionNotFound
}

func (repo *academicRepository) GetSessionByName(ctx context.Context, name string, exec ...core.DBExecutor) (academic.Session, error) {
	tbl := repo.db.sessions
	tbl.RLock()
	defer tbl.RUnlock()

	if s, ok := tbl.find(func(s academic.Session) bool { return strings.EqualFold(s.Name, name) }); ok {
		return s, nil
	}
	return academic.Session{}, academic.ErrSessionNotFound
}

func (repo *academicRepository) CurrentSession(ctx context.Context, exec ...core.DBExecutor) (academic.Session, error) {
	tbl := repo.db.sessions
	tbl.RLock()
	defer tbl.RUnlock()

	if s, ok := tbl.find(func(s academic.Session) bool { return s.IsCurrent }); ok {
		return s, nil
	}
	return academic.Session{}, academic.ErrSessionNotFound
}

func (repo *academicRepository) SetCurrentSession(ctx context.Context, id string, exec ...core.DBExecutor) error {
	tbl := repo.db.sessions
	tbl.Lock()
	defer tbl.Unlock()

	if _, ok := tbl.get(id); !ok {
		return academic.ErrSessionNotFound
	}
	for sid, s := range tbl.rows {
		s.IsCurrent = sid == id
		tbl.track(exec, sid)
		tbl.rows[sid] = s
	}
	return nil
}

func (repo *academicRepository) CreateTerm(ctx context.Context, t academic.Term, exec ...core.DBExecutor) (academic.Term, error) {
	tbl := repo.db.terms
	tbl.Lock()
	defer tbl.Unlock()

	tbl.track(exec, t.ID)
	tbl.put(t.ID, t)
	return t, nil
}

func (repo *academicRepository) GetTerm(ctx context.Context, id string, exec ...core.DBExecutor) (academic.Term, error) {
	tbl := repo.db.terms
	tbl.RLock()
	defer tbl.RUnlock()

	if t, ok := tbl.get(id); ok {
		return t, nil
	}
	return academic.Term{}, academic.ErrTermNotFound
}

func (repo *academicRepository) ListTerms(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]academic.Term, error) {
	tbl := repo.db.terms
	tbl.RLock()
	defer tbl.RUnlock()

	terms := make([]academic.Term, 0)
	for _, t := range tbl.all() {
		if t.SessionID == sessionID {
			terms = append(terms, t)
		}
	}
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].StartDate.Equal(terms[j].StartDate) {
			return terms[i].Name < terms[j].Name
		}
		return terms[i].StartDate.Before(terms[j].StartDate)
	})
	return terms, nil
}

func (repo *academicRepository) CreateClass(ctx context.Context, c academic.SchoolClass, exec ...core.DBExecutor) (academic.SchoolClass, error) {
	tbl := repo.db.classes
	tbl.Lock()
	defer tbl.Unlock()

	tbl.track(exec, c.ID)
	tbl.put(c.ID, c)
	return c, nil
}

func (repo *academicRepository) GetClass(ctx context.Context, id string, exec ...core.DBExecutor) (academic.SchoolClass, error) {
	tbl := repo.db.classes
	tbl.RLock()
	defer tbl.RUnlock()

	if c, ok := tbl.get(id); ok {
		return c, nil
	}
	return academic.SchoolClass{}, academic.ErrClassNotFound
}

func (repo *academicRepository) GetClassByName(ctx context.Context, name string, exec ...core.DBExecutor) (academic.SchoolClass, error) {
	tbl := repo.db.classes
	tbl.RLock()
	defer tbl.RUnlock()

	if c, ok := tbl.find(func(c academic.SchoolClass) bool { return strings.EqualFold(c.Name, name) }); ok {
		return c, nil
	}
	return academic.SchoolClass{}, academic.ErrClassNotFound
}

func (repo *academicRepository) CreateArm(ctx context.Context, a academic.ClassArm, exec ...core.DBExecutor) (academic.ClassArm, error) {
	tbl := repo.db.arms
	tbl.Lock()
	defer tbl.Unlock()

	tbl.track(exec, a.ID)
	tbl.put(a.ID, a)
	return a, nil
}

func (repo *academicRepository) GetArm(ctx context.Context, id string, exec ...core.DBExecutor) (academic.ClassArm, error) {
	tbl := repo.db.arms
	tbl.RLock()
	defer tbl.RUnlock()

	if a, ok := tbl.get(id); ok {
		return a, nil
	}
	return academic.ClassArm{}, academic.ErrArmNotFound
}

func (repo *academicRepository) GetArmByName(ctx context.Context, classID, name string, exec ...core.DBExecutor) (academic.ClassArm, error) {
	tbl := repo.db.arms
	tbl.RLock()
	defer tbl.RUnlock()

	if a, ok := tbl.find(func(a academic.ClassArm) bool {
		return a.SchoolClassID == classID && strings.EqualFold(a.Name, name)
	}); ok {
		return a, nil
	}
	return academic.ClassArm{}, academic.ErrArmNotFound
}

func (repo *academicRepository) CreateSection(ctx context.Context, s academic.ClassSection, exec ...core.DBExecutor) (academic.ClassSection, error) {
	tbl := repo.db.sections
	tbl.Lock()
	defer tbl.Unlock()

	tbl.track(exec, s.ID)
	tbl.put(s.ID, s)
	return s, nil
}

func (repo *academicRepository) GetSection(ctx context.Context, id string, exec ...core.DBExecutor) (academic.ClassSection, error) {
	tbl := repo.db.sections
	tbl.RLock()
	defer tbl.RUnlock()

	if s, ok := tbl.get(id); ok {
		return s, nil
	}
	return academic.ClassSection{}, academic.ErrSectionNotFound
}

func (repo *academicRepository) GetSectionByName(ctx context.Context, armID, name string, exec ...core.DBExecutor) (academic.ClassSection, error) {
	tbl := repo.db.sections
	tbl.RLock()
	defer tbl.RUnlock()

	if s, ok := tbl.find(func(s academic.ClassSection) bool {
		return s.ClassArmID == armID && strings.EqualFold(s.Name, name)
	}); ok {
		return s, nil
	}
	return academic.ClassSection{}, academic.ErrSectionNotFound
}
