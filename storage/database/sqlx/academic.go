package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/storage/database"
)

const (
	sessionColumns = `id, name, start_date, end_date, is_current, created_at`
	termColumns    = `id, session_id, name, start_date, end_date, created_at`
)

type academicRepository struct {
	db *sqlx.DB
}

var _ academic.Repository = (*academicRepository)(nil) // interface compliance check

func NewAcademicRepository(db *sqlx.DB) academic.Repository {
	return &academicRepository{db: db}
}

func (repo *academicRepository) CreateSession(ctx context.Context, s academic.Session, exec ...core.DBExecutor) (academic.Session, error) {
	_, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (:id, :name, :start_date, :end_date, :is_current, :created_at)`, s)
	if database.IsUniqueViolation(err, "sessions_name_key") {
		return academic.Session{}, academic.ErrSessionExists
	}
	if err != nil {
		return academic.Session{}, errors.Wrap(database.MapError(err, nil), "inserting session")
	}
	return s, nil
}

func (repo *academicRepository) getSession(ctx context.Context, where string, args []interface{}, exec []core.DBExecutor) (academic.Session, error) {
	var s academic.Session
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &s, `SELECT `+sessionColumns+` FROM sessions WHERE `+where, args...)
	if err != nil {
		return academic.Session{}, database.MapError(err, academic.ErrSessionNotFound)
	}
	return s, nil
}

func (repo *academicRepository) GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (academic.Session, error) {
	return repo.getSession(ctx, `id = $1`, []interface{}{id}, exec)
}

func (repo *academicRepository) GetSessionByName(ctx context.Context, name string, exec ...core.DBExecutor) (academic.Session, error) {
	return repo.getSession(ctx, `lower(name) = lower($1)`, []interface{}{name}, exec)
}

func (repo *academicRepository) CurrentSession(ctx context.Context, exec ...core.DBExecutor) (academic.Session, error) {
	return repo.getSession(ctx, `is_current ORDER BY start_date DESC LIMIT 1`, nil, exec)
}

func (repo *academicRepository) SetCurrentSession(ctx context.Context, id string, exec ...core.DBExecutor) error {
	e := getExec(repo.db, exec)
	res, err := e.ExecContext(ctx, `UPDATE sessions SET is_current = true WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(database.MapError(err, nil), "setting current session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return academic.ErrSessionNotFound
	}
	if _, err = e.ExecContext(ctx, `UPDATE sessions SET is_current = false WHERE is_current AND id <> $1`, id); err != nil {
		return errors.Wrap(database.MapError(err, nil), "unsetting previous current session")
	}
	return nil
}

func (repo *academicRepository) CreateTerm(ctx context.Context, t academic.Term, exec ...core.DBExecutor) (academic.Term, error) {
	_, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), `
		INSERT INTO terms (`+termColumns+`)
		VALUES (:id, :session_id, :name, :start_date, :end_date, :created_at)`, t)
	if err != nil {
		return academic.Term{}, errors.Wrap(database.MapError(err, nil), "inserting term")
	}
	return t, nil
}

func (repo *academicRepository) GetTerm(ctx context.Context, id string, exec ...core.DBExecutor) (academic.Term, error) {
	var t academic.Term
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &t, `SELECT `+termColumns+` FROM terms WHERE id = $1`, id)
	if err != nil {
		return academic.Term{}, database.MapError(err, academic.ErrTermNotFound)
	}
	return t, nil
}

func (repo *academicRepository) ListTerms(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]academic.Term, error) {
	terms := make([]academic.Term, 0)
	err := sqlx.SelectContext(ctx, getExec(repo.db, exec), &terms, `
		SELECT `+termColumns+` FROM terms
		WHERE session_id = $1
		ORDER BY start_date, name`, sessionID)
	if err != nil {
		return nil, errors.Wrap(database.MapError(err, nil), "selecting terms")
	}
	return terms, nil
}

func (repo *academicRepository) CreateClass(ctx context.Context, c academic.SchoolClass, exec ...core.DBExecutor) (academic.SchoolClass, error) {
	_, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), `INSERT INTO school_classes (id, name) VALUES (:id, :name)`, c)
	if err != nil {
		return academic.SchoolClass{}, errors.Wrap(database.MapError(err, nil), "inserting class")
	}
	return c, nil
}

func (repo *academicRepository) GetClass(ctx context.Context, id string, exec ...core.DBExecutor) (academic.SchoolClass, error) {
	var c academic.SchoolClass
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &c, `SELECT id, name FROM school_classes WHERE id = $1`, id)
	if err != nil {
		return academic.SchoolClass{}, database.MapError(err, academic.ErrClassNotFound)
	}
	return c, nil
}

func (repo *academicRepository) GetClassByName(ctx context.Context, name string, exec ...core.DBExecutor) (academic.SchoolClass, error) {
	var c academic.SchoolClass
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &c, `SELECT id, name FROM school_classes WHERE lower(name) = lower($1)`, name)
	if err != nil {
		return academic.SchoolClass{}, database.MapError(err, academic.ErrClassNotFound)
	}
	return c, nil
}

func (repo *academicRepository) CreateArm(ctx context.Context, a academic.ClassArm, exec ...core.DBExecutor) (academic.ClassArm, error) {
	_, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), `
		INSERT INTO class_arms (id, school_class_id, name) VALUES (:id, :school_class_id, :name)`, a)
	if err != nil {
		return academic.ClassArm{}, errors.Wrap(database.MapError(err, nil), "inserting class arm")
	}
	return a, nil
}

func (repo *academicRepository) GetArm(ctx context.Context, id string, exec ...core.DBExecutor) (academic.ClassArm, error) {
	var a academic.ClassArm
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &a, `SELECT id, school_class_id, name FROM class_arms WHERE id = $1`, id)
	if err != nil {
		return academic.ClassArm{}, database.MapError(err, academic.ErrArmNotFound)
	}
	return a, nil
}

func (repo *academicRepository) GetArmByName(ctx context.Context, classID, name string, exec ...core.DBExecutor) (academic.ClassArm, error) {
	var a academic.ClassArm
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &a, `
		SELECT id, school_class_id, name FROM class_arms
		WHERE school_class_id = $1 AND lower(name) = lower($2)`, classID, name)
	if err != nil {
		return academic.ClassArm{}, database.MapError(err, academic.ErrArmNotFound)
	}
	return a, nil
}

func (repo *academicRepository) CreateSection(ctx context.Context, s academic.ClassSection, exec ...core.DBExecutor) (academic.ClassSection, error) {
	_, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), `
		INSERT INTO class_sections (id, class_arm_id, name) VALUES (:id, :class_arm_id, :name)`, s)
	if err != nil {
		return academic.ClassSection{}, errors.Wrap(database.MapError(err, nil), "inserting class section")
	}
	return s, nil
}

func (repo *academicRepository) GetSection(ctx context.Context, id string, exec ...core.DBExecutor) (academic.ClassSection, error) {
	var s academic.ClassSection
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &s, `SELECT id, class_arm_id, name FROM class_sections WHERE id = $1`, id)
	if err != nil {
		return academic.ClassSection{}, database.MapError(err, academic.ErrSectionNotFound)
	}
	return s, nil
}

func (repo *academicRepository) GetSectionByName(ctx context.Context, armID, name string, exec ...core.DBExecutor) (academic.ClassSection, error) {
	var s academic.ClassSection
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &s, `
		SELECT id, class_arm_id, name FROM class_sections
		WHERE class_arm_id = $1 AND lower(name) = lower($2)`, armID, name)
	if err != nil {
		return academic.ClassSection{}, database.MapError(err, academic.ErrSectionNotFound)
	}
	return s, nil
}
