package sqlxrepos

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
	"github.com/Incrisz/school-nextjs-sub002/storage/database"
)

var (
	ctx = context.Background()
	now = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return sqlx.NewDb(db, "postgres"), mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func TestGetExec(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	tx, err := db.Beginx()
	require.NoError(t, err)

	assert.Equal(t, db, getExec(db, nil))
	assert.Equal(t, db, getExec(db, []core.DBExecutor{nil}))
	assert.Equal(t, tx, getExec(db, []core.DBExecutor{tx}))
}

func TestAcademicRepository_Sessions(t *testing.T) {
	cols := []string{"id", "name", "start_date", "end_date", "is_current", "created_at"}
	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	t.Run("get", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(q("FROM sessions WHERE id = $1")).
			WithArgs("sess-1").
			WillReturnRows(sqlmock.NewRows(cols).AddRow("sess-1", "2024/2025", start, end, true, now))

		sess, err := NewAcademicRepository(db).GetSession(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, academic.Session{
			ID: "sess-1", Name: "2024/2025", StartDate: start, EndDate: end, IsCurrent: true, CreatedAt: now,
		}, sess)
	})

	t.Run("by name is case insensitive", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(q("FROM sessions WHERE lower(name) = lower($1)")).
			WithArgs("2024/2025").
			WillReturnRows(sqlmock.NewRows(cols))

		_, err := NewAcademicRepository(db).GetSessionByName(ctx, "2024/2025")
		assert.Equal(t, academic.ErrSessionNotFound, errors.Cause(err))
	})

	t.Run("duplicate name", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("INSERT INTO sessions")).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "sessions_name_key"})

		_, err := NewAcademicRepository(db).CreateSession(ctx, academic.Session{ID: "s", Name: "2024/2025", StartDate: start, EndDate: end})
		assert.Equal(t, academic.ErrSessionExists, errors.Cause(err))
	})

	t.Run("set current", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("UPDATE sessions SET is_current = true WHERE id = $1")).
			WithArgs("sess-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("UPDATE sessions SET is_current = false WHERE is_current AND id <> $1")).
			WithArgs("sess-2").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, NewAcademicRepository(db).SetCurrentSession(ctx, "sess-2"))
	})

	t.Run("set current unknown", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("UPDATE sessions SET is_current = true WHERE id = $1")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewAcademicRepository(db).SetCurrentSession(ctx, "nope")
		assert.Equal(t, academic.ErrSessionNotFound, errors.Cause(err))
	})
}

func TestAcademicRepository_Placement(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		call    func(academic.Repository) error
		wantErr error
	}{
		{
			name:  "class",
			query: "FROM school_classes WHERE id = $1",
			call: func(repo academic.Repository) error {
				_, err := repo.GetClass(ctx, "c")
				return err
			},
			wantErr: academic.ErrClassNotFound,
		},
		{
			name:  "arm by name",
			query: "FROM class_arms WHERE school_class_id = $1 AND lower(name) = lower($2)",
			call: func(repo academic.Repository) error {
				_, err := repo.GetArmByName(ctx, "c", "A")
				return err
			},
			wantErr: academic.ErrArmNotFound,
		},
		{
			name:  "section",
			query: "FROM class_sections WHERE id = $1",
			call: func(repo academic.Repository) error {
				_, err := repo.GetSection(ctx, "s")
				return err
			},
			wantErr: academic.ErrSectionNotFound,
		},
		{
			name:  "term",
			query: "FROM terms WHERE id = $1",
			call: func(repo academic.Repository) error {
				_, err := repo.GetTerm(ctx, "t")
				return err
			},
			wantErr: academic.ErrTermNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectQuery(q(tt.query)).WillReturnRows(sqlmock.NewRows([]string{"id"}))

			err := tt.call(NewAcademicRepository(db))
			assert.Equal(t, tt.wantErr, errors.Cause(err))
		})
	}
}

func TestAcademicRepository_ListTerms(t *testing.T) {
	db, mock := newMock(t)
	day := func(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }
	mock.ExpectQuery(q("FROM terms WHERE session_id = $1 ORDER BY start_date, name")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "name", "start_date", "end_date", "created_at"}).
			AddRow("t1", "sess-1", "1st", day(9, 2), day(12, 13), now).
			AddRow("t2", "sess-1", "2nd", day(1, 6), day(4, 4), now))

	terms, err := NewAcademicRepository(db).ListTerms(ctx, "sess-1")
	require.NoError(t, err)
	if assert.Len(t, terms, 2) {
		assert.Equal(t, "1st", terms[0].Name)
		assert.Equal(t, day(12, 13), terms[0].EndDate)
	}
}

var studentCols = []string{
	"id", "admission_no", "first_name", "middle_name", "last_name", "gender", "date_of_birth", "parent_id",
	"school_class_id", "class_arm_id", "class_section_id", "current_session_id", "current_term_id",
	"status", "import_batch_id", "created_at", "updated_at",
}

func TestStudentRepository_CreateStudent(t *testing.T) {
	s := student.Student{
		ID:               "stu-1",
		AdmissionNo:      "ADM/001",
		FirstName:        "Ada",
		LastName:         "Obi",
		Placement:        academic.Placement{SchoolClassID: "c", ClassArmID: "a"},
		CurrentSessionID: "sess-1",
		Status:           student.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	t.Run("ok", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("INSERT INTO students")).
			WithArgs(
				"stu-1", "ADM/001", "Ada", "", "Obi", "", nil, nil,
				"c", "a", nil, "sess-1", nil,
				student.StatusActive, nil, now, now,
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		got, err := NewStudentRepository(db).CreateStudent(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	})

	t.Run("admission number taken", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("INSERT INTO students")).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "students_admission_no_key"})

		_, err := NewStudentRepository(db).CreateStudent(ctx, s)
		assert.Equal(t, student.ErrAdmissionNoExists, errors.Cause(err))
		assert.True(t, core.IsConflict(err, "admission_no_exists"))
	})
}

func TestStudentRepository_LockStudent(t *testing.T) {
	const stuID = "5b0f7c8e-2a41-4d3a-9a57-1f0e6c2d9b11"

	t.Run("ok", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM students WHERE id = $1 FOR UPDATE")).
			WithArgs(stuID).
			WillReturnRows(sqlmock.NewRows(studentCols).AddRow(
				stuID, "ADM/001", "Ada", "", "Obi", "female", nil, nil,
				"c", "a", "sec", "sess-1", "t1",
				student.StatusActive, nil, now, now,
			))
		mock.ExpectCommit()

		repo := NewStudentRepository(db)
		var got student.Student
		err := database.NewTransactor(db).InTx(ctx, func(exec core.DBExecutor) error {
			var err error
			got, err = repo.LockStudent(ctx, stuID, exec)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, academic.Placement{SchoolClassID: "c", ClassArmID: "a", ClassSectionID: null.StringFrom("sec")}, got.Placement)
		assert.Equal(t, null.StringFrom("t1"), got.CurrentTermID)
		assert.Equal(t, "Ada Obi", got.FullName())
	})

	t.Run("malformed id keeps the transaction usable", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		repo := NewStudentRepository(db)
		err := database.NewTransactor(db).InTx(ctx, func(exec core.DBExecutor) error {
			_, err := repo.LockStudent(ctx, "not-a-uuid", exec)
			assert.Equal(t, student.ErrNotFound, errors.Cause(err))
			_, err = repo.GetStudent(ctx, "", exec)
			assert.Equal(t, student.ErrNotFound, errors.Cause(err))
			return nil
		})
		assert.NoError(t, err)
	})
}

func TestStudentRepository_UpdatePlacement(t *testing.T) {
	p := academic.Placement{SchoolClassID: "c2", ClassArmID: "a2"}

	t.Run("ok", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("UPDATE students")).
			WithArgs("stu-1", "c2", "a2", nil, "sess-2", "t1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := NewStudentRepository(db).UpdatePlacement(ctx, "stu-1", p, "sess-2", null.StringFrom("t1"))
		assert.NoError(t, err)
	})

	t.Run("unknown student", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("UPDATE students")).WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewStudentRepository(db).UpdatePlacement(ctx, "nope", p, "sess-2", null.String{})
		assert.Equal(t, student.ErrNotFound, errors.Cause(err))
	})
}

func TestStudentRepository_ExistingAdmissionNos(t *testing.T) {
	db, mock := newMock(t)
	repo := NewStudentRepository(db)

	found, err := repo.ExistingAdmissionNos(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, found, "no query for no input")

	mock.ExpectQuery(q("SELECT admission_no FROM students WHERE lower(admission_no) = ANY")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"admission_no"}).AddRow("ADM/002"))

	found, err = repo.ExistingAdmissionNos(ctx, []string{"adm/002", "ADM/009"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ADM/002"}, found)
}

func TestStudentRepository_Parents(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM parents WHERE lower(email) = lower($1)")).
		WithArgs("MUM@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow("p1", "Mum", "mum@example.com"))
	mock.ExpectQuery(q("FROM parents")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}))

	repo := NewStudentRepository(db)
	p, err := repo.GetParentByEmail(ctx, "MUM@example.com")
	require.NoError(t, err)
	assert.Equal(t, student.Parent{ID: "p1", Name: "Mum", Email: "mum@example.com"}, p)

	_, err = repo.GetParentByEmail(ctx, "dad@example.com")
	assert.Equal(t, student.ErrParentNotFound, errors.Cause(err))
}

func TestSubjectOverrides_ClearOverrides(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("DELETE FROM student_subject_overrides WHERE student_id = $1")).
		WithArgs("stu-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	assert.NoError(t, NewSubjectOverrides(db).ClearOverrides(ctx, "stu-1"))
}

var batchCols = []string{
	"id", "filename", "file_key", "status", "rows", "summary", "warnings",
	"uploaded_by", "uploader_email", "created_at", "expires_at", "updated_at",
}

func TestBatchRepository_CreateAndGet(t *testing.T) {
	b := studentimport.Batch{
		ID:       "b1",
		Filename: "students.csv",
		FileKey:  "imports/b1/students.csv",
		Status:   studentimport.StatusStaged,
		Rows: []studentimport.Row{
			{Row: 2, Record: studentimport.Record{FirstName: "Ada", LastName: "Obi", AdmissionNo: "ADM/001"}},
			{Row: 3, Errors: []studentimport.RowError{{Row: 3, Column: "gender", Message: "gender must be one of [male female]"}}},
		},
		Summary:       studentimport.Summary{Total: 2, Valid: 1, Invalid: 1, BySession: map[string]int{"2024/2025": 1}, ByClass: map[string]int{"JSS 1": 1}},
		UploadedBy:    "Test Operator <operator@test.test>",
		UploaderEmail: "operator@test.test",
		CreatedAt:     now,
		ExpiresAt:     now.Add(24 * time.Hour),
	}
	row, err := toBatchRow(b)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(row.Warnings), "nil warnings are stored as an empty list")

	db, mock := newMock(t)
	mock.ExpectExec(q("INSERT INTO import_batches")).
		WithArgs(
			"b1", "students.csv", "imports/b1/students.csv", studentimport.StatusStaged,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			b.UploadedBy, b.UploaderEmail, now, b.ExpiresAt, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("FROM import_batches WHERE id = $1")).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows(batchCols).AddRow(
			row.ID, row.Filename, row.FileKey, row.Status, []byte(row.Rows), []byte(row.Summary), []byte(row.Warnings),
			row.UploadedBy, row.UploaderEmail, row.CreatedAt, row.ExpiresAt, nil,
		))

	repo := NewBatchRepository(db)
	_, err = repo.CreateBatch(ctx, b)
	require.NoError(t, err)

	got, err := repo.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, b.Rows, got.Rows)
	assert.Equal(t, b.Summary, got.Summary)
	assert.Equal(t, []string{}, got.Warnings)
	assert.Equal(t, b.Errors(), got.Errors())
	assert.False(t, got.UpdatedAt.Valid)
}

func TestBatchRepository_TransitionBatch(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		exists   bool
		wantOK   bool
		wantErr  error
	}{
		{name: "transitioned", affected: 1, wantOK: true},
		{name: "not in from status", affected: 0, exists: true},
		{name: "unknown batch", affected: 0, wantErr: studentimport.ErrBatchNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectExec(q("UPDATE import_batches SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
				WithArgs("b1", studentimport.StatusStaged, studentimport.StatusCommitted, now).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				mock.ExpectQuery(q("SELECT EXISTS")).
					WithArgs("b1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			ok, err := NewBatchRepository(db).TransitionBatch(ctx, "b1", studentimport.StatusStaged, studentimport.StatusCommitted, now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantErr, errors.Cause(err))
		})
	}
}

func TestBatchRepository_ExpireBatches(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("UPDATE import_batches SET status = $1, updated_at = $3 WHERE status = $2 AND expires_at <= $3")).
		WithArgs(studentimport.StatusExpired, studentimport.StatusStaged, now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := NewBatchRepository(db).ExpireBatches(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestWhereClause(t *testing.T) {
	tests := []struct {
		name      string
		filter    ledger.Filter
		wantWhere string
		wantArgs  []interface{}
	}{
		{name: "empty", wantArgs: []interface{}{}},
		{
			name:      "session",
			filter:    ledger.Filter{SessionID: "s"},
			wantWhere: " WHERE to_session_id::text = $1",
			wantArgs:  []interface{}{"s"},
		},
		{
			name:      "all",
			filter:    ledger.Filter{SessionID: "s", TermID: "t", SchoolClassID: "c"},
			wantWhere: " WHERE to_session_id::text = $1 AND term_id::text = $2 AND (from_school_class_id::text = $3 OR to_school_class_id::text = $3)",
			wantArgs:  []interface{}{"s", "t", "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := whereClause(tt.filter)
			assert.Equal(t, tt.wantWhere, where)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

var promotionCols = []string{
	"seq", "id", "student_id", "admission_no", "student_name", "from_session_id", "to_session_id", "term_id",
	"from_school_class_id", "to_school_class_id", "from_placement_label", "to_placement_label", "performed_by", "promoted_at",
}

func TestLedgerRepository_Promotions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLedgerRepository(db)

	mock.ExpectQuery(q("INSERT INTO promotion_records")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(7)))
	rec, err := repo.AppendPromotion(ctx, ledger.PromotionRecord{ID: "r1", StudentID: "stu-1", PromotedAt: now})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Seq)

	mock.ExpectQuery(q("FROM promotion_records WHERE to_session_id::text = $1 AND (from_school_class_id::text = $2 OR to_school_class_id::text = $2) ORDER BY seq LIMIT $3 OFFSET $4")).
		WithArgs("sess-2", "jss1", 20, 40).
		WillReturnRows(sqlmock.NewRows(promotionCols).AddRow(
			int64(7), "r1", "stu-1", "ADM/001", "Ada Obi", "sess-1", "sess-2", nil,
			"jss1", "jss2", "JSS 1 / A", "JSS 2 / A", "Test Operator", now,
		))
	recs, err := repo.QueryPromotions(ctx, ledger.Filter{SessionID: "sess-2", SchoolClassID: "jss1"}, 20, 40)
	require.NoError(t, err)
	if assert.Len(t, recs, 1) {
		assert.Equal(t, "JSS 2 / A", recs[0].ToLabel)
		assert.False(t, recs[0].TermID.Valid)
		assert.Equal(t, now, recs[0].PromotedAt)
	}

	mock.ExpectQuery(q("SELECT count(*) FROM promotion_records WHERE term_id::text = $1")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	n, err := repo.CountPromotions(ctx, ledger.Filter{TermID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLedgerRepository_Rollovers(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLedgerRepository(db)

	mock.ExpectQuery(q("INSERT INTO rollover_records")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	rec, err := repo.AppendRollover(ctx, ledger.RolloverRecord{ID: "r1", SourceSessionID: "a", NewSessionID: "b", TermCount: 3, CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Seq)

	mock.ExpectQuery(q("FROM rollover_records WHERE $1 = '' OR source_session_id::text = $1 ORDER BY seq LIMIT $2 OFFSET $3")).
		WithArgs("", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "source_session_id", "new_session_id", "new_session_name", "term_count", "notes", "performed_by", "created_at"}).
			AddRow(int64(1), "r1", "a", "b", "2025/2026", 3, "", "Test Operator", now))
	recs, err := repo.QueryRollovers(ctx, "", 20, 0)
	require.NoError(t, err)
	if assert.Len(t, recs, 1) {
		assert.Equal(t, "2025/2026", recs[0].NewSessionName)
	}

	mock.ExpectQuery(q("SELECT count(*) FROM rollover_records")).
		WithArgs("a").
		WillReturnError(&pq.Error{Code: "40P01"})
	_, err = repo.CountRollovers(ctx, "a")
	_, ok := errors.Cause(err).(*core.TransientError)
	assert.True(t, ok, "got %T", err)
}
