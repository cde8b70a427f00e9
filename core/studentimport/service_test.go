package studentimport_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
	. "github.com/Incrisz/school-nextjs-sub002/core/studentimport"
	"github.com/Incrisz/school-nextjs-sub002/services/email"
	"github.com/Incrisz/school-nextjs-sub002/services/export"
	"github.com/Incrisz/school-nextjs-sub002/services/filestore"
	"github.com/Incrisz/school-nextjs-sub002/services/locker"
	"github.com/Incrisz/school-nextjs-sub002/services/spreadsheet"
	"github.com/Incrisz/school-nextjs-sub002/tests"
)

var ctx = context.Background()

const header = "first_name,middle_name,last_name,admission_no,gender,date_of_birth,session,term,class,arm,section,parent_email\n"

type fixture struct {
	store  *testutil.Store
	files  *filestore.MemoryStore
	mail   *emailsvc.ConsoleService
	locker *lockersvc.LocalLocker
	svc    *Service
}

func setup(t *testing.T, students ...student.Repository) *fixture {
	store := testutil.NewStore()
	f := &fixture{
		store:  store,
		files:  filestore.NewMemoryStore(),
		mail:   emailsvc.NewConsoleServiceMock(),
		locker: lockersvc.NewLocalLocker(0),
	}

	sess, _ := testutil.CreateSession(t, store, "2024/2025", "2024-09-01", "2025-07-01",
		[3]string{"1st", "2024-09-02", "2024-12-13"},
	)
	jss1 := testutil.CreatePlacement(t, store, "JSS 1", "A", "")
	testutil.CreatePlacement(t, store, "JSS 2", "A", "Science")
	testutil.CreateParent(t, store, "Mrs Obi", "obi@family.test")
	testutil.CreateStudent(t, store, "ADM/OLD", "Old", "Student", jss1.Placement(), sess.ID)

	repo := store.Students
	if len(students) > 0 {
		repo = students[0]
	}
	f.svc = NewService(&ServiceDeps{
		Repo:       store.Batches,
		Periods:    store.Periods,
		Students:   repo,
		Tx:         store.DB,
		Locker:     f.locker,
		Files:      f.files,
		Decoder:    spreadsheet.NewDecoder(),
		Reporter:   export.CSVExporter{},
		MailSvc:    f.mail,
		Logger:     testutil.Logger(),
		Validate:   store.Validate,
		Translator: store.Translator,
	}, Options{BatchTTL: time.Hour, MaxRows: 100})
	return f
}

func (f *fixture) preview(t *testing.T, content string) Batch {
	b, err := f.svc.Preview(ctx, Upload{Filename: "students.csv", ContentType: "text/csv", Body: strings.NewReader(content)}, testutil.Actor)
	require.NoError(t, err)
	return b
}

func (f *fixture) countStudents(t *testing.T) int {
	n, err := f.store.Students.CountStudents(ctx)
	require.NoError(t, err)
	return n
}

// mixed has 3 valid rows (2, 3 and 8), 2 invalid ones and 2 blank ones.
var mixed = header +
	"Ada,,Obi,ADM/001,female,2012-05-14,2024/2025,1st,JSS 1,A,,obi@family.test\n" +
	"Bola,,Ade,ADM/002,male,,2024/2025,,jss 2,a,science,\n" +
	"Chi,,Eze,ADM/001,,,2024/2025,,JSS 1,A,,\n" + // duplicate in file
	",,Nameless,ADM/OLD,,14/05/2012,2023/2024,,JSS 1,A,,\n" + // several errors
	"\n" +
	",,,,,,,,,,,\n" +
	"Dayo,,Ola,ADM/003,,,2024/2025,,JSS 1,A,,\n"

func TestService_Preview(t *testing.T) {
	f := setup(t)
	testutil.SetNow(t, time.Date(2024, 8, 20, 9, 0, 0, 0, time.UTC))

	b := f.preview(t, mixed)
	assert.Equal(t, StatusStaged, b.Status)
	assert.Equal(t, "students.csv", b.Filename)
	assert.Equal(t, testutil.Actor.Label(), b.UploadedBy)
	assert.Equal(t, time.Date(2024, 8, 20, 10, 0, 0, 0, time.UTC), b.ExpiresAt)
	assert.True(t, f.files.Has("imports/"+b.ID+"/students.csv"), "the file is archived")
	assert.Empty(t, b.Warnings)

	assert.Equal(t, Summary{
		Total:     5,
		Valid:     3,
		Invalid:   2,
		BySession: map[string]int{"2024/2025": 3},
		ByClass:   map[string]int{"JSS 1": 2, "jss 2": 1},
	}, b.Summary)

	rows := make(map[int]Row, len(b.Rows))
	for _, r := range b.Rows {
		rows[r.Row] = r
	}
	assert.Len(t, rows, 5, "blank rows are skipped")
	assert.True(t, rows[2].Valid())
	assert.True(t, rows[3].Valid())
	assert.True(t, rows[8].Valid(), "row numbers follow the file")

	assert.Equal(t, []RowError{{
		Row:     4,
		Column:  ColAdmissionNo,
		Message: "duplicate admission number in file (first seen on row 2)",
	}}, rows[4].Errors)

	byColumn := make(map[string]string)
	for _, e := range rows[5].Errors {
		byColumn[e.Column] = e.Message
	}
	assert.Equal(t, map[string]string{
		ColFirstName:   "this field is required",
		ColDateOfBirth: "must be a date formatted as YYYY-MM-DD",
		ColAdmissionNo: "admission number already in use",
		ColSession:     `session "2023/2024" not found`,
	}, byColumn)

	got, err := f.svc.Get(ctx, " "+b.ID+" ")
	require.NoError(t, err)
	assert.Equal(t, b.Rows, got.Rows)
	assert.Equal(t, 1, f.countStudents(t), "preview creates no student")
}

func TestService_Preview_References(t *testing.T) {
	f := setup(t)
	b := f.preview(t, header+
		"A,,B,ADM/1,,,2024/2025,3rd,JSS 1,A,,\n"+
		"A,,B,ADM/2,,,2024/2025,,JSS 9,A,,\n"+
		"A,,B,ADM/3,,,2024/2025,,JSS 1,Z,,\n"+
		"A,,B,ADM/4,,,2024/2025,,JSS 1,A,Arts,\n"+
		"A,,B,ADM/5,,,2024/2025,,JSS 1,A,,nobody@family.test\n"+
		"A,,B,ADM/6,unknown,,2024/2025,,JSS 1,A,,not-an-email\n",
	)

	want := []RowError{
		{Row: 2, Column: ColTerm, Message: `term "3rd" not found in session "2024/2025"`},
		{Row: 3, Column: ColClass, Message: `class "JSS 9" not found`},
		{Row: 4, Column: ColArm, Message: `arm "Z" not found in class "JSS 1"`},
		{Row: 5, Column: ColSection, Message: `section "Arts" not found in arm "A"`},
		{Row: 6, Column: ColParentEmail, Message: `no parent with email "nobody@family.test"`},
	}
	errs := b.Errors()
	assert.Equal(t, want, errs[:len(want)])
	if assert.Len(t, errs, len(want)+2) {
		assert.Equal(t, ColGender, errs[5].Column)
		assert.Equal(t, ColParentEmail, errs[6].Column)
	}
	assert.Equal(t, 0, b.Summary.Valid)
}

func TestService_Preview_FileErrors(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name       string
		up         Upload
		structural bool
		wantMsg    string
	}{
		{
			name:       "no file",
			up:         Upload{Filename: "students.csv"},
			structural: true,
		},
		{
			name:       "no name",
			up:         Upload{Body: strings.NewReader(header)},
			structural: true,
		},
		{
			name:    "empty file",
			up:      Upload{Filename: "students.csv", Body: strings.NewReader("")},
			wantMsg: "the file has no header row",
		},
		{
			name:    "missing columns",
			up:      Upload{Filename: "students.csv", Body: strings.NewReader("first_name,last_name\nAda,Obi\n")},
			wantMsg: "missing required column(s): admission_no, session, class, arm",
		},
		{
			name:    "too many rows",
			up:      Upload{Filename: "students.csv", Body: strings.NewReader(header + strings.Repeat("A,,B,ADM/1,,,2024/2025,,JSS 1,A,,\n", 101))},
			wantMsg: "too many rows: 101 (max 100)",
		},
		{
			name:    "unsupported type",
			up:      Upload{Filename: "students.docx", Body: strings.NewReader("x")},
			wantMsg: `unsupported file type ".docx": upload a .csv or .xlsx file`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Preview(ctx, tt.up, testutil.Actor)
			require.Error(t, err)
			if tt.structural {
				_, ok := errors.Cause(err).(*core.StructuralError)
				assert.True(t, ok, "err = %T", err)
				return
			}
			verr, ok := errors.Cause(err).(*core.ValidationError)
			if assert.True(t, ok, "err = %T", err) {
				assert.Equal(t, []core.FieldError{{Field: "file", Error: tt.wantMsg}}, verr.Fields)
			}
		})
	}
}

func TestService_Preview_Warnings(t *testing.T) {
	f := setup(t)
	b := f.preview(t, "First_Name , last_name,admission_no,session,class,arm,nickname,arm\nAda,Obi,ADM/1,2024/2025,JSS 1,A,Ace,B\n")
	assert.Equal(t, []string{`unknown column "nickname" ignored`, `duplicate column "arm" ignored`}, b.Warnings)
	assert.True(t, b.Rows[0].Valid())
	assert.Equal(t, "A", b.Rows[0].Record.Arm, "the first occurrence wins")
}

func TestService_Preview_XLSX(t *testing.T) {
	f := setup(t)
	tmpl := Template()
	buf := new(bytes.Buffer)
	require.NoError(t, spreadsheet.XLSXExporter{}.Export(buf, tmpl))

	b, err := f.svc.Preview(ctx, Upload{Filename: "template.xlsx", Body: buf}, testutil.Actor)
	require.NoError(t, err)
	if assert.Len(t, b.Rows, 1) {
		assert.Equal(t, 2, b.Rows[0].Row)
		assert.Equal(t, "ADM/2024/001", b.Rows[0].Record.AdmissionNo)
		// the example parent does not exist in this store
		assert.False(t, b.Rows[0].Valid())
	}
}

func TestService_Commit(t *testing.T) {
	f := setup(t)
	b := f.preview(t, mixed)

	res, err := f.svc.Commit(ctx, b.ID, testutil.Actor)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "Imported 3 student(s); 0 row(s) failed", res.Message)
	assert.Equal(t, 4, f.countStudents(t))

	// error rows are never committed
	nos, err := f.store.Students.ExistingAdmissionNos(ctx, []string{"ADM/001", "ADM/002", "ADM/003", "ADM/OLD"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ADM/001", "ADM/002", "ADM/003", "ADM/OLD"}, nos)

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, got.Status)
	assert.True(t, got.UpdatedAt.Valid)

	sent := f.mail.Sent()
	if assert.Len(t, sent, 1) {
		assert.Equal(t, testutil.Actor.Email, sent[0].To[0].Address)
		assert.Contains(t, sent[0].BodyStr, "Created: 3 student(s)")
		assert.Contains(t, sent[0].BodyStr, "Rejected at preview: 2 row(s)")
		assert.False(t, sent[0].HasAttachments())
	}

	t.Run("again", func(t *testing.T) {
		_, err := f.svc.Commit(ctx, b.ID, testutil.Actor)
		assert.Equal(t, ErrAlreadyCommitted, errors.Cause(err))
		assert.Equal(t, 4, f.countStudents(t))
	})

	t.Run("discard committed", func(t *testing.T) {
		err := f.svc.Discard(ctx, b.ID, testutil.Actor)
		assert.Equal(t, ErrAlreadyCommitted, errors.Cause(err))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := f.svc.Commit(ctx, "nope", testutil.Actor)
		assert.Equal(t, ErrBatchNotFound, errors.Cause(err))
	})
}

func TestService_Commit_Concurrent(t *testing.T) {
	f := setup(t)
	b := f.preview(t, mixed)

	var wg sync.WaitGroup
	results := make([]error, 2)
	created := make([]int, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Commit(ctx, b.ID, testutil.Actor)
			results[i], created[i] = err, res.Created
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case core.IsConflict(err, "batch_already_committed"):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 3, created[0]+created[1])
	assert.Equal(t, 4, f.countStudents(t))
}

func TestService_Commit_Revalidates(t *testing.T) {
	f := setup(t)
	b := f.preview(t, mixed)

	// ADM/002 is taken between preview and commit
	jss1, err := f.store.Periods.ResolvePlacementByName(ctx, "JSS 1", "A", "")
	require.NoError(t, err)
	testutil.CreateStudent(t, f.store, "ADM/002", "Other", "Student", jss1.Placement(), "")

	res, err := f.svc.Commit(ctx, b.ID, testutil.Actor)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, []Failure{{Row: 3, AdmissionNo: "ADM/002", Reason: "admission number already in use"}}, res.Failed)
	assert.Equal(t, "Imported 2 student(s); 1 row(s) failed", res.Message)

	sent := f.mail.Sent()
	if assert.Len(t, sent, 1) && assert.True(t, sent[0].HasAttachments()) {
		assert.Equal(t, "failed-rows.csv", sent[0].Attachments[0].Filename)
		assert.Equal(t, "text/csv", sent[0].Attachments[0].ContentType)
	}
}

func TestService_Commit_Expired(t *testing.T) {
	f := setup(t)
	now := time.Date(2024, 8, 20, 9, 0, 0, 0, time.UTC)
	testutil.SetNow(t, now)
	b := f.preview(t, mixed)

	testutil.SetNow(t, now.Add(time.Hour))
	_, err := f.svc.Commit(ctx, b.ID, testutil.Actor)
	assert.True(t, core.IsConflict(err, "batch_expired"), "err = %v", err)
	assert.Equal(t, 1, f.countStudents(t))

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	_, err = f.svc.Commit(ctx, b.ID, testutil.Actor)
	assert.True(t, core.IsConflict(err, "batch_expired"), "err = %v", err)
}

// reapingStudents expires every staged batch on the first student created, as the reaper would mid-commit.
type reapingStudents struct {
	student.Repository
	batches Repository
	reaped  int
}

func (r *reapingStudents) CreateStudent(ctx context.Context, s student.Student, exec ...core.DBExecutor) (student.Student, error) {
	if r.reaped == 0 {
		n, err := r.batches.ExpireBatches(ctx, core.NowFunc().Add(24*time.Hour))
		if err != nil {
			return student.Student{}, err
		}
		r.reaped = n
	}
	return r.Repository.CreateStudent(ctx, s, exec...)
}

func TestService_Commit_ExpiredDuringCommit(t *testing.T) {
	repo := &reapingStudents{}
	f := setup(t, repo)
	repo.Repository, repo.batches = f.store.Students, f.store.Batches
	b := f.preview(t, mixed)

	_, err := f.svc.Commit(ctx, b.ID, testutil.Actor)
	assert.True(t, core.IsConflict(err, "batch_expired"), "err = %v", err)
	assert.Equal(t, 1, repo.reaped)
	assert.Equal(t, 1, f.countStudents(t), "nothing was written")

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status, "the expiry survives the rollback")
	assert.Empty(t, f.mail.Sent())
}

type failingStudents struct {
	student.Repository
	failOn  string
	created int
}

func (r *failingStudents) CreateStudent(ctx context.Context, s student.Student, exec ...core.DBExecutor) (student.Student, error) {
	if s.AdmissionNo == r.failOn {
		return student.Student{}, errors.New("connection reset")
	}
	r.created++
	return r.Repository.CreateStudent(ctx, s, exec...)
}

func TestService_Commit_StorageFailure(t *testing.T) {
	repo := &failingStudents{failOn: "ADM/003"}
	f := setup(t, repo)
	repo.Repository = f.store.Students
	b := f.preview(t, mixed)

	_, err := f.svc.Commit(ctx, b.ID, testutil.Actor)
	require.Error(t, err)
	_, transient := errors.Cause(err).(*core.TransientError)
	assert.True(t, transient, "err = %T", errors.Cause(err))
	assert.Contains(t, err.Error(), "committing batch failed at row 8: nothing was written")

	assert.Equal(t, 2, repo.created, "rows before the failure were attempted")
	assert.Equal(t, 1, f.countStudents(t), "and rolled back")
	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStaged, got.Status)
	assert.Empty(t, f.mail.Sent())
}

func TestService_Commit_Locked(t *testing.T) {
	f := setup(t)
	b := f.preview(t, mixed)

	unlock, err := f.locker.Lock(ctx, LockKey(b.ID))
	require.NoError(t, err)
	defer unlock()

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.svc.Commit(cctx, b.ID, testutil.Actor)
	_, transient := errors.Cause(err).(*core.TransientError)
	assert.True(t, transient, "err = %v", err)
}

func TestService_Discard_Locked(t *testing.T) {
	f := setup(t)
	b := f.preview(t, mixed)

	unlock, err := f.locker.Lock(ctx, LockKey(b.ID))
	require.NoError(t, err)
	defer unlock()

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = f.svc.Discard(cctx, b.ID, testutil.Actor)
	_, transient := errors.Cause(err).(*core.TransientError)
	assert.True(t, transient, "err = %v", err)

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStaged, got.Status)
}

func TestService_Discard(t *testing.T) {
	f := setup(t)
	b := f.preview(t, mixed)
	key := "imports/" + b.ID + "/students.csv"
	require.True(t, f.files.Has(key))

	require.NoError(t, f.svc.Discard(ctx, b.ID, testutil.Actor))
	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, got.Status)
	assert.False(t, f.files.Has(key))

	err = f.svc.Discard(ctx, b.ID, testutil.Actor)
	assert.True(t, core.IsConflict(err, "batch_not_staged"))
	_, err = f.svc.Commit(ctx, b.ID, testutil.Actor)
	assert.True(t, core.IsConflict(err, "batch_not_staged"))
	assert.Equal(t, 1, f.countStudents(t))
}

func TestService_ErrorReport(t *testing.T) {
	f := setup(t)
	b := f.preview(t, mixed)

	buf := new(bytes.Buffer)
	require.NoError(t, f.svc.ErrorReport(ctx, b.ID, export.CSVExporter{}, buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "Row,Column,Message", lines[0])
	assert.Equal(t, "4,admission_no,duplicate admission number in file (first seen on row 2)", lines[1])
	assert.Len(t, lines, 1+len(b.Errors()))

	assert.Equal(t, ErrBatchNotFound, errors.Cause(f.svc.ErrorReport(ctx, "nope", export.CSVExporter{}, buf)))
}

func TestService_ReapExpired(t *testing.T) {
	f := setup(t)
	now := time.Date(2024, 8, 20, 9, 0, 0, 0, time.UTC)
	testutil.SetNow(t, now)
	old := f.preview(t, mixed)
	committed := f.preview(t, header+"A,,B,ADM/9,,,2024/2025,,JSS 1,A,,\n")
	_, err := f.svc.Commit(ctx, committed.ID, testutil.Actor)
	require.NoError(t, err)

	testutil.SetNow(t, now.Add(30*time.Minute))
	fresh := f.preview(t, mixed)

	testutil.SetNow(t, now.Add(time.Hour))
	n, err := f.svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[string]string{old.ID: StatusExpired, committed.ID: StatusCommitted, fresh.ID: StatusStaged} {
		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, fmt.Sprintf("batch %s", id))
	}

	n, err = f.svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReaper_Run(t *testing.T) {
	f := setup(t)
	now := time.Date(2024, 8, 20, 9, 0, 0, 0, time.UTC)
	testutil.SetNow(t, now)
	f.preview(t, mixed)
	f.preview(t, mixed)
	testutil.SetNow(t, now.Add(2*time.Hour))

	rctx, cancel := context.WithCancel(ctx)
	reaped := make(chan int, 10)
	reaper := NewReaper(f.svc, 5*time.Millisecond, testutil.Logger())
	reaper.OnReap = func(n int) {
		select {
		case reaped <- n:
		default:
		}
	}

	done := make(chan error, 1)
	go func() { done <- reaper.Run(rctx) }()

	select {
	case n := <-reaped:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("reaper did not tick")
	}
	cancel()
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestTemplate(t *testing.T) {
	tmpl := Template()
	assert.Equal(t, Columns, tmpl.Header)
	if assert.Len(t, tmpl.Rows, 1) {
		assert.Len(t, tmpl.Rows[0], len(Columns))
	}
}
