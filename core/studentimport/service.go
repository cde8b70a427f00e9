package studentimport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
)

var (
	// errors
	ErrBatchNotFound    = core.NewNotFoundError("import batch not found")
	ErrAlreadyCommitted = core.NewConflictError("batch_already_committed", "batch already committed")
	ErrNotStaged        = core.NewConflictError("batch_not_staged", "batch is not staged")
	ErrExpired          = core.NewConflictError("batch_expired", "batch expired: upload the file again")

	errEmptyFile = "the file has no header row"
)

type (
	Repository interface {
		CreateBatch(ctx context.Context, b Batch, exec ...core.DBExecutor) (Batch, error)
		GetBatch(ctx context.Context, id string, exec ...core.DBExecutor) (Batch, error)
		// TransitionBatch sets the status of a batch to `to` only if it currently is `from`.
		// ok is false when the batch was not in `from`.
		TransitionBatch(ctx context.Context, id, from, to string, at time.Time, exec ...core.DBExecutor) (ok bool, err error)
		// ExpireBatches marks every staged batch whose expires_at is not after `now` as expired.
		ExpireBatches(ctx context.Context, now time.Time, exec ...core.DBExecutor) (int, error)
	}

	Options struct {
		BatchTTL time.Duration
		MaxRows  int
		From     mail.Address
	}

	Service struct {
		repo       Repository
		periods    *academic.Service
		students   student.Repository
		tx         core.Transactor
		locker     core.Locker
		files      core.FileStore
		decoder    core.SheetDecoder
		reporter   core.TableExporter
		mailSvc    core.EmailService
		logger     core.Logger
		validate   *validator.Validate
		translator ut.Translator
		opts       Options
	}

	ServiceDeps struct {
		Repo       Repository
		Periods    *academic.Service
		Students   student.Repository
		Tx         core.Transactor
		Locker     core.Locker
		Files      core.FileStore
		Decoder    core.SheetDecoder
		Reporter   core.TableExporter // renders the error report (CSV)
		MailSvc    core.EmailService
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
	}
)

func NewService(deps *ServiceDeps, opts Options) *Service {
	if opts.BatchTTL <= 0 {
		opts.BatchTTL = 24 * time.Hour
	}
	return &Service{
		repo:       deps.Repo,
		periods:    deps.Periods,
		students:   deps.Students,
		tx:         deps.Tx,
		locker:     deps.Locker,
		files:      deps.Files,
		decoder:    deps.Decoder,
		reporter:   deps.Reporter,
		mailSvc:    deps.MailSvc,
		logger:     deps.Logger,
		validate:   deps.Validate,
		translator: deps.Translator,
		opts:       opts,
	}
}

// Template is the header of the import file followed by one example row.
func Template() core.Table {
	example := map[string]string{
		ColFirstName:   "Ada",
		ColMiddleName:  "",
		ColLastName:    "Obi",
		ColAdmissionNo: "ADM/2024/001",
		ColGender:      student.GenderFemale,
		ColDateOfBirth: "2012-05-14",
		ColSession:     "2024/2025",
		ColTerm:        "1st",
		ColClass:       "JSS 1",
		ColArm:         "A",
		ColSection:     "",
		ColParentEmail: "parent@example.com",
	}
	row := make([]string, 0, len(Columns))
	for _, col := range Columns {
		row = append(row, example[col])
	}
	return core.Table{Title: "Student import", Header: Columns, Rows: [][]string{row}}
}

// Preview parses and validates an upload, then stages it as a new batch.
// Row errors never abort the preview: they are returned within the batch.
func (svc *Service) Preview(ctx context.Context, up Upload, actor core.Actor) (Batch, error) {
	up.Filename = filepath.Base(core.CleanString(up.Filename))
	if up.Filename == "" || up.Filename == "." || up.Body == nil {
		return Batch{}, core.NewStructuralError(errors.New("file is required"))
	}
	content, err := io.ReadAll(up.Body)
	if err != nil {
		return Batch{}, core.NewStructuralError(errors.Wrap(err, "reading file"))
	}

	sheet, err := svc.decoder.Decode(up.Filename, bytes.NewReader(content))
	if err != nil {
		return Batch{}, err
	}
	rows, warnings, err := svc.readRows(sheet)
	if err != nil {
		return Batch{}, err
	}

	if _, err = newChecker(svc).check(ctx, rows); err != nil {
		return Batch{}, core.NewTransientError(err, "validating rows")
	}

	now := core.NowFunc()
	b := Batch{
		ID:            uuid.New().String(),
		Filename:      up.Filename,
		Status:        StatusStaged,
		Rows:          rows,
		Summary:       summarize(rows),
		Warnings:      warnings,
		UploadedBy:    actor.Label(),
		UploaderEmail: actor.Email,
		CreatedAt:     now,
		ExpiresAt:     now.Add(svc.opts.BatchTTL),
	}
	b.FileKey = "imports/" + b.ID + "/" + b.Filename

	if err = svc.files.Put(ctx, b.FileKey, bytes.NewReader(content), up.ContentType); err != nil {
		return Batch{}, core.NewTransientError(err, "archiving file")
	}
	if b, err = svc.repo.CreateBatch(ctx, b); err != nil {
		return Batch{}, core.NewTransientError(err, "staging batch")
	}
	return b, nil
}

// readRows maps the cells of the sheet to records. Unknown columns are reported as warnings.
func (svc *Service) readRows(sheet core.Sheet) ([]Row, []string, error) {
	if len(sheet.Header) == 0 {
		return nil, nil, core.NewValidationError(nil, core.FieldError{Field: "file", Error: errEmptyFile})
	}

	known := make(map[string]bool, len(Columns))
	for _, col := range Columns {
		known[col] = true
	}
	index := make(map[string]int, len(sheet.Header))
	warnings := make([]string, 0)
	for i, h := range sheet.Header {
		col := strings.ToLower(strings.TrimSpace(h))
		if col == "" {
			continue
		}
		if !known[col] {
			warnings = append(warnings, fmt.Sprintf("unknown column %q ignored", h))
			continue
		}
		if _, dup := index[col]; dup {
			warnings = append(warnings, fmt.Sprintf("duplicate column %q ignored", h))
			continue
		}
		index[col] = i
	}

	missing := make([]string, 0)
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, nil, core.NewValidationError(nil, core.FieldError{
			Field: "file",
			Error: "missing required column(s): " + strings.Join(missing, ", "),
		})
	}

	if svc.opts.MaxRows > 0 && len(sheet.Rows) > svc.opts.MaxRows {
		return nil, nil, core.NewValidationError(nil, core.FieldError{
			Field: "file",
			Error: fmt.Sprintf("too many rows: %d (max %d)", len(sheet.Rows), svc.opts.MaxRows),
		})
	}

	rows := make([]Row, 0, len(sheet.Rows))
	for _, sr := range sheet.Rows {
		cell := func(col string) string {
			if i, ok := index[col]; ok && i < len(sr.Cells) {
				return core.CleanString(sr.Cells[i])
			}
			return ""
		}
		rec := Record{
			FirstName:   cell(ColFirstName),
			MiddleName:  cell(ColMiddleName),
			LastName:    cell(ColLastName),
			AdmissionNo: cell(ColAdmissionNo),
			Gender:      strings.ToLower(cell(ColGender)),
			DateOfBirth: cell(ColDateOfBirth),
			Session:     cell(ColSession),
			Term:        strings.ToLower(cell(ColTerm)),
			Class:       cell(ColClass),
			Arm:         cell(ColArm),
			Section:     cell(ColSection),
			ParentEmail: strings.ToLower(cell(ColParentEmail)),
		}
		if rec == (Record{}) {
			continue
		}
		rows = append(rows, Row{Row: sr.Line, Record: rec, Errors: []RowError{}})
	}
	return rows, warnings, nil
}

func summarize(rows []Row) Summary {
	sum := Summary{
		Total:     len(rows),
		BySession: make(map[string]int),
		ByClass:   make(map[string]int),
	}
	for _, r := range rows {
		if !r.Valid() {
			sum.Invalid++
			continue
		}
		sum.Valid++
		sum.BySession[r.Record.Session]++
		sum.ByClass[r.Record.Class]++
	}
	return sum
}

func (svc *Service) Get(ctx context.Context, batchID string) (Batch, error) {
	return svc.repo.GetBatch(ctx, core.CleanString(batchID))
}

// Commit creates one student per error-free row of a staged batch, all or nothing, and marks the batch committed.
// Referenced entities are validated again: rows that became invalid since the preview are reported as failed.
func (svc *Service) Commit(ctx context.Context, batchID string, actor core.Actor) (CommitResult, error) {
	batchID = core.CleanString(batchID)
	unlock, err := svc.locker.Lock(ctx, LockKey(batchID))
	if err != nil {
		if errors.Cause(err) == core.ErrLockTimeout {
			return CommitResult{}, core.NewTransientError(err, "batch is being committed, retry later")
		}
		return CommitResult{}, errors.Wrap(err, "locking batch")
	}
	defer unlock()

	b, err := svc.stagedBatch(ctx, batchID)
	if err != nil {
		return CommitResult{}, err
	}

	eligible := make([]Row, 0, len(b.Rows))
	for _, r := range b.Rows {
		if r.Valid() {
			r.Errors = []RowError{}
			eligible = append(eligible, r)
		}
	}
	students, err := newChecker(svc).check(ctx, eligible)
	if err != nil {
		return CommitResult{}, core.NewTransientError(err, "validating rows")
	}

	res := CommitResult{BatchID: b.ID, Failed: make([]Failure, 0)}
	for _, r := range eligible {
		if !r.Valid() {
			res.Failed = append(res.Failed, Failure{Row: r.Row, AdmissionNo: r.Record.AdmissionNo, Reason: r.Errors[0].Message})
		}
	}

	var failedAt int
	err = svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		now := core.NowFunc()
		for _, r := range eligible {
			st, ok := students[r.Row]
			if !ok {
				continue
			}
			failedAt = r.Row
			st.ID = uuid.New().String()
			st.ImportBatchID = null.StringFrom(b.ID)
			st.CreatedAt = now
			st.UpdatedAt = now
			if _, err := svc.students.CreateStudent(ctx, st, exec); err != nil {
				return err
			}
			res.Created++
		}
		failedAt = 0

		ok, err := svc.repo.TransitionBatch(ctx, b.ID, StatusStaged, StatusCommitted, now, exec)
		if err != nil {
			return err
		}
		if !ok {
			// the batch left the staged state since it was read, e.g. expired by the reaper
			cur, err := svc.repo.GetBatch(ctx, b.ID, exec)
			if err != nil {
				return err
			}
			return statusError(cur.Status)
		}
		return nil
	})
	if err != nil {
		res.Created = 0
		if core.IsConflict(err) {
			return CommitResult{}, err
		}
		msg := "committing batch: nothing was written"
		if failedAt > 0 {
			msg = fmt.Sprintf("committing batch failed at row %d: nothing was written", failedAt)
		}
		return CommitResult{}, core.NewTransientError(err, msg)
	}

	res.Message = fmt.Sprintf("Imported %d student(s); %d row(s) failed", res.Created, len(res.Failed))
	svc.sendReport(b, res, actor)
	return res, nil
}

// stagedBatch returns the batch if it can still be committed. A staged batch past its expiry is marked expired.
func (svc *Service) stagedBatch(ctx context.Context, batchID string) (Batch, error) {
	b, err := svc.repo.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}

	if b.Status != StatusStaged {
		return Batch{}, statusError(b.Status)
	}

	now := core.NowFunc()
	if !now.Before(b.ExpiresAt) {
		if _, err = svc.repo.TransitionBatch(ctx, b.ID, StatusStaged, StatusExpired, now); err != nil {
			return Batch{}, core.NewTransientError(err, "expiring batch")
		}
		return Batch{}, ErrExpired
	}
	return b, nil
}

// statusError is the conflict returned for a batch that is no longer staged.
func statusError(status string) error {
	switch status {
	case StatusCommitted:
		return ErrAlreadyCommitted
	case StatusExpired:
		return ErrExpired
	default:
		return ErrNotStaged
	}
}

func (svc *Service) sendReport(b Batch, res CommitResult, actor core.Actor) {
	to := actor.Email
	if to == "" {
		to = b.UploaderEmail
	}
	if to == "" || svc.mailSvc == nil {
		return
	}

	body := new(strings.Builder)
	_, _ = fmt.Fprintf(body, "Import of %s (batch %s)\n\n", b.Filename, b.ID)
	_, _ = fmt.Fprintf(body, "Created: %d student(s)\n", res.Created)
	_, _ = fmt.Fprintf(body, "Failed at commit: %d row(s)\n", len(res.Failed))
	_, _ = fmt.Fprintf(body, "Rejected at preview: %d row(s)\n", b.Summary.Invalid)

	msg := &core.EmailMessage{
		To:      []mail.Address{{Name: actor.Name, Address: to}},
		Subject: "Student import report",
		BodyStr: body.String(),
	}

	if len(res.Failed) > 0 && svc.reporter != nil {
		table := core.Table{Title: "Failed rows", Header: []string{"Row", "Admission No", "Reason"}}
		for _, f := range res.Failed {
			table.Rows = append(table.Rows, []string{fmt.Sprint(f.Row), f.AdmissionNo, f.Reason})
		}
		buf := new(bytes.Buffer)
		if err := svc.reporter.Export(buf, table); err != nil {
			svc.logger.Error(fmt.Sprintf("rendering import report: %v", err), err)
		} else if err = msg.Attach(buf, "failed-rows"+svc.reporter.Extension(), svc.reporter.ContentType()); err != nil {
			svc.logger.Error(fmt.Sprintf("attaching import report: %v", err), err)
		}
	}
	svc.mailSvc.SendMessages(msg)
}

// Discard abandons a staged batch and deletes its archived file.
func (svc *Service) Discard(ctx context.Context, batchID string, actor core.Actor) error {
	batchID = core.CleanString(batchID)
	unlock, err := svc.locker.Lock(ctx, LockKey(batchID))
	if err != nil {
		if errors.Cause(err) == core.ErrLockTimeout {
			return core.NewTransientError(err, "batch is being committed, retry later")
		}
		return errors.Wrap(err, "locking batch")
	}
	defer unlock()

	b, err := svc.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status != StatusStaged {
		return statusError(b.Status)
	}

	ok, err := svc.repo.TransitionBatch(ctx, b.ID, StatusStaged, StatusDiscarded, core.NowFunc())
	if err != nil {
		return core.NewTransientError(err, "discarding batch")
	}
	if !ok {
		cur, err := svc.repo.GetBatch(ctx, b.ID)
		if err != nil {
			return err
		}
		return statusError(cur.Status)
	}

	if err = svc.files.Delete(ctx, b.FileKey); err != nil && errors.Cause(err) != core.ErrFileNotFound {
		svc.logger.Warn(fmt.Sprintf("deleting archived import %s: %v", b.FileKey, err), err, actor)
	}
	return nil
}

// ErrorReport renders every row error of a batch.
func (svc *Service) ErrorReport(ctx context.Context, batchID string, exporter core.TableExporter, w io.Writer) error {
	b, err := svc.Get(ctx, batchID)
	if err != nil {
		return err
	}

	errs := b.Errors()
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Row < errs[j].Row })
	table := core.Table{
		Title:  "Import errors: " + b.Filename,
		Header: []string{"Row", "Column", "Message"},
		Rows:   make([][]string, 0, len(errs)),
	}
	for _, e := range errs {
		table.Rows = append(table.Rows, []string{fmt.Sprint(e.Row), e.Column, e.Message})
	}
	if err = exporter.Export(w, table); err != nil {
		return errors.Wrap(err, "exporting row errors")
	}
	return nil
}

// ReapExpired marks every staged batch past its expiry as expired and returns how many were.
func (svc *Service) ReapExpired(ctx context.Context) (int, error) {
	n, err := svc.repo.ExpireBatches(ctx, core.NowFunc())
	if err != nil {
		return 0, errors.Wrap(err, "expiring batches")
	}
	return n, nil
}

// LockKey scopes the commit lock to one batch.
func LockKey(batchID string) string {
	return "import:" + batchID
}
