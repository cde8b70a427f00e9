package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
	"github.com/Incrisz/school-nextjs-sub002/storage/database"
)

const batchColumns = `id, filename, file_key, status, rows, summary, warnings,
	uploaded_by, uploader_email, created_at, expires_at, updated_at`

// batchRow is the table shape of a studentimport.Batch: rows, summary and warnings are stored as JSON.
type batchRow struct {
	ID            string         `db:"id"`
	Filename      string         `db:"filename"`
	FileKey       string         `db:"file_key"`
	Status        string         `db:"status"`
	Rows          types.JSONText `db:"rows"`
	Summary       types.JSONText `db:"summary"`
	Warnings      types.JSONText `db:"warnings"`
	UploadedBy    string         `db:"uploaded_by"`
	UploaderEmail string         `db:"uploader_email"`
	CreatedAt     time.Time      `db:"created_at"`
	ExpiresAt     time.Time      `db:"expires_at"`
	UpdatedAt     null.Time      `db:"updated_at"`
}

func toBatchRow(b studentimport.Batch) (batchRow, error) {
	row := batchRow{
		ID:            b.ID,
		Filename:      b.Filename,
		FileKey:       b.FileKey,
		Status:        b.Status,
		UploadedBy:    b.UploadedBy,
		UploaderEmail: b.UploaderEmail,
		CreatedAt:     b.CreatedAt,
		ExpiresAt:     b.ExpiresAt,
		UpdatedAt:     b.UpdatedAt,
	}
	rows := b.Rows
	if rows == nil {
		rows = []studentimport.Row{}
	}
	warnings := b.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	var err error
	if row.Rows, err = json.Marshal(rows); err != nil {
		return batchRow{}, errors.Wrap(err, "encoding rows")
	}
	if row.Summary, err = json.Marshal(b.Summary); err != nil {
		return batchRow{}, errors.Wrap(err, "encoding summary")
	}
	if row.Warnings, err = json.Marshal(warnings); err != nil {
		return batchRow{}, errors.Wrap(err, "encoding warnings")
	}
	return row, nil
}

func (row batchRow) batch() (studentimport.Batch, error) {
	b := studentimport.Batch{
		ID:            row.ID,
		Filename:      row.Filename,
		FileKey:       row.FileKey,
		Status:        row.Status,
		UploadedBy:    row.UploadedBy,
		UploaderEmail: row.UploaderEmail,
		CreatedAt:     row.CreatedAt.UTC(),
		ExpiresAt:     row.ExpiresAt.UTC(),
		UpdatedAt:     row.UpdatedAt,
	}
	if err := row.Rows.Unmarshal(&b.Rows); err != nil {
		return studentimport.Batch{}, errors.Wrap(err, "decoding rows")
	}
	if err := row.Summary.Unmarshal(&b.Summary); err != nil {
		return studentimport.Batch{}, errors.Wrap(err, "decoding summary")
	}
	if err := row.Warnings.Unmarshal(&b.Warnings); err != nil {
		return studentimport.Batch{}, errors.Wrap(err, "decoding warnings")
	}
	return b, nil
}

type batchRepository struct {
	db *sqlx.DB
}

var _ studentimport.Repository = (*batchRepository)(nil) // interface compliance check

func NewBatchRepository(db *sqlx.DB) studentimport.Repository {
	return &batchRepository{db: db}
}

func (repo *batchRepository) CreateBatch(ctx context.Context, b studentimport.Batch, exec ...core.DBExecutor) (studentimport.Batch, error) {
	row, err := toBatchRow(b)
	if err != nil {
		return studentimport.Batch{}, err
	}
	_, err = sqlx.NamedExecContext(ctx, getExec(repo.db, exec), `
		INSERT INTO import_batches (`+batchColumns+`)
		VALUES (:id, :filename, :file_key, :status, :rows, :summary, :warnings,
			:uploaded_by, :uploader_email, :created_at, :expires_at, :updated_at)`, row)
	if err != nil {
		return studentimport.Batch{}, errors.Wrap(database.MapError(err, nil), "inserting import batch")
	}
	return b, nil
}

func (repo *batchRepository) GetBatch(ctx context.Context, id string, exec ...core.DBExecutor) (studentimport.Batch, error) {
	var row batchRow
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, `SELECT `+batchColumns+` FROM import_batches WHERE id = $1`, id)
	if err != nil {
		return studentimport.Batch{}, database.MapError(err, studentimport.ErrBatchNotFound)
	}
	return row.batch()
}

func (repo *batchRepository) TransitionBatch(
	ctx context.Context,
	id, from, to string,
	at time.Time,
	exec ...core.DBExecutor,
) (bool, error) {
	e := getExec(repo.db, exec)
	res, err := e.ExecContext(ctx, `
		UPDATE import_batches SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`, id, from, to, at)
	if err != nil {
		return false, errors.Wrap(database.MapError(err, nil), "updating import batch status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "updating import batch status")
	}
	if n > 0 {
		return true, nil
	}

	var found bool
	err = sqlx.GetContext(ctx, e, &found, `SELECT EXISTS (SELECT 1 FROM import_batches WHERE id = $1)`, id)
	if err != nil {
		return false, errors.Wrap(database.MapError(err, nil), "checking import batch")
	}
	if !found {
		return false, studentimport.ErrBatchNotFound
	}
	return false, nil
}

func (repo *batchRepository) ExpireBatches(ctx context.Context, now time.Time, exec ...core.DBExecutor) (int, error) {
	res, err := getExec(repo.db, exec).ExecContext(ctx, `
		UPDATE import_batches SET status = $1, updated_at = $3
		WHERE status = $2 AND expires_at <= $3`,
		studentimport.StatusExpired, studentimport.StatusStaged, now,
	)
	if err != nil {
		return 0, errors.Wrap(database.MapError(err, nil), "expiring import batches")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "expiring import batches")
	}
	return int(n), nil
}
