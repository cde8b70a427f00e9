package inmemdb

import (
	"context"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
)

type batchRepository struct {
	db *DB
}

var _ studentimport.Repository = (*batchRepository)(nil) // interface compliance check

func NewBatchRepository(db *DB) studentimport.Repository {
	return &batchRepository{db: db}
}

func (repo *batchRepository) CreateBatch(ctx context.Context, b studentimport.Batch, exec ...core.DBExecutor) (studentimport.Batch, error) {
	tbl := repo.db.batches
	tbl.Lock()
	defer tbl.Unlock()

	tbl.track(exec, b.ID)
	tbl.put(b.ID, b)
	return b, nil
}

func (repo *batchRepository) GetBatch(ctx context.Context, id string, exec ...core.DBExecutor) (studentimport.Batch, error) {
	tbl := repo.db.batches
	tbl.RLock()
	defer tbl.RUnlock()

	if b, ok := tbl.get(id); ok {
		return b, nil
	}
	return studentimport.Batch{}, studentimport.ErrBatchNotFound
}

func (repo *batchRepository) TransitionBatch(
	ctx context.Context,
	id, from, to string,
	at time.Time,
	exec ...core.DBExecutor,
) (bool, error) {
	tbl := repo.db.batches
	tbl.Lock()
	defer tbl.Unlock()

	b, ok := tbl.get(id)
	if !ok {
		return false, studentimport.ErrBatchNotFound
	}
	if b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = null.TimeFrom(at)
	tbl.track(exec, id)
	tbl.put(id, b)
	return true, nil
}

func (repo *batchRepository) ExpireBatches(ctx context.Context, now time.Time, exec ...core.DBExecutor) (int, error) {
	tbl := repo.db.batches
	tbl.Lock()
	defer tbl.Unlock()

	var n int
	for id, b := range tbl.rows {
		if b.Status == studentimport.StatusStaged && !b.ExpiresAt.After(now) {
			b.Status = studentimport.StatusExpired
			b.UpdatedAt = null.TimeFrom(now)
			tbl.track(exec, id)
			tbl.rows[id] = b
			n++
		}
	}
	return n, nil
}
