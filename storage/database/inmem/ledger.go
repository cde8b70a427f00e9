package inmemdb

import (
	"context"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
)

type ledgerRepository struct {
	db *DB
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(db *DB) ledger.Repository {
	return &ledgerRepository{db: db}
}

func (repo *ledgerRepository) AppendPromotion(ctx context.Context, r ledger.PromotionRecord, exec ...core.DBExecutor) (ledger.PromotionRecord, error) {
	tbl := repo.db.promotions
	tbl.Lock()
	defer tbl.Unlock()

	r.Seq = tbl.nextSeq()
	tbl.track(exec, r.ID)
	tbl.put(r.ID, r)
	return r, nil
}

func (repo *ledgerRepository) matchingPromotions(filter ledger.Filter) []ledger.PromotionRecord {
	recs := make([]ledger.PromotionRecord, 0)
	for _, r := range repo.db.promotions.all() {
		if filter.Match(r) {
			recs = append(recs, r)
		}
	}
	return recs
}

func (repo *ledgerRepository) QueryPromotions(
	ctx context.Context,
	filter ledger.Filter,
	limit, offset int,
	exec ...core.DBExecutor,
) ([]ledger.PromotionRecord, error) {
	tbl := repo.db.promotions
	tbl.RLock()
	defer tbl.RUnlock()
	return paginate(repo.matchingPromotions(filter), limit, offset), nil
}

func (repo *ledgerRepository) CountPromotions(ctx context.Context, filter ledger.Filter, exec ...core.DBExecutor) (int, error) {
	tbl := repo.db.promotions
	tbl.RLock()
	defer tbl.RUnlock()
	return len(repo.matchingPromotions(filter)), nil
}

func (repo *ledgerRepository) AppendRollover(ctx context.Context, r ledger.RolloverRecord, exec ...core.DBExecutor) (ledger.RolloverRecord, error) {
	tbl := repo.db.rollovers
	tbl.Lock()
	defer tbl.Unlock()

	r.Seq = tbl.nextSeq()
	tbl.track(exec, r.ID)
	tbl.put(r.ID, r)
	return r, nil
}

func (repo *ledgerRepository) matchingRollovers(sourceSessionID string) []ledger.RolloverRecord {
	recs := make([]ledger.RolloverRecord, 0)
	for _, r := range repo.db.rollovers.all() {
		if sourceSessionID == "" || r.SourceSessionID == sourceSessionID {
			recs = append(recs, r)
		}
	}
	return recs
}

func (repo *ledgerRepository) QueryRollovers(
	ctx context.Context,
	sourceSessionID string,
	limit, offset int,
	exec ...core.DBExecutor,
) ([]ledger.RolloverRecord, error) {
	tbl := repo.db.rollovers
	tbl.RLock()
	defer tbl.RUnlock()
	return paginate(repo.matchingRollovers(sourceSessionID), limit, offset), nil
}

func (repo *ledgerRepository) CountRollovers(ctx context.Context, sourceSessionID string, exec ...core.DBExecutor) (int, error) {
	tbl := repo.db.rollovers
	tbl.RLock()
	defer tbl.RUnlock()
	return len(repo.matchingRollovers(sourceSessionID)), nil
}

// records are kept in seq order, so insertion order is the query order
func paginate[T any](recs []T, limit, offset int) []T {
	if offset >= len(recs) {
		return []T{}
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}
