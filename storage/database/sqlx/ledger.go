package sqlxrepos

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
	"github.com/Incrisz/school-nextjs-sub002/storage/database"
)

const (
	promotionColumns = `seq, id, student_id, admission_no, student_name, from_session_id, to_session_id, term_id,
	from_school_class_id, to_school_class_id, from_placement_label, to_placement_label, performed_by, promoted_at`
	rolloverColumns = `seq, id, source_session_id, new_session_id, new_session_name, term_count, notes, performed_by, created_at`
)

type ledgerRepository struct {
	db *sqlx.DB
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(db *sqlx.DB) ledger.Repository {
	return &ledgerRepository{db: db}
}

// whereClause renders the non-empty fields of filter, AND-ed, with positional args starting at $1.
func whereClause(filter ledger.Filter) (string, []interface{}) {
	conds := make([]string, 0, 3)
	args := make([]interface{}, 0, 3)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.SessionID != "" {
		conds = append(conds, "to_session_id::text = "+arg(filter.SessionID))
	}
	if filter.TermID != "" {
		conds = append(conds, "term_id::text = "+arg(filter.TermID))
	}
	if filter.SchoolClassID != "" {
		p := arg(filter.SchoolClassID)
		conds = append(conds, "(from_school_class_id::text = "+p+" OR to_school_class_id::text = "+p+")")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (repo *ledgerRepository) AppendPromotion(ctx context.Context, r ledger.PromotionRecord, exec ...core.DBExecutor) (ledger.PromotionRecord, error) {
	q, args, err := sqlx.Named(`
		INSERT INTO promotion_records (id, student_id, admission_no, student_name, from_session_id, to_session_id, term_id,
			from_school_class_id, to_school_class_id, from_placement_label, to_placement_label, performed_by, promoted_at)
		VALUES (:id, :student_id, :admission_no, :student_name, :from_session_id, :to_session_id, :term_id,
			:from_school_class_id, :to_school_class_id, :from_placement_label, :to_placement_label, :performed_by, :promoted_at)
		RETURNING seq`, r)
	if err != nil {
		return ledger.PromotionRecord{}, errors.Wrap(err, "binding promotion record")
	}

	e := getExec(repo.db, exec)
	if err = sqlx.GetContext(ctx, e, &r.Seq, e.Rebind(q), args...); err != nil {
		return ledger.PromotionRecord{}, errors.Wrap(database.MapError(err, nil), "inserting promotion record")
	}
	return r, nil
}

func (repo *ledgerRepository) QueryPromotions(
	ctx context.Context,
	filter ledger.Filter,
	limit, offset int,
	exec ...core.DBExecutor,
) ([]ledger.PromotionRecord, error) {
	where, args := whereClause(filter)
	args = append(args, limit, offset)
	q := `SELECT ` + promotionColumns + ` FROM promotion_records` + where +
		` ORDER BY seq LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	recs := make([]ledger.PromotionRecord, 0)
	if err := sqlx.SelectContext(ctx, getExec(repo.db, exec), &recs, q, args...); err != nil {
		return nil, errors.Wrap(database.MapError(err, nil), "selecting promotion records")
	}
	for i := range recs {
		recs[i].PromotedAt = recs[i].PromotedAt.UTC()
	}
	return recs, nil
}

func (repo *ledgerRepository) CountPromotions(ctx context.Context, filter ledger.Filter, exec ...core.DBExecutor) (int, error) {
	where, args := whereClause(filter)
	var n int
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &n, `SELECT count(*) FROM promotion_records`+where, args...); err != nil {
		return 0, errors.Wrap(database.MapError(err, nil), "counting promotion records")
	}
	return n, nil
}

func (repo *ledgerRepository) AppendRollover(ctx context.Context, r ledger.RolloverRecord, exec ...core.DBExecutor) (ledger.RolloverRecord, error) {
	q, args, err := sqlx.Named(`
		INSERT INTO rollover_records (id, source_session_id, new_session_id, new_session_name, term_count, notes, performed_by, created_at)
		VALUES (:id, :source_session_id, :new_session_id, :new_session_name, :term_count, :notes, :performed_by, :created_at)
		RETURNING seq`, r)
	if err != nil {
		return ledger.RolloverRecord{}, errors.Wrap(err, "binding rollover record")
	}

	e := getExec(repo.db, exec)
	if err = sqlx.GetContext(ctx, e, &r.Seq, e.Rebind(q), args...); err != nil {
		return ledger.RolloverRecord{}, errors.Wrap(database.MapError(err, nil), "inserting rollover record")
	}
	return r, nil
}

func (repo *ledgerRepository) QueryRollovers(
	ctx context.Context,
	sourceSessionID string,
	limit, offset int,
	exec ...core.DBExecutor,
) ([]ledger.RolloverRecord, error) {
	recs := make([]ledger.RolloverRecord, 0)
	err := sqlx.SelectContext(ctx, getExec(repo.db, exec), &recs, `
		SELECT `+rolloverColumns+` FROM rollover_records
		WHERE $1 = '' OR source_session_id::text = $1
		ORDER BY seq LIMIT $2 OFFSET $3`, sourceSessionID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(database.MapError(err, nil), "selecting rollover records")
	}
	for i := range recs {
		recs[i].CreatedAt = recs[i].CreatedAt.UTC()
	}
	return recs, nil
}

func (repo *ledgerRepository) CountRollovers(ctx context.Context, sourceSessionID string, exec ...core.DBExecutor) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &n, `
		SELECT count(*) FROM rollover_records
		WHERE $1 = '' OR source_session_id::text = $1`, sourceSessionID)
	if err != nil {
		return 0, errors.Wrap(database.MapError(err, nil), "counting rollover records")
	}
	return n, nil
}
