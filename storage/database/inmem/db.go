package inmemdb

import (
	"context"
	"sync"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/ledger"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
)

type (
	// DB keeps every table in memory. Transactions are serialized and roll back through an undo log.
	DB struct {
		txMu sync.Mutex

		sessions  *table[academic.Session]
		terms     *table[academic.Term]
		classes   *table[academic.SchoolClass]
		arms      *table[academic.ClassArm]
		sections  *table[academic.ClassSection]
		students  *table[student.Student]
		parents   *table[student.Parent]
		overrides *table[[]string] // subject ids by student id
		batches   *table[studentimport.Batch]

		promotions *table[ledger.PromotionRecord]
		rollovers  *table[ledger.RolloverRecord]
	}

	// tx is the exec handed to InTx callbacks. Repositories work on the tables directly and only use it to
	// record what to undo.
	tx struct {
		core.DBExecutor
		undo []func()
	}

	table[T any] struct {
		sync.RWMutex
		rows  map[string]T
		order []string // insertion order
		seq   int64
	}
)

var _ core.Transactor = (*DB)(nil) // interface compliance check

func Open() *DB {
	return &DB{
		sessions:   newTable[academic.Session](),
		terms:      newTable[academic.Term](),
		classes:    newTable[academic.SchoolClass](),
		arms:       newTable[academic.ClassArm](),
		sections:   newTable[academic.ClassSection](),
		students:   newTable[student.Student](),
		parents:    newTable[student.Parent](),
		overrides:  newTable[[]string](),
		batches:    newTable[studentimport.Batch](),
		promotions: newTable[ledger.PromotionRecord](),
		rollovers:  newTable[ledger.RolloverRecord](),
	}
}

func txOf(exec []core.DBExecutor) *tx {
	if len(exec) == 0 {
		return nil
	}
	t, _ := exec[0].(*tx)
	return t
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

// InTx runs fn alone: it holds the transaction lock until fn returns. If fn fails, the rows written through the
// transaction's exec are put back as they were; writes made outside the transaction are kept.
func (db *DB) InTx(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return core.NewTransientError(err, "starting transaction")
	}

	t := &tx{}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// Reset empties every table.
func (db *DB) Reset() {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	fresh := Open()
	db.sessions, db.terms, db.classes = fresh.sessions, fresh.terms, fresh.classes
	db.arms, db.sections = fresh.arms, fresh.sections
	db.students, db.parents, db.overrides = fresh.students, fresh.parents, fresh.overrides
	db.batches, db.promotions, db.rollovers = fresh.batches, fresh.promotions, fresh.rollovers
}

// track records the current state of the row id in the transaction carried by exec, if any.
// Must be called with the write lock held, before the row is written.
func (t *table[T]) track(exec []core.DBExecutor, id string) {
	txn := txOf(exec)
	if txn == nil {
		return
	}
	prev, existed := t.rows[id]
	txn.undo = append(txn.undo, func() {
		t.Lock()
		defer t.Unlock()
		if existed {
			t.rows[id] = prev
			return
		}
		delete(t.rows, id)
		for i, oid := range t.order {
			if oid == id {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	})
}

// must be called with the write lock held
func (t *table[T]) put(id string, row T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = row
}

// must be called with the read lock held
func (t *table[T]) get(id string) (T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

// all returns the rows in insertion order. Must be called with the read lock held.
func (t *table[T]) all() []T {
	rows := make([]T, 0, len(t.order))
	for _, id := range t.order {
		if row, ok := t.rows[id]; ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// find returns the first row matching fn, in insertion order. Must be called with the read lock held.
func (t *table[T]) find(fn func(T) bool) (T, bool) {
	for _, id := range t.order {
		if row, ok := t.rows[id]; ok && fn(row) {
			return row, true
		}
	}
	var zero T
	return zero, false
}

// nextSeq must be called with the write lock held.
func (t *table[T]) nextSeq() int64 {
	t.seq++
	return t.seq
}
