package sqlxrepos

import (
	"github.com/jmoiron/sqlx"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

// getExec returns the caller's transaction when one is given, or db.
// Services pass a nil executor outside of transactions.
func getExec(db *sqlx.DB, svcExec []core.DBExecutor) sqlx.ExtContext {
	if len(svcExec) > 0 && svcExec[0] != nil {
		if ext, ok := svcExec[0].(sqlx.ExtContext); ok {
			return ext
		}
	}
	return db
}
