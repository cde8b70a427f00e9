package inmemdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/academic"
	"github.com/Incrisz/school-nextjs-sub002/core/student"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
	"github.com/Incrisz/school-nextjs-sub002/tests"
)

var (
	ctx     = context.Background()
	errBoom = errors.New("boom")
)

func TestDB_InTx(t *testing.T) {
	store := testutil.NewStore()
	jss1 := testutil.CreatePlacement(t, store, "JSS 1", "A", "")
	jss2 := testutil.CreatePlacement(t, store, "JSS 2", "A", "")
	existing := testutil.CreateStudent(t, store, "ADM/001", "Ada", "Obi", jss1.Placement(), "")
	store.Overrides.SetOverrides(existing.ID, "french")

	now := time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)
	staged := studentimport.Batch{ID: "b-1", Status: studentimport.StatusStaged, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	_, err := store.Batches.CreateBatch(ctx, staged)
	require.NoError(t, err)

	t.Run("rollback undoes the writes of the transaction only", func(t *testing.T) {
		err := store.DB.InTx(ctx, func(exec core.DBExecutor) error {
			_, err := store.Students.CreateStudent(ctx, student.Student{ID: "s-new", AdmissionNo: "ADM/002"}, exec)
			require.NoError(t, err)
			require.NoError(t, store.Students.UpdatePlacement(ctx, existing.ID, jss2.Placement(), "sess-2", existing.CurrentTermID, exec))
			require.NoError(t, store.Overrides.ClearOverrides(ctx, existing.ID, exec))

			// written outside the transaction while it runs
			_, err = store.Batches.CreateBatch(ctx, studentimport.Batch{ID: "b-2", Status: studentimport.StatusStaged, CreatedAt: now, ExpiresAt: now})
			require.NoError(t, err)
			n, err := store.Batches.ExpireBatches(ctx, now.Add(2*time.Hour))
			require.NoError(t, err)
			require.Equal(t, 2, n)
			return errBoom
		})
		assert.Equal(t, errBoom, err)

		_, err = store.Students.GetStudent(ctx, "s-new")
		assert.Equal(t, student.ErrNotFound, errors.Cause(err))
		n, err := store.Students.CountStudents(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		st, err := store.Students.GetStudent(ctx, existing.ID)
		require.NoError(t, err)
		assert.Equal(t, jss1.Placement(), st.Placement)
		assert.Equal(t, []string{"french"}, store.Overrides.Overrides(existing.ID))

		for _, id := range []string{"b-1", "b-2"} {
			b, err := store.Batches.GetBatch(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, studentimport.StatusExpired, b.Status, id)
		}
	})

	t.Run("commit keeps the writes", func(t *testing.T) {
		err := store.DB.InTx(ctx, func(exec core.DBExecutor) error {
			_, err := store.Students.CreateStudent(ctx, student.Student{ID: "s-3", AdmissionNo: "ADM/003"}, exec)
			return err
		})
		require.NoError(t, err)
		_, err = store.Students.GetStudent(ctx, "s-3")
		assert.NoError(t, err)
	})

	t.Run("rollback restores the current session", func(t *testing.T) {
		first, _ := testutil.CreateSession(t, store, "2023/2024", "2023-09-01", "2024-07-01")
		require.NoError(t, store.AcademicRepo.SetCurrentSession(ctx, first.ID))

		err := store.DB.InTx(ctx, func(exec core.DBExecutor) error {
			second, err := store.AcademicRepo.CreateSession(ctx, academic.Session{ID: "sess-new", Name: "2024/2025"}, exec)
			require.NoError(t, err)
			require.NoError(t, store.AcademicRepo.SetCurrentSession(ctx, second.ID, exec))
			return errBoom
		})
		assert.Equal(t, errBoom, err)

		cur, err := store.AcademicRepo.CurrentSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.ID, cur.ID)
		_, err = store.AcademicRepo.GetSessionByName(ctx, "2024/2025")
		assert.Equal(t, academic.ErrSessionNotFound, errors.Cause(err))
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		called := false
		err := store.DB.InTx(cctx, func(exec core.DBExecutor) error {
			called = true
			return nil
		})
		_, transient := errors.Cause(err).(*core.TransientError)
		assert.True(t, transient, "err = %v", err)
		assert.False(t, called)
	})
}
