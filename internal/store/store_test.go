package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paiban/dispatch/internal/database"
	"github.com/paiban/dispatch/internal/store"
	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/model"
)

func sqliteStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.Open("sqlite3", ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))
	return store.NewSQL(db)
}

func backends(t *testing.T) map[string]*store.Store {
	return map[string]*store.Store{
		"memory": store.NewMemory(),
		"sqlite": sqliteStore(t),
	}
}

func TestRepositoryCRUD(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := st.Assignments

			a := &model.ShiftAssignment{
				ID:             "a1",
				RequestID:      "r1",
				ShiftID:        "s1",
				WorkerID:       "w1",
				Status:         model.AssignmentConfirmed,
				CompositeScore: 0.82,
				ProposedAt:     time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC),
			}
			require.NoError(t, repo.Create(ctx, a))
			err := repo.Create(ctx, a)
			require.True(t, apperrors.Is(err, apperrors.CodeAlreadyExists))

			got, err := repo.Get(ctx, "a1")
			require.NoError(t, err)
			require.Equal(t, a.CompositeScore, got.CompositeScore)
			require.True(t, a.ProposedAt.Equal(got.ProposedAt))

			// 返回的是副本
			got.Status = model.AssignmentRejected
			again, err := repo.Get(ctx, "a1")
			require.NoError(t, err)
			require.Equal(t, model.AssignmentConfirmed, again.Status)

			got.Status = model.AssignmentCompleted
			require.NoError(t, repo.Update(ctx, got))
			again, err = repo.Get(ctx, "a1")
			require.NoError(t, err)
			require.Equal(t, model.AssignmentCompleted, again.Status)

			_, err = repo.Get(ctx, "missing")
			require.True(t, apperrors.Is(err, apperrors.CodeNotFound))
			err = repo.Update(ctx, &model.ShiftAssignment{ID: "missing"})
			require.True(t, apperrors.Is(err, apperrors.CodeNotFound))

			require.NoError(t, repo.Delete(ctx, "a1"))
			require.True(t, apperrors.Is(repo.Delete(ctx, "a1"), apperrors.CodeNotFound))

			err = repo.Create(ctx, &model.ShiftAssignment{})
			require.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))
		})
	}
}

func TestRepositoryQuery(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			shifts := []*model.Shift{
				{ID: "s3", WorkerID: "w1", Status: model.ShiftActive, PlanID: "p1"},
				{ID: "s1", WorkerID: "w1", Status: model.ShiftPlanned, PlanID: "p1"},
				{ID: "s2", WorkerID: "w2", Status: model.ShiftPlanned, PlanID: "p1"},
				{ID: "s4", WorkerID: "w2", Status: model.ShiftCancelled, PlanID: "p2"},
			}
			for _, s := range shifts {
				require.NoError(t, st.Shifts.Create(ctx, s))
			}

			ids := func(f store.Filter) []string {
				out, err := st.Shifts.Query(ctx, f)
				require.NoError(t, err)
				var ids []string
				for _, s := range out {
					ids = append(ids, s.ID)
				}
				return ids
			}

			require.Equal(t, []string{"s1", "s2", "s3", "s4"}, ids(store.NewFilter()))
			require.Equal(t, []string{"s1", "s2"}, ids(store.NewFilter().WithStatus("planned")))
			require.Equal(t, []string{"s1", "s2", "s3"}, ids(store.NewFilter().WithStatus("planned", "active")))
			require.Equal(t, []string{"s1", "s3"}, ids(store.NewFilter().Eq("worker_id", "w1").Eq("plan_id", "p1")))
			require.Equal(t, []string{"s2", "s3"}, ids(store.NewFilter().WithOffset(1).WithLimit(2)))
			require.Empty(t, ids(store.NewFilter().Eq("plan_id", "p9")))

			// 更新后索引随之变化
			s4, err := st.Shifts.Get(ctx, "s4")
			require.NoError(t, err)
			s4.PlanID = "p1"
			require.NoError(t, st.Shifts.Update(ctx, s4))
			require.Equal(t, []string{"s1", "s2", "s3", "s4"}, ids(store.NewFilter().Eq("plan_id", "p1")))
		})
	}
}

func TestFilterEqDoesNotAlias(t *testing.T) {
	base := store.NewFilter().Eq("status", "open")
	a := base.Eq("plan_id", "p1")
	b := base.Eq("plan_id", "p2")
	require.Equal(t, []string{"p1"}, a.Where["plan_id"])
	require.Equal(t, []string{"p2"}, b.Where["plan_id"])
	require.NotContains(t, base.Where, "plan_id")
}
