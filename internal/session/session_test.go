package session_test

import (
	"context"
	"testing"
	"time"

	"student-sandbox/internal/clock"
	"student-sandbox/internal/logger"
	"student-sandbox/internal/session"
	"student-sandbox/internal/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID      int64     `bun:"id,pk,autoincrement"`
	Title   string    `bun:"title"`
	Copies  int       `bun:"copies"`
	AddedAt time.Time `bun:"added_at,type:timestamp"`
}

func (b *book) EntityKey() int64 { return b.ID }

func (b *book) ResetKey() { b.ID = 0 }

func (b *book) ApplyDefaults(now time.Time) {
	if b.AddedAt.IsZero() {
		b.AddedAt = now
	}
}

var epoch = time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)

func newSession(t *testing.T) (*session.Session, *clock.Manual) {
	t.Helper()
	database := testdb.NewSQLite(t, (*book)(nil))
	clk := clock.NewManual(epoch)
	s := session.New(database, clk, logger.Discard())
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, clk
}

func loadAll(t *testing.T, s *session.Session) []*book {
	t.Helper()
	ctx := context.Background()

	conn, err := s.Conn(ctx)
	require.NoError(t, err)

	var books []*book
	require.NoError(t, conn.NewSelect().Model(&books).OrderExpr("id ASC").Scan(ctx))
	for i, b := range books {
		books[i] = s.Track(b).(*book)
	}
	return books
}

func TestSession_BulkSave(t *testing.T) {
	ctx := context.Background()
	s, clk := newSession(t)

	books := []*book{
		{Title: "Dune", Copies: 2},
		{Title: "Emma", Copies: 1, AddedAt: epoch.Add(-time.Hour)},
	}
	n, err := s.BulkSave(ctx, &books)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(1), books[0].ID)
	assert.Equal(t, int64(2), books[1].ID)
	assert.Equal(t, 0, s.Tracked(), "bulk saved instances are not tracked")

	t.Run("DefaultsStampedPerInsert", func(t *testing.T) {
		clk.Advance(time.Minute)
		late := []*book{{Title: "Ulysses"}}
		_, err := s.BulkSave(ctx, &late)
		require.NoError(t, err)
		require.NoError(t, s.Commit(ctx))

		got := loadAll(t, s)
		require.Len(t, got, 3)
		assert.True(t, got[0].AddedAt.Equal(epoch))
		assert.True(t, got[1].AddedAt.Equal(epoch.Add(-time.Hour)), "explicit value kept")
		assert.True(t, got[2].AddedAt.Equal(epoch.Add(time.Minute)))
	})

	t.Run("RejectsNonSlice", func(t *testing.T) {
		_, err := s.BulkSave(ctx, &book{})
		assert.ErrorContains(t, err, "want pointer to slice")
	})

	t.Run("EmptySliceIsNoop", func(t *testing.T) {
		n, err := s.BulkSave(ctx, &[]*book{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSession_AddFlushesBeforeReads(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)

	b := &book{Title: "Dune"}
	require.NoError(t, s.Add(b))
	assert.Zero(t, b.ID)

	got := loadAll(t, s)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), b.ID)
	assert.Same(t, b, got[0], "identity map returns the added instance")
	assert.True(t, b.AddedAt.Equal(epoch))

	require.NoError(t, s.Commit(ctx))
}

func TestSession_DirtyTracking(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)

	books := []*book{{Title: "Dune", Copies: 2}, {Title: "Emma", Copies: 5}}
	_, err := s.BulkSave(ctx, &books)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	t.Run("CommitWritesModifiedInstances", func(t *testing.T) {
		for _, b := range loadAll(t, s) {
			b.Copies++
		}
		require.NoError(t, s.Commit(ctx))
		assert.Equal(t, 0, s.Tracked(), "commit expires the identity map")

		got := loadAll(t, s)
		assert.Equal(t, 3, got[0].Copies)
		assert.Equal(t, 6, got[1].Copies)
		require.NoError(t, s.Commit(ctx))
	})

	t.Run("IdentityMapReturnsSameInstance", func(t *testing.T) {
		first := loadAll(t, s)
		first[0].Copies = 100

		second := loadAll(t, s)
		assert.Same(t, first[0], second[0])
		assert.Equal(t, 100, second[0].Copies, "unflushed change survives reload")
		require.NoError(t, s.Rollback(ctx))
	})

	t.Run("RollbackDiscardsChanges", func(t *testing.T) {
		for _, b := range loadAll(t, s) {
			b.Title = "changed"
		}
		require.NoError(t, s.Add(&book{Title: "pending"}))
		require.NoError(t, s.Rollback(ctx))

		got := loadAll(t, s)
		require.Len(t, got, 2)
		assert.Equal(t, "Dune", got[0].Title)
		assert.Equal(t, "Emma", got[1].Title)
		require.NoError(t, s.Rollback(ctx))
	})

	t.Run("RollbackResetsAssignedKeys", func(t *testing.T) {
		added := &book{Title: "Ulysses"}
		require.NoError(t, s.Add(added))
		require.NoError(t, s.Flush(ctx))
		require.NotZero(t, added.ID)

		bulk := []*book{{Title: "Walden"}}
		_, err := s.BulkSave(ctx, &bulk)
		require.NoError(t, err)
		require.NotZero(t, bulk[0].ID)

		require.NoError(t, s.Rollback(ctx))

		assert.Zero(t, added.ID)
		assert.Zero(t, bulk[0].ID)
		assert.Len(t, loadAll(t, s), 2)
		require.NoError(t, s.Rollback(ctx))
	})

	t.Run("CommitKeepsAssignedKeys", func(t *testing.T) {
		added := &book{Title: "Ulysses"}
		require.NoError(t, s.Add(added))
		require.NoError(t, s.Commit(ctx))
		require.NoError(t, s.Rollback(ctx))

		assert.NotZero(t, added.ID)
	})
}

func TestSession_Delete(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)

	books := []*book{{Title: "Dune"}, {Title: "Emma"}}
	_, err := s.BulkSave(ctx, &books)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	t.Run("RemovesLoadedInstance", func(t *testing.T) {
		got := loadAll(t, s)
		require.NoError(t, s.Delete(got[0]))
		require.NoError(t, s.Commit(ctx))

		remaining := loadAll(t, s)
		require.Len(t, remaining, 1)
		assert.Equal(t, "Emma", remaining[0].Title)
		require.NoError(t, s.Commit(ctx))
	})

	t.Run("CancelsPendingInsert", func(t *testing.T) {
		b := &book{Title: "never stored"}
		require.NoError(t, s.Add(b))
		require.NoError(t, s.Delete(b))
		require.NoError(t, s.Commit(ctx))

		assert.Len(t, loadAll(t, s), 1)
		require.NoError(t, s.Commit(ctx))
	})
}

func TestSession_Close(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)

	require.NoError(t, s.Add(&book{Title: "Dune"}))
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx), "close is idempotent")

	_, err := s.Conn(ctx)
	assert.ErrorIs(t, err, session.ErrClosed)
	assert.ErrorIs(t, s.Add(&book{}), session.ErrClosed)
	assert.ErrorIs(t, s.Commit(ctx), session.ErrClosed)
}
