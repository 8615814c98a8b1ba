package student_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"student-sandbox/internal/clock"
	"student-sandbox/internal/logger"
	"student-sandbox/internal/metrics"
	"student-sandbox/internal/session"
	"student-sandbox/internal/student"
	"student-sandbox/internal/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var enrolledAt = time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)

func einstein() *student.Student {
	return &student.Student{
		Name:     "Albert Einstein",
		Email:    "albert.einstein@zurich.edu",
		Grade:    6,
		Birthday: time.Date(1879, 3, 14, 0, 0, 0, 0, time.UTC),
	}
}

func turing() *student.Student {
	return &student.Student{
		Name:     "Alan Turing",
		Email:    "alan.turing@sherborne.edu",
		Grade:    11,
		Birthday: time.Date(1912, 6, 23, 0, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	db      *bun.DB
	sess    *session.Session
	clock   *clock.Manual
	service student.Service
}

// setup returns a service over a fresh store seeded with Einstein and Turing.
func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	database := testdb.NewSQLite(t, (*student.Student)(nil))
	clk := clock.NewManual(enrolledAt)
	sess := session.New(database, clk, logger.Discard())
	t.Cleanup(func() { _ = sess.Close(ctx) })

	svc := student.NewService(student.NewRepository(metrics.NewMock()))

	n, err := svc.Enroll(ctx, sess, einstein(), turing())
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NoError(t, sess.Commit(ctx))

	return &fixture{db: database, sess: sess, clock: clk, service: svc}
}

func TestStudentService_Reads(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	t.Run("ListStudents", func(t *testing.T) {
		students, err := f.service.ListStudents(ctx, f.sess)
		require.NoError(t, err)
		require.Len(t, students, 2)

		assert.Equal(t, int64(1), students[0].ID)
		assert.Equal(t, "Albert Einstein", students[0].Name)
		assert.Equal(t, "albert.einstein@zurich.edu", students[0].Email)
		assert.Equal(t, 6, students[0].Grade)
		assert.True(t, students[0].Birthday.Equal(time.Date(1879, 3, 14, 0, 0, 0, 0, time.UTC)))
		assert.True(t, students[0].EnrolledDate.Equal(enrolledAt))

		assert.Equal(t, int64(2), students[1].ID)
		assert.Equal(t, "Alan Turing", students[1].Name)
		assert.Equal(t, 11, students[1].Grade)
	})

	t.Run("ListNamesIsRepeatable", func(t *testing.T) {
		first, err := f.service.ListNames(ctx, f.sess)
		require.NoError(t, err)
		second, err := f.service.ListNames(ctx, f.sess)
		require.NoError(t, err)

		assert.Equal(t, []student.NameRow{{Name: "Albert Einstein"}, {Name: "Alan Turing"}}, first)
		assert.Equal(t, first, second)
	})

	t.Run("ListNamesAlphabetically", func(t *testing.T) {
		names, err := f.service.ListNamesAlphabetically(ctx, f.sess)
		require.NoError(t, err)

		assert.Equal(t, []student.NameRow{{Name: "Alan Turing"}, {Name: "Albert Einstein"}}, names)
	})

	t.Run("RankByGrade", func(t *testing.T) {
		rows, err := f.service.RankByGrade(ctx, f.sess)
		require.NoError(t, err)

		assert.Equal(t, []student.NameGrade{
			{Name: "Alan Turing", Grade: 11},
			{Name: "Albert Einstein", Grade: 6},
		}, rows)
	})

	t.Run("OldestLimitMatchesFirst", func(t *testing.T) {
		limited, err := f.service.Oldest(ctx, f.sess, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)

		first, err := f.service.OldestFirst(ctx, f.sess)
		require.NoError(t, err)

		assert.Equal(t, "Albert Einstein", first.Name)
		assert.Equal(t, limited[0].String(), first.String())
		assert.Equal(t, "(Albert Einstein, 1879-03-14 00:00:00)", first.String())
	})

	t.Run("OldestRejectsNonPositiveLimit", func(t *testing.T) {
		_, err := f.service.Oldest(ctx, f.sess, 0)
		assert.ErrorIs(t, err, student.ErrInvalidInput)
	})

	t.Run("CountStudents", func(t *testing.T) {
		count, err := f.service.CountStudents(ctx, f.sess)
		require.NoError(t, err)

		assert.Equal(t, 2, count.Value)
		assert.Equal(t, "(2)", count.String())
	})

	t.Run("Search", func(t *testing.T) {
		found, err := f.service.Search(ctx, f.sess, "Alan", 11)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "Alan Turing", found[0].Name)

		none, err := f.service.Search(ctx, f.sess, "Alan", 6)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("SearchTreatsWildcardsLiterally", func(t *testing.T) {
		found, err := f.service.Search(ctx, f.sess, "A%n", 11)
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("SearchPattern", func(t *testing.T) {
		found, err := f.service.SearchPattern(ctx, f.sess, "A%n T_ring", 11)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "Alan Turing", found[0].Name)

		none, err := f.service.SearchPattern(ctx, f.sess, "Alan", 11)
		require.NoError(t, err)
		assert.Empty(t, none, "pattern without wildcards matches whole names only")
	})

	t.Run("SearchPatternRequiresPattern", func(t *testing.T) {
		_, err := f.service.SearchPattern(ctx, f.sess, "", 11)
		assert.ErrorIs(t, err, student.ErrInvalidInput)
	})

	require.NoError(t, f.sess.Commit(ctx))
}

func TestStudentService_Promotions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	n, err := f.service.PromoteAll(ctx, f.sess)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, f.sess.Commit(ctx))

	grades, err := f.service.ListGrades(ctx, f.sess)
	require.NoError(t, err)
	assert.Equal(t, []student.NameGrade{
		{Name: "Albert Einstein", Grade: 7},
		{Name: "Alan Turing", Grade: 12},
	}, grades)

	updated, err := f.service.PromoteAllBulk(ctx, f.sess)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)
	require.NoError(t, f.sess.Commit(ctx))

	grades, err = f.service.ListGrades(ctx, f.sess)
	require.NoError(t, err)
	assert.Equal(t, []student.NameGrade{
		{Name: "Albert Einstein", Grade: 8},
		{Name: "Alan Turing", Grade: 13},
	}, grades)
	require.NoError(t, f.sess.Commit(ctx))
}

func TestStudentService_BulkUpdateDoesNotLoadInstances(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.service.PromoteAllBulk(ctx, f.sess)
	require.NoError(t, err)

	assert.Zero(t, f.sess.Tracked())
	require.NoError(t, f.sess.Commit(ctx))
}

func TestStudentService_Expel(t *testing.T) {
	ctx := context.Background()

	remaining := func(t *testing.T, f *fixture) []string {
		t.Helper()
		names, err := f.service.ListNames(ctx, f.sess)
		require.NoError(t, err)
		out := make([]string, len(names))
		for i, n := range names {
			out[i] = n.Name
		}
		return out
	}

	t.Run("Instance", func(t *testing.T) {
		f := setup(t)

		require.NoError(t, f.service.Expel(ctx, f.sess, "Albert Einstein"))
		require.NoError(t, f.sess.Commit(ctx))

		assert.Equal(t, []string{"Alan Turing"}, remaining(t, f))
	})

	t.Run("Bulk", func(t *testing.T) {
		f := setup(t)

		n, err := f.service.ExpelBulk(ctx, f.sess, "Albert Einstein")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		require.NoError(t, f.sess.Commit(ctx))

		assert.Equal(t, []string{"Alan Turing"}, remaining(t, f))
	})

	t.Run("NotFound", func(t *testing.T) {
		f := setup(t)

		assert.ErrorIs(t, f.service.Expel(ctx, f.sess, "Isaac Newton"), student.ErrStudentNotFound)
		_, err := f.service.ExpelBulk(ctx, f.sess, "Isaac Newton")
		assert.ErrorIs(t, err, student.ErrStudentNotFound)
	})
}

func TestStudentService_Validation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tests := []struct {
		name   string
		mutate func(s *student.Student)
	}{
		{"MissingName", func(s *student.Student) { s.Name = "" }},
		{"InvalidEmail", func(s *student.Student) { s.Email = "not-an-email" }},
		{"EmailTooLong", func(s *student.Student) { s.Email = strings.Repeat("a", 50) + "@example.com" }},
		{"MissingBirthday", func(s *student.Student) { s.Birthday = time.Time{} }},
		{"PresetID", func(s *student.Student) { s.ID = 42 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &student.Student{
				Name:     "Ada Lovelace",
				Email:    "ada@analytical.engine",
				Grade:    9,
				Birthday: time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC),
			}
			tt.mutate(s)

			_, err := f.service.Enroll(ctx, f.sess, s)
			assert.ErrorIs(t, err, student.ErrInvalidInput)
			assert.ErrorIs(t, f.service.Admit(ctx, f.sess, s), student.ErrInvalidInput)
		})
	}

	count, err := f.service.CountStudents(ctx, f.sess)
	require.NoError(t, err)
	assert.Equal(t, 2, count.Value, "nothing invalid reached the store")
	require.NoError(t, f.sess.Commit(ctx))
}

func TestStudentService_GradeIsUnconstrained(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	s := &student.Student{
		Name:     "Ada Lovelace",
		Email:    "ada@analytical.engine",
		Grade:    -1,
		Birthday: time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.service.Admit(ctx, f.sess, s))
	require.NoError(t, f.sess.Commit(ctx))

	grades, err := f.service.ListGrades(ctx, f.sess)
	require.NoError(t, err)
	assert.Contains(t, grades, student.NameGrade{Name: "Ada Lovelace", Grade: -1})
	require.NoError(t, f.sess.Commit(ctx))
}

func TestStudentService_RolledBackAdmitHasNoID(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	ada := &student.Student{
		Name:     "Ada Lovelace",
		Email:    "ada@analytical.engine",
		Grade:    9,
		Birthday: time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.service.Admit(ctx, f.sess, ada))
	require.NoError(t, f.sess.Flush(ctx))
	require.Equal(t, int64(3), ada.ID)

	require.NoError(t, f.sess.Rollback(ctx))
	assert.Zero(t, ada.ID)

	count, err := f.service.CountStudents(ctx, f.sess)
	require.NoError(t, err)
	assert.Equal(t, 2, count.Value)
	require.NoError(t, f.sess.Commit(ctx))
}

func TestStudentService_AdmitStampsEnrolledDatePerInsert(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	later := f.clock.Advance(24 * time.Hour)
	ada := &student.Student{
		Name:     "Ada Lovelace",
		Email:    "ada@analytical.engine",
		Grade:    9,
		Birthday: time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.service.Admit(ctx, f.sess, ada))
	require.NoError(t, f.sess.Commit(ctx))

	assert.Equal(t, int64(3), ada.ID)

	students, err := f.service.ListStudents(ctx, f.sess)
	require.NoError(t, err)
	require.Len(t, students, 3)
	assert.True(t, students[0].EnrolledDate.Equal(enrolledAt))
	assert.True(t, students[2].EnrolledDate.Equal(later), "each insert gets its own timestamp")
	require.NoError(t, f.sess.Commit(ctx))
}

func TestStudentService_NameIndex(t *testing.T) {
	f := setup(t)

	var count int
	err := f.db.NewSelect().
		ColumnExpr("count(*)").
		Table("sqlite_master").
		Where("type = 'index'").
		Where("name = ?", student.NameIndex).
		Where("tbl_name = ?", student.TableName).
		Scan(context.Background(), &count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
