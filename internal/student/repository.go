package student

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"student-sandbox/internal/metrics"
	"student-sandbox/internal/session"

	"github.com/uptrace/bun"
)

// Repository queries the students table through a session. Unordered reads
// return rows in primary key order.
type Repository interface {
	BulkInsert(ctx context.Context, sess *session.Session, students []*Student) (int64, error)
	Insert(ctx context.Context, sess *session.Session, student *Student) error
	All(ctx context.Context, sess *session.Session) ([]*Student, error)
	Names(ctx context.Context, sess *session.Session) ([]NameRow, error)
	NamesByName(ctx context.Context, sess *session.Session) ([]NameRow, error)
	NameGrades(ctx context.Context, sess *session.Session) ([]NameGrade, error)
	NameGradesByGradeDesc(ctx context.Context, sess *session.Session) ([]NameGrade, error)
	OldestLimit(ctx context.Context, sess *session.Session, limit int) ([]NameBirthday, error)
	OldestFirst(ctx context.Context, sess *session.Session) (NameBirthday, error)
	Count(ctx context.Context, sess *session.Session) (int, error)
	Filter(ctx context.Context, sess *session.Session, namePattern string, grade int) ([]*Student, error)
	FindByName(ctx context.Context, sess *session.Session, name string) (*Student, error)
	IncrementGrades(ctx context.Context, sess *session.Session, by int) (int64, error)
	DeleteByName(ctx context.Context, sess *session.Session, name string) (int64, error)
	Delete(ctx context.Context, sess *session.Session, student *Student) error
}

type repository struct {
	metrics *metrics.Metrics
}

func NewRepository(m *metrics.Metrics) Repository {
	return &repository{
		metrics: m,
	}
}

func (r *repository) BulkInsert(ctx context.Context, sess *session.Session, students []*Student) (int64, error) {
	start := time.Now()
	n, err := sess.BulkSave(ctx, &students)

	r.metrics.Database.RecordQuery(ctx, "insert", TableName, time.Since(start), err)
	r.metrics.Database.RecordRowsAffected(ctx, "insert", TableName, n)

	return n, err
}

func (r *repository) Insert(ctx context.Context, sess *session.Session, student *Student) error {
	return sess.Add(student)
}

func (r *repository) All(ctx context.Context, sess *session.Session) ([]*Student, error) {
	start := time.Now()
	var students []*Student
	err := r.selectStudents(ctx, sess, &students, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q
	})

	r.metrics.Database.RecordQuery(ctx, "select", TableName, time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return track(sess, students), nil
}

func (r *repository) Names(ctx context.Context, sess *session.Session) ([]NameRow, error) {
	start := time.Now()
	var rows []NameRow
	err := r.project(ctx, sess, &rows, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Column(ColumnName).OrderExpr("? ASC", bun.Ident(ColumnID))
	})

	r.metrics.Database.RecordQuery(ctx, "select", TableName, time.Since(start), err)

	return rows, err
}

func (r *repository) NamesByName(ctx context.Context, sess *session.Session) ([]NameRow, error) {
	start := time.Now()
	var rows []NameRow
	err := r.project(ctx, sess, &rows, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Column(ColumnName).OrderExpr("? ASC", bun.Ident(ColumnName))
	})

	r.metrics.Database.RecordQuery(ctx, "select", TableName, time.Since(start), err)

	return rows, err
}

func (r *repository) NameGrades(ctx context.Context, sess *session.Session) ([]NameGrade, error) {
	start := time.Now()
	var rows []NameGrade
	err := r.project(ctx, sess, &rows, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Column(ColumnName, ColumnGrade).OrderExpr("? ASC", bun.Ident(ColumnID))
	})

	r.metrics.Database.RecordQuery(ctx, "select", TableName, time.Since(start), err)

	return rows, err
}

func (r *repository) NameGradesByGradeDesc(ctx context.Context, sess *session.Session) ([]NameGrade, error) {
	start := time.Now()
	var rows []NameGrade
	err := r.project(ctx, sess, &rows, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Column(ColumnName, ColumnGrade).OrderExpr("? DESC", bun.Ident(ColumnGrade))
	})

	r.metrics.Database.RecordQuery(ctx, "select", TableName, time.Since(start), err)

	return rows, err
}

func (r *repository) OldestLimit(ctx context.Context, sess *session.Session, limit int) ([]NameBirthday, error) {
	start := time.Now()
	var rows []NameBirthday
	err := r.project(ctx, sess, &rows, func(q *bun.SelectQuery) *bun.SelectQuery {
		return byBirthday(q).Limit(limit)
	})

	r.metrics.Database.RecordQuery(ctx, "select", TableName, time.Since(start), err)

	return rows, err
}

func (r *repository) OldestFirst(ctx context.Context, sess *session.Session) (NameBirthday, error) {
	start := time.Now()
	var row NameBirthday
	err := r.project(ctx, sess, &row, func(q *bun.SelectQuery) *bun.SelectQuery {
		return byBirthday(q).Limit(1)
	})

	r.metrics.Database.RecordQuery(ctx, "select", TableName, time.Since(start), err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NameBirthday{}, ErrStudentNotFound
		}
		return NameBirthday{}, err
	}
	return row, nil
}

func (r *repository) Count(ctx context.Context, sess *session.Session) (int, error) {
	start := time.Now()
	var count int
	err := r.project(ctx, sess, &count, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.ColumnExpr("count(?)", bun.Ident(ColumnID))
	})

	r.metrics.Database.RecordQuery(ctx, "select", TableName, time.Since(start), err)

	return count, err
}

func (r *repository) Filter(ctx context.Context, sess *session.Session, namePattern string, grade int) ([]*Student, error) {
	start := time.Now()
	var students []*Student
	err := r.selectStudents(ctx, sess, &students, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			Where(`? LIKE ? ESCAPE '\'`, bun.Ident(ColumnName), namePattern).
			Where("? = ?", bun.Ident(ColumnGrade), grade)
	})

	r.metrics.Database.RecordQuery(ctx, "select", TableName, time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return track(sess, students), nil
}

func (r *repository) FindByName(ctx context.Context, sess *session.Session, name string) (*Student, error) {
	start := time.Now()
	student := new(Student)
	conn, err := sess.Conn(ctx)
	if err == nil {
		err = conn.NewSelect().
			Model(student).
			Where("? = ?", bun.Ident(ColumnName), name).
			OrderExpr("? ASC", bun.Ident(ColumnID)).
			Limit(1).
			Scan(ctx)
	}

	r.metrics.Database.RecordQuery(ctx, "select", TableName, time.Since(start), err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return sess.Track(student).(*Student), nil
}

// IncrementGrades adds by to every grade in one UPDATE without loading rows.
func (r *repository) IncrementGrades(ctx context.Context, sess *session.Session, by int) (int64, error) {
	start := time.Now()
	var n int64
	conn, err := sess.Conn(ctx)
	if err == nil {
		var res sql.Result
		res, err = conn.NewUpdate().
			Model((*Student)(nil)).
			Set("? = ? + ?", bun.Ident(ColumnGrade), bun.Ident(ColumnGrade), by).
			Where("1 = 1").
			Exec(ctx)
		if err == nil {
			n, err = res.RowsAffected()
		}
	}

	r.metrics.Database.RecordQuery(ctx, "update", TableName, time.Since(start), err)
	r.metrics.Database.RecordRowsAffected(ctx, "update", TableName, n)

	sess.Expire()
	return n, err
}

// DeleteByName removes matching rows in one DELETE without loading them.
func (r *repository) DeleteByName(ctx context.Context, sess *session.Session, name string) (int64, error) {
	start := time.Now()
	var n int64
	conn, err := sess.Conn(ctx)
	if err == nil {
		var res sql.Result
		res, err = conn.NewDelete().
			Model((*Student)(nil)).
			Where("? = ?", bun.Ident(ColumnName), name).
			Exec(ctx)
		if err == nil {
			n, err = res.RowsAffected()
		}
	}

	r.metrics.Database.RecordQuery(ctx, "delete", TableName, time.Since(start), err)
	r.metrics.Database.RecordRowsAffected(ctx, "delete", TableName, n)

	sess.Expire()
	return n, err
}

func (r *repository) Delete(ctx context.Context, sess *session.Session, student *Student) error {
	return sess.Delete(student)
}

func (r *repository) selectStudents(ctx context.Context, sess *session.Session, dest *[]*Student, apply func(*bun.SelectQuery) *bun.SelectQuery) error {
	conn, err := sess.Conn(ctx)
	if err != nil {
		return err
	}
	q := conn.NewSelect().Model(dest).OrderExpr("? ASC", bun.Ident(ColumnID))
	return apply(q).Scan(ctx)
}

func (r *repository) project(ctx context.Context, sess *session.Session, dest interface{}, apply func(*bun.SelectQuery) *bun.SelectQuery) error {
	conn, err := sess.Conn(ctx)
	if err != nil {
		return err
	}
	q := conn.NewSelect().Model((*Student)(nil))
	return apply(q).Scan(ctx, dest)
}

func byBirthday(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Column(ColumnName, ColumnBirthday).OrderExpr("? ASC", bun.Ident(ColumnBirthday))
}

func track(sess *session.Session, students []*Student) []*Student {
	for i, s := range students {
		students[i] = sess.Track(s).(*Student)
	}
	return students
}
