package student

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"student-sandbox/internal/session"

	"github.com/go-playground/validator/v10"
)

var (
	ErrStudentNotFound = errors.New("student not found")
	ErrInvalidInput    = errors.New("invalid input")
)

type Service interface {
	Enroll(ctx context.Context, sess *session.Session, students ...*Student) (int64, error)
	Admit(ctx context.Context, sess *session.Session, student *Student) error
	ListStudents(ctx context.Context, sess *session.Session) ([]*Student, error)
	ListNames(ctx context.Context, sess *session.Session) ([]NameRow, error)
	ListNamesAlphabetically(ctx context.Context, sess *session.Session) ([]NameRow, error)
	ListGrades(ctx context.Context, sess *session.Session) ([]NameGrade, error)
	RankByGrade(ctx context.Context, sess *session.Session) ([]NameGrade, error)
	Oldest(ctx context.Context, sess *session.Session, limit int) ([]NameBirthday, error)
	OldestFirst(ctx context.Context, sess *session.Session) (NameBirthday, error)
	CountStudents(ctx context.Context, sess *session.Session) (Count, error)
	Search(ctx context.Context, sess *session.Session, nameContains string, grade int) ([]*Student, error)
	SearchPattern(ctx context.Context, sess *session.Session, namePattern string, grade int) ([]*Student, error)
	PromoteAll(ctx context.Context, sess *session.Session) (int, error)
	PromoteAllBulk(ctx context.Context, sess *session.Session) (int64, error)
	Expel(ctx context.Context, sess *session.Session, name string) error
	ExpelBulk(ctx context.Context, sess *session.Session, name string) (int64, error)
}

type service struct {
	repo     Repository
	validate *validator.Validate
}

func NewService(repo Repository) Service {
	return &service{
		repo:     repo,
		validate: validator.New(),
	}
}

// Enroll validates every student, then inserts them in one statement.
func (s *service) Enroll(ctx context.Context, sess *session.Session, students ...*Student) (int64, error) {
	for _, st := range students {
		if err := s.check(st); err != nil {
			return 0, err
		}
	}
	return s.repo.BulkInsert(ctx, sess, students)
}

// Admit validates student and queues it on the session; it is written on the next flush.
func (s *service) Admit(ctx context.Context, sess *session.Session, student *Student) error {
	if err := s.check(student); err != nil {
		return err
	}
	return s.repo.Insert(ctx, sess, student)
}

func (s *service) ListStudents(ctx context.Context, sess *session.Session) ([]*Student, error) {
	return s.repo.All(ctx, sess)
}

func (s *service) ListNames(ctx context.Context, sess *session.Session) ([]NameRow, error) {
	return s.repo.Names(ctx, sess)
}

func (s *service) ListNamesAlphabetically(ctx context.Context, sess *session.Session) ([]NameRow, error) {
	return s.repo.NamesByName(ctx, sess)
}

func (s *service) ListGrades(ctx context.Context, sess *session.Session) ([]NameGrade, error) {
	return s.repo.NameGrades(ctx, sess)
}

func (s *service) RankByGrade(ctx context.Context, sess *session.Session) ([]NameGrade, error) {
	return s.repo.NameGradesByGradeDesc(ctx, sess)
}

func (s *service) Oldest(ctx context.Context, sess *session.Session, limit int) ([]NameBirthday, error) {
	if limit <= 0 {
		return nil, ErrInvalidInput
	}
	return s.repo.OldestLimit(ctx, sess, limit)
}

func (s *service) OldestFirst(ctx context.Context, sess *session.Session) (NameBirthday, error) {
	return s.repo.OldestFirst(ctx, sess)
}

func (s *service) CountStudents(ctx context.Context, sess *session.Session) (Count, error) {
	n, err := s.repo.Count(ctx, sess)
	return Count{Value: n}, err
}

// Search returns students whose name contains nameContains and whose grade
// equals grade. LIKE wildcards in nameContains match literally.
func (s *service) Search(ctx context.Context, sess *session.Session, nameContains string, grade int) ([]*Student, error) {
	return s.repo.Filter(ctx, sess, "%"+escapeLike(nameContains)+"%", grade)
}

// SearchPattern matches names against a LIKE pattern as given. % and _ keep
// their wildcard meaning; a backslash escapes them.
func (s *service) SearchPattern(ctx context.Context, sess *session.Session, namePattern string, grade int) ([]*Student, error) {
	if namePattern == "" {
		return nil, fmt.Errorf("%w: empty name pattern", ErrInvalidInput)
	}
	return s.repo.Filter(ctx, sess, namePattern, grade)
}

// PromoteAll loads every student and increments each grade in memory; the
// changes reach the store when the session flushes.
func (s *service) PromoteAll(ctx context.Context, sess *session.Session) (int, error) {
	students, err := s.repo.All(ctx, sess)
	if err != nil {
		return 0, err
	}
	for _, st := range students {
		st.Grade++
	}
	return len(students), nil
}

// PromoteAllBulk increments every grade at the store without loading rows.
func (s *service) PromoteAllBulk(ctx context.Context, sess *session.Session) (int64, error) {
	return s.repo.IncrementGrades(ctx, sess, 1)
}

// Expel fetches the first student named name and removes that instance.
func (s *service) Expel(ctx context.Context, sess *session.Session, name string) error {
	student, err := s.repo.FindByName(ctx, sess, name)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, sess, student)
}

// ExpelBulk deletes every student named name with one statement.
func (s *service) ExpelBulk(ctx context.Context, sess *session.Session, name string) (int64, error) {
	n, err := s.repo.DeleteByName(ctx, sess, name)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrStudentNotFound
	}
	return n, nil
}

func (s *service) check(student *Student) error {
	if student == nil {
		return ErrInvalidInput
	}
	if student.ID != 0 {
		return fmt.Errorf("%w: id is assigned by the store", ErrInvalidInput)
	}
	if err := s.validate.Struct(student); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
