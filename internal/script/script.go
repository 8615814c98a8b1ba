// Package script runs the fixed student demonstration against a session and
// prints every result set to its writer.
package script

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"student-sandbox/internal/config"
	"student-sandbox/internal/session"
	"student-sandbox/internal/student"
)

// Seed returns the two unsaved students the script starts from.
func Seed() []*student.Student {
	return []*student.Student{
		{
			Name:     "Albert Einstein",
			Email:    "albert.einstein@zurich.edu",
			Grade:    6,
			Birthday: time.Date(1879, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			Name:     "Alan Turing",
			Email:    "alan.turing@sherborne.edu",
			Grade:    11,
			Birthday: time.Date(1912, 6, 23, 0, 0, 0, 0, time.UTC),
		},
	}
}

const (
	searchName  = "Alan"
	searchGrade = 11
	expelName   = "Albert Einstein"
)

type Script struct {
	service    student.Service
	sess       *session.Session
	out        io.Writer
	logger     *slog.Logger
	deleteMode string
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

func New(service student.Service, sess *session.Session, out io.Writer, logger *slog.Logger, deleteMode string) *Script {
	if deleteMode == "" {
		deleteMode = config.DeleteNone
	}
	return &Script{
		service:    service,
		sess:       sess,
		out:        out,
		logger:     logger,
		deleteMode: deleteMode,
	}
}

// Run executes every step in order and stops at the first error.
func (s *Script) Run(ctx context.Context) error {
	if err := config.ValidateDeleteMode(s.deleteMode); err != nil {
		return err
	}

	steps := []step{
		{"bulk-insert", s.bulkInsert},
		{"read-all", s.readAll},
		{"read-all-again", s.readAll},
		{"select-names", s.selectNames},
		{"order-by-name", s.orderByName},
		{"order-by-grade-desc", s.orderByGradeDesc},
		{"limit", s.limit},
		{"first", s.first},
		{"count", s.count},
		{"filter", s.filter},
		{"update-instances", s.updateInstances},
		{"update-bulk", s.updateBulk},
	}
	switch s.deleteMode {
	case config.DeleteInstance:
		steps = append(steps, step{"delete-instance", s.deleteInstance})
	case config.DeleteBulk:
		steps = append(steps, step{"delete-bulk", s.deleteBulk})
	}

	for _, st := range steps {
		s.logger.InfoContext(ctx, "running step", "step", st.name)
		if err := st.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}

	if err := s.sess.Commit(ctx); err != nil {
		return fmt.Errorf("final commit: %w", err)
	}
	s.logger.InfoContext(ctx, "script finished", "steps", len(steps))
	return nil
}

func (s *Script) bulkInsert(ctx context.Context) error {
	n, err := s.service.Enroll(ctx, s.sess, Seed()...)
	if err != nil {
		return err
	}
	if err := s.sess.Commit(ctx); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "students enrolled", "rows", n)
	return nil
}

func (s *Script) readAll(ctx context.Context) error {
	students, err := s.service.ListStudents(ctx, s.sess)
	if err != nil {
		return err
	}
	return s.println(student.FormatList(students))
}

func (s *Script) selectNames(ctx context.Context) error {
	names, err := s.service.ListNames(ctx, s.sess)
	if err != nil {
		return err
	}
	return s.println(student.FormatList(names))
}

func (s *Script) orderByName(ctx context.Context) error {
	names, err := s.service.ListNamesAlphabetically(ctx, s.sess)
	if err != nil {
		return err
	}
	return s.println(student.FormatList(names))
}

func (s *Script) orderByGradeDesc(ctx context.Context) error {
	rows, err := s.service.RankByGrade(ctx, s.sess)
	if err != nil {
		return err
	}
	return s.println(student.FormatList(rows))
}

func (s *Script) limit(ctx context.Context) error {
	rows, err := s.service.Oldest(ctx, s.sess, 1)
	if err != nil {
		return err
	}
	return s.println(student.FormatList(rows))
}

func (s *Script) first(ctx context.Context) error {
	row, err := s.service.OldestFirst(ctx, s.sess)
	if err != nil {
		return err
	}
	return s.println(row.String())
}

func (s *Script) count(ctx context.Context) error {
	count, err := s.service.CountStudents(ctx, s.sess)
	if err != nil {
		return err
	}
	return s.println(count.String())
}

func (s *Script) filter(ctx context.Context) error {
	found, err := s.service.Search(ctx, s.sess, searchName, searchGrade)
	if err != nil {
		return err
	}
	for _, st := range found {
		if err := s.println(st.Name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Script) updateInstances(ctx context.Context) error {
	n, err := s.service.PromoteAll(ctx, s.sess)
	if err != nil {
		return err
	}
	if err := s.sess.Commit(ctx); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "students promoted", "instances", n)
	return s.printGrades(ctx)
}

func (s *Script) updateBulk(ctx context.Context) error {
	n, err := s.service.PromoteAllBulk(ctx, s.sess)
	if err != nil {
		return err
	}
	if err := s.sess.Commit(ctx); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "students promoted", "rows", n)
	return s.printGrades(ctx)
}

func (s *Script) deleteInstance(ctx context.Context) error {
	if err := s.service.Expel(ctx, s.sess, expelName); err != nil {
		return err
	}
	if err := s.sess.Commit(ctx); err != nil {
		return err
	}
	return s.readAll(ctx)
}

func (s *Script) deleteBulk(ctx context.Context) error {
	if _, err := s.service.ExpelBulk(ctx, s.sess, expelName); err != nil {
		return err
	}
	if err := s.sess.Commit(ctx); err != nil {
		return err
	}
	return s.readAll(ctx)
}

func (s *Script) printGrades(ctx context.Context) error {
	rows, err := s.service.ListGrades(ctx, s.sess)
	if err != nil {
		return err
	}
	return s.println(student.FormatList(rows))
}

func (s *Script) println(line string) error {
	_, err := fmt.Fprintln(s.out, line)
	return err
}
