package student

import (
	"fmt"
	"time"

	"student-sandbox/internal/db"

	"github.com/uptrace/bun"
)

// TableName and the Column constants are the explicit mapping of Student to
// its table. Queries reference columns only through these names.
const (
	TableName   = "students"
	NameIndex   = "index_name"
	EmailMaxLen = 55
)

const (
	ColumnID           = "id"
	ColumnName         = "name"
	ColumnEmail        = "email"
	ColumnGrade        = "grade"
	ColumnBirthday     = "birthday"
	ColumnEnrolledDate = "enrolled_date"
)

// Columns lists the table columns in declaration order.
var Columns = []string{
	ColumnID,
	ColumnName,
	ColumnEmail,
	ColumnGrade,
	ColumnBirthday,
	ColumnEnrolledDate,
}

type Student struct {
	bun.BaseModel `bun:"table:students,alias:s"`

	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	Name         string    `bun:"name,type:text" json:"name" validate:"required"`
	Email        string    `bun:"email,type:varchar(55)" json:"email" validate:"required,email,max=55"`
	Grade        int       `bun:"grade" json:"grade"`
	Birthday     time.Time `bun:"birthday,type:timestamp" json:"birthday" validate:"required"`
	EnrolledDate time.Time `bun:"enrolled_date,type:timestamp,nullzero,default:current_timestamp" json:"enrolledDate"`
}

func (s *Student) String() string {
	return fmt.Sprintf("Student %d: %s, Grade %d", s.ID, s.Name, s.Grade)
}

// EntityKey returns the primary key; zero until the store assigns one.
func (s *Student) EntityKey() int64 {
	return s.ID
}

// ResetKey forgets a store-assigned ID whose insert was rolled back.
func (s *Student) ResetKey() {
	s.ID = 0
}

// ApplyDefaults stamps enrolled_date with the insert time when it was not set.
func (s *Student) ApplyDefaults(now time.Time) {
	if s.EnrolledDate.IsZero() {
		s.EnrolledDate = now
	}
}

func (*Student) Indexes() []db.Index {
	return []db.Index{
		{Name: NameIndex, Columns: []string{ColumnName}},
	}
}
