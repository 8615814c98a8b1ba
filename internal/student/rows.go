package student

import (
	"fmt"
	"strings"
	"time"
)

// BirthdayLayout is how timestamps are printed in projected rows.
const BirthdayLayout = "2006-01-02 15:04:05"

type NameRow struct {
	Name string `bun:"name"`
}

func (r NameRow) String() string {
	return fmt.Sprintf("(%s)", r.Name)
}

type NameGrade struct {
	Name  string `bun:"name"`
	Grade int    `bun:"grade"`
}

func (r NameGrade) String() string {
	return fmt.Sprintf("(%s, %d)", r.Name, r.Grade)
}

type NameBirthday struct {
	Name     string    `bun:"name"`
	Birthday time.Time `bun:"birthday"`
}

func (r NameBirthday) String() string {
	return fmt.Sprintf("(%s, %s)", r.Name, r.Birthday.UTC().Format(BirthdayLayout))
}

// Count is the single-column result of an aggregate query.
type Count struct {
	Value int
}

func (c Count) String() string {
	return fmt.Sprintf("(%d)", c.Value)
}

// FormatList renders items the way result sets are printed: [a, b].
func FormatList[T fmt.Stringer](items []T) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
