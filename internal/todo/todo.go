// Package todo is the slice of the todo-list collaborator that calendar
// items touch: re-pointing a linked task's due date.
package todo

import (
	"fmt"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/recurrence"
	"gorm.io/gorm"
)

// Linker updates todo items linked from calendar items.
type Linker struct{}

// NewLinker returns a Linker.
func NewLinker() *Linker {
	return &Linker{}
}

// SetDueDate moves task taskID's due date to day. It runs on tx so the
// change commits with the caller's transaction. A missing task is an error.
func (Linker) SetDueDate(tx *gorm.DB, taskID uint, day string) error {
	if _, err := recurrence.ParseDay(day); err != nil {
		return err
	}
	res := tx.Model(&models.TodoItem{}).Where("id = ?", taskID).Update("due_date", day)
	if res.Error != nil {
		return fmt.Errorf("todo: set due date of %d: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("todo: set due date of %d: %w", taskID, gorm.ErrRecordNotFound)
	}
	return nil
}
