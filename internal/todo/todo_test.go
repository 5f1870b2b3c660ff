package todo

import (
	"errors"
	"testing"

	"github.com/zulandar/almanac/internal/db"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/recurrence"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func TestSetDueDate(t *testing.T) {
	gdb := testDB(t)
	item := models.TodoItem{UserID: 1, Title: "Renew passport"}
	gdb.Create(&item)

	if err := NewLinker().SetDueDate(gdb, item.ID, "2024-03-05"); err != nil {
		t.Fatalf("SetDueDate: %v", err)
	}
	var got models.TodoItem
	gdb.First(&got, item.ID)
	if got.DueDate == nil || *got.DueDate != "2024-03-05" {
		t.Errorf("DueDate = %v, want 2024-03-05", got.DueDate)
	}
}

func TestSetDueDate_Errors(t *testing.T) {
	gdb := testDB(t)
	l := NewLinker()
	if err := l.SetDueDate(gdb, 42, "2024-03-05"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("missing task err = %v, want ErrRecordNotFound", err)
	}
	if err := l.SetDueDate(gdb, 1, "March 5"); !errors.Is(err, recurrence.ErrInvalid) {
		t.Errorf("bad day err = %v, want ErrInvalid", err)
	}
}

func TestSetDueDate_RollsBackWithCaller(t *testing.T) {
	gdb := testDB(t)
	item := models.TodoItem{UserID: 1, Title: "Call bank"}
	gdb.Create(&item)

	boom := errors.New("boom")
	err := gdb.Transaction(func(tx *gorm.DB) error {
		if err := NewLinker().SetDueDate(tx, item.ID, "2024-03-05"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction err = %v", err)
	}
	var got models.TodoItem
	gdb.First(&got, item.ID)
	if got.DueDate != nil {
		t.Errorf("DueDate = %v, want rollback to nil", *got.DueDate)
	}
}
