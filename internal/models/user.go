package models

import "time"

// User is the calendar owner together with notification preferences.
type User struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	Name             string `gorm:"size:64;not null;uniqueIndex"`
	Timezone         string `gorm:"size:64"`
	PushEnabled      bool
	RemindersEnabled bool
	DigestEnabled    bool
	SlackChannelID   string `gorm:"size:64"`
	DiscordChannelID string `gorm:"size:64"`
	CreatedAt        time.Time
}

// TodoItem is a todo-list entry that a calendar item can link to.
type TodoItem struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	UserID    uint    `gorm:"not null;index"`
	Title     string  `gorm:"size:256;not null"`
	DueDate   *string `gorm:"size:10"`
	Done      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
