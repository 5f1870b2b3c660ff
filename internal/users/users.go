// Package users is the user registry: calendar owners and their
// notification preferences.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/almanac/internal/models"
	"gorm.io/gorm"
)

// Store reads and writes users.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// List returns every user ordered by id.
func (s *Store) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	return users, nil
}

// Get loads one user. A missing user wraps gorm.ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, fmt.Errorf("users: get %d: %w", id, err)
	}
	return &u, nil
}

// ByName loads a user by unique name.
func (s *Store) ByName(ctx context.Context, name string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&u).Error; err != nil {
		return nil, fmt.Errorf("users: get %q: %w", name, err)
	}
	return &u, nil
}

// Create inserts a user.
func (s *Store) Create(ctx context.Context, u *models.User) error {
	if u.Name == "" {
		return fmt.Errorf("users: name is required")
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("users: %q already exists", u.Name)
		}
		return fmt.Errorf("users: create %q: %w", u.Name, err)
	}
	return nil
}

// WantsReminders reports whether reminder notifications reach the user.
func WantsReminders(u *models.User) bool {
	return u.PushEnabled && u.RemindersEnabled
}

// WantsDigest reports whether the daily agenda reaches the user.
func WantsDigest(u *models.User) bool {
	return u.PushEnabled && u.DigestEnabled
}
