package models

import (
	"time"
)

// User model
type User struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Username       string `gorm:"size:50;not null;uniqueIndex"`
	Email          string `gorm:"size:255"`
	HashedPassword []byte `gorm:"not null"`
	RoleID         *uint  `gorm:"index"`
	Role           *Role  `gorm:"foreignKey:RoleID;references:ID"`
	LastLogin      *time.Time
}
