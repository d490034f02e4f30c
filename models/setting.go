package models

import "time"

// Setting holds an owner's preferences. One row per user, created lazily.
type Setting struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    uint   `gorm:"uniqueIndex;not null"`
	User      *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Currency  string `gorm:"size:3;not null;default:IDR"`
}
