package model

import (
	"time"

	"gorm.io/datatypes"
)

const RoleAdmin = "admin"

type User struct {
	ID           uint                        `gorm:"primaryKey" json:"id"`
	Username     string                      `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email        string                      `gorm:"size:128;not null;uniqueIndex" json:"email"`
	PasswordHash string                      `gorm:"size:255;not null" json:"-"`
	Roles        datatypes.JSONSlice[string] `gorm:"type:json" json:"roles"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}
