package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DocumentStatusPending = "pending"
	DocumentStatusReady   = "ready"
	DocumentStatusFailed  = "failed"
)

// Document is the metadata record of an uploaded file. File is the unique
// identity; IndexID names the vector index holding its chunks.
type Document struct {
	ID           string                      `gorm:"primaryKey;size:36" json:"id"`
	File         string                      `gorm:"size:255;not null;uniqueIndex" json:"file"`
	Filename     string                      `gorm:"size:255;not null" json:"filename"`
	IndexID      string                      `gorm:"size:255;not null;index" json:"index_id"`
	RoomIDs      datatypes.JSONSlice[string] `gorm:"type:json" json:"room_ids"`
	RolesAllowed datatypes.JSONSlice[string] `gorm:"type:json" json:"roles_allowed"`
	UsersAllowed datatypes.JSONSlice[string] `gorm:"type:json" json:"users_allowed"`
	Status       string                      `gorm:"size:16;not null;index" json:"status"`
	ChunkCount   int                         `json:"chunk_count"`
	LastError    string                      `gorm:"size:512" json:"-"`
	UploadedBy   uint                        `gorm:"index" json:"uploaded_by"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// DocumentRoom indexes documents by room so room lookups avoid scanning the
// JSON column.
type DocumentRoom struct {
	RoomID     string `gorm:"primaryKey;size:128"`
	DocumentID string `gorm:"primaryKey;size:36;index"`
}
