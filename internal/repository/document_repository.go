package repository

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"gorm.io/gorm"

	"docqa/internal/model"
)

// ErrDuplicate is returned when a unique column already holds the value.
var ErrDuplicate = errors.New("duplicate record")

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create stores the record together with its room memberships.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		if len(doc.RoomIDs) == 0 {
			return nil
		}
		rooms := make([]model.DocumentRoom, 0, len(doc.RoomIDs))
		for _, roomID := range doc.RoomIDs {
			rooms = append(rooms, model.DocumentRoom{RoomID: roomID, DocumentID: doc.ID})
		}
		return tx.Create(&rooms).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("create document %q failed: %w", doc.File, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByFile(ctx context.Context, file string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("file = ?", file).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document by file failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ExistsByFile(ctx context.Context, file string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("file = ?", file).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count document by file failed: %w", err)
	}
	return count > 0, nil
}

// ListByRoom returns every document attached to the room, oldest first.
func (r *DocumentRepository) ListByRoom(ctx context.Context, roomID string) ([]model.Document, error) {
	var list []model.Document
	err := r.db.WithContext(ctx).
		Joins("JOIN document_rooms ON document_rooms.document_id = documents.id").
		Where("document_rooms.room_id = ?", roomID).
		Order("documents.created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list documents by room failed: %w", err)
	}
	return list, nil
}

// UpdateStatus records the outcome of an indexing attempt.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, file, status string, chunkCount int, lastErr string) error {
	res := r.db.WithContext(ctx).Model(&model.Document{}).Where("file = ?", file).Updates(map[string]any{
		"status":      status,
		"chunk_count": chunkCount,
		"last_error":  truncate(lastErr, 512),
	})
	if res.Error != nil {
		return fmt.Errorf("update document status failed: %w", res.Error)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
