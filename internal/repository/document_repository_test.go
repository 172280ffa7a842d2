package repository

import (
	"context"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"docqa/internal/model"
	"docqa/internal/platform/mysql"
)

// openTestDB connects to MYSQL_TEST_DSN; tests are skipped without it.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test: MYSQL_TEST_DSN not set")
	}
	db, err := mysql.New(context.Background(), dsn)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Document{}, &model.DocumentRoom{}))
	return db
}

func TestDocumentRepositoryLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()

	file := "it-" + uuid.NewString() + ".txt"
	room := "room-" + uuid.NewString()
	doc := &model.Document{
		ID:           uuid.NewString(),
		File:         file,
		Filename:     file,
		IndexID:      file,
		RoomIDs:      []string{room},
		RolesAllowed: []string{"admin"},
		Status:       model.DocumentStatusPending,
	}
	require.NoError(t, repo.Create(ctx, doc))
	t.Cleanup(func() {
		db.Where("document_id = ?", doc.ID).Delete(&model.DocumentRoom{})
		db.Delete(&model.Document{}, "id = ?", doc.ID)
	})

	dup := *doc
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, repo.Create(ctx, &dup), ErrDuplicate)

	got, err := repo.GetByFile(ctx, file)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"admin"}, []string(got.RolesAllowed))

	require.NoError(t, repo.UpdateStatus(ctx, file, model.DocumentStatusReady, 3, ""))
	inRoom, err := repo.ListByRoom(ctx, room)
	require.NoError(t, err)
	require.Len(t, inRoom, 1)
	assert.Equal(t, model.DocumentStatusReady, inRoom[0].Status)
	assert.Equal(t, 3, inRoom[0].ChunkCount)

	missing, err := repo.GetByFile(ctx, "nope-"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 512))
	assert.Equal(t, "abc", truncate("abcdef", 3))

	// "é" is two bytes; a cut through it drops the whole rune.
	s := "aé"
	assert.Equal(t, "a", truncate(s, 2))
	assert.Equal(t, s, truncate(s, 3))

	long := strings.Repeat("界", 200)
	got := truncate(long, 512)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 512)
	assert.Equal(t, 510, len(got))
}
