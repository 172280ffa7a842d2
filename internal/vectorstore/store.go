package vectorstore

import (
	"context"
	"errors"
	"sort"
)

// Metadata keys written by the indexer and understood by every Store.
const (
	MetaFile       = "file"
	MetaFilename   = "filename"
	MetaChunkIndex = "chunk_index"
	MetaRoles      = "roles_allowed"
	MetaSeq        = "seq"
	metaRoomPrefix = "room:"
)

var ErrIndexNotFound = errors.New("vector index not found")

// Record is one embedded chunk as written into a named index.
type Record struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// Match is a ranked query hit.
type Match struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Store is the vector index collaborator. Indexes are created on first upsert.
type Store interface {
	Upsert(ctx context.Context, index string, rec Record) error
	// Query returns at most k matches ordered by descending similarity, ties
	// in insertion order. where restricts matches to exact metadata values.
	Query(ctx context.Context, index string, vector []float32, k int, where map[string]string) ([]Match, error)
	// Delete removes every record of index matching where.
	Delete(ctx context.Context, index string, where map[string]string) error
	Exists(index string) bool
}

// RoomKey is the metadata key marking membership of a chunk in a room.
func RoomKey(roomID string) string {
	return metaRoomPrefix + roomID
}

// SortMatches orders matches by descending similarity; equal scores keep
// insertion order via the seq metadata.
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Metadata[MetaSeq] < matches[j].Metadata[MetaSeq]
	})
}
