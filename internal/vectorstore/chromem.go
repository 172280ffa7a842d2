package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

var errNoEmbeddingFunc = errors.New("chromem store expects precomputed embeddings")

// ChromemStore keeps one chromem collection per index name.
type ChromemStore struct {
	db *chromem.DB
}

// NewChromemStore opens a persistent database at path, or an in-memory one
// when path is empty.
func NewChromemStore(path string, compress bool) (*ChromemStore, error) {
	if path == "" {
		return &ChromemStore{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db failed: %w", err)
	}
	log.Info().Str("path", path).Int("collections", len(db.ListCollections())).Msg("vector store opened")
	return &ChromemStore{db: db}, nil
}

func NewMemoryStore() *ChromemStore {
	return &ChromemStore{db: chromem.NewDB()}
}

func (s *ChromemStore) Upsert(ctx context.Context, index string, rec Record) error {
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("record %q has no embedding", rec.ID)
	}
	c, err := s.db.GetOrCreateCollection(index, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("get or create collection %q failed: %w", index, err)
	}
	err = c.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Metadata:  rec.Metadata,
		Embedding: rec.Embedding,
	})
	if err != nil {
		return fmt.Errorf("add document %q failed: %w", rec.ID, err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, index string, vector []float32, k int, where map[string]string) ([]Match, error) {
	c := s.db.GetCollection(index, noEmbedding)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	if k <= 0 {
		return nil, nil
	}
	results, err := queryAll(ctx, c, vector, where)
	if err != nil {
		return nil, fmt.Errorf("query collection %q failed: %w", index, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		}
	}
	SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// queryAll scores every candidate so equal similarities can be ordered by seq
// before truncation. A delete racing the count shrinks the collection under
// the query; the count is then read again.
func queryAll(ctx context.Context, c *chromem.Collection, vector []float32, where map[string]string) ([]chromem.Result, error) {
	const attempts = 8
	var err error
	for i := 0; i < attempts; i++ {
		count := c.Count()
		if count == 0 {
			return nil, nil
		}
		var results []chromem.Result
		results, err = c.QueryEmbedding(ctx, vector, count, where, nil)
		if err == nil {
			return results, nil
		}
		if c.Count() >= count {
			return nil, err
		}
	}
	return nil, err
}

func (s *ChromemStore) Delete(ctx context.Context, index string, where map[string]string) error {
	c := s.db.GetCollection(index, noEmbedding)
	if c == nil {
		return nil
	}
	if err := c.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("delete from collection %q failed: %w", index, err)
	}
	return nil
}

func (s *ChromemStore) Exists(index string) bool {
	return s.db.GetCollection(index, noEmbedding) != nil
}

func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}
