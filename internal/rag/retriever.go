package rag

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"

	"docqa/internal/vectorstore"
)

const DefaultTopK = 5

// Target is one index to search, optionally narrowed by metadata.
type Target struct {
	Index string
	Where map[string]string
}

// Retriever runs similarity search over one or more indexes.
type Retriever struct {
	store         vectorstore.Store
	embedder      embeddings.Embedder
	topK          int
	embedTimeout  time.Duration
	vectorTimeout time.Duration
}

func NewRetriever(store vectorstore.Store, embedder embeddings.Embedder, topK int, embedTimeout, vectorTimeout time.Duration) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{
		store:         store,
		embedder:      embedder,
		topK:          topK,
		embedTimeout:  embedTimeout,
		vectorTimeout: vectorTimeout,
	}
}

// Retrieve returns the top-K chunks of index for query.
func (r *Retriever) Retrieve(ctx context.Context, index, query string) ([]schema.Document, error) {
	return r.Search(ctx, []Target{{Index: index}}, query, r.topK)
}

// Search merges the k best matches across targets. A missing index fails the
// whole search with ErrIndexNotFound; collaborator failures with
// ErrBackendUnavailable. Neither is reported as an empty result.
func (r *Retriever) Search(ctx context.Context, targets []Target, query string, k int) ([]schema.Document, error) {
	if k <= 0 {
		k = r.topK
	}
	for _, t := range targets {
		if !r.store.Exists(t.Index) {
			return nil, &indexNotFound{index: t.Index}
		}
	}

	embedCtx, cancel := withTimeout(ctx, r.embedTimeout)
	vec, err := r.embedder.EmbedQuery(embedCtx, query)
	cancel()
	if err != nil {
		return nil, unavailable("embed query", err)
	}

	var all []vectorstore.Match
	for _, t := range targets {
		queryCtx, cancel := withTimeout(ctx, r.vectorTimeout)
		matches, err := r.store.Query(queryCtx, t.Index, vec, k, t.Where)
		cancel()
		if errors.Is(err, vectorstore.ErrIndexNotFound) {
			return nil, &indexNotFound{index: t.Index}
		}
		if err != nil {
			return nil, unavailable("query index "+t.Index, err)
		}
		all = append(all, matches...)
	}

	vectorstore.SortMatches(all)
	if len(all) > k {
		all = all[:k]
	}
	docs := make([]schema.Document, len(all))
	for i, m := range all {
		docs[i] = toDocument(m)
	}
	return docs, nil
}

func toDocument(m vectorstore.Match) schema.Document {
	meta := map[string]any{
		"id":                     m.ID,
		vectorstore.MetaFile:     m.Metadata[vectorstore.MetaFile],
		vectorstore.MetaFilename: m.Metadata[vectorstore.MetaFilename],
	}
	if n, err := strconv.Atoi(m.Metadata[vectorstore.MetaChunkIndex]); err == nil {
		meta[vectorstore.MetaChunkIndex] = n
	}
	return schema.Document{
		PageContent: m.Content,
		Metadata:    meta,
		Score:       m.Similarity,
	}
}

// ScopeFunc resolves the targets a conversation may search at query time.
type ScopeFunc func(ctx context.Context) ([]Target, error)

// BoundRetriever ties a Retriever to a conversation scope and satisfies
// schema.Retriever.
type BoundRetriever struct {
	engine *Retriever
	scope  ScopeFunc
	k      int
}

var _ schema.Retriever = (*BoundRetriever)(nil)

func (r *Retriever) Bind(scope ScopeFunc) *BoundRetriever {
	return &BoundRetriever{engine: r, scope: scope, k: r.topK}
}

// BindIndex scopes retrieval to a fixed index and metadata filter.
func (r *Retriever) BindIndex(index string, where map[string]string) *BoundRetriever {
	target := Target{Index: index, Where: where}
	return r.Bind(func(context.Context) ([]Target, error) {
		return []Target{target}, nil
	})
}

func (b *BoundRetriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	targets, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, &indexNotFound{}
	}
	return b.engine.Search(ctx, targets, query, b.k)
}

type indexNotFound struct {
	index string
}

func (e *indexNotFound) Error() string {
	if e.index == "" {
		return ErrIndexNotFound.Error() + ": no index in scope"
	}
	return ErrIndexNotFound.Error() + ": " + e.index
}

func (e *indexNotFound) Is(target error) bool { return target == ErrIndexNotFound }
