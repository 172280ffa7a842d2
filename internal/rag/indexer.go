package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/errgroup"

	"docqa/internal/vectorstore"
)

const defaultEmbedConcurrency = 4

// DocumentMeta is merged into the metadata of every chunk of a document.
type DocumentMeta struct {
	File         string
	Filename     string
	RoomIDs      []string
	RolesAllowed []string
}

type IndexRequest struct {
	Index  string
	Meta   DocumentMeta
	Chunks []string
}

type Indexer struct {
	store         vectorstore.Store
	embedder      embeddings.Embedder
	concurrency   int
	embedTimeout  time.Duration
	vectorTimeout time.Duration
	now           func() time.Time
}

type IndexerOption func(*Indexer)

func WithEmbedConcurrency(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

func WithIndexTimeouts(embed, vector time.Duration) IndexerOption {
	return func(ix *Indexer) {
		ix.embedTimeout = embed
		ix.vectorTimeout = vector
	}
}

func NewIndexer(store vectorstore.Store, embedder embeddings.Embedder, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		store:       store,
		embedder:    embedder,
		concurrency: defaultEmbedConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index embeds every chunk and writes it into req.Index. It is all or
// nothing per document: on any failure the chunks already written for the
// file are removed again and an *IndexError names the chunks that failed.
func (ix *Indexer) Index(ctx context.Context, req IndexRequest) (int, error) {
	if req.Index == "" || req.Meta.File == "" {
		return 0, fmt.Errorf("index request needs index and file")
	}
	if len(req.Chunks) == 0 {
		return 0, nil
	}

	// Re-indexing the same file replaces its previous chunk set.
	if err := ix.removeFile(ctx, req.Index, req.Meta.File); err != nil {
		return 0, unavailable("clear previous chunks", err)
	}

	vectors := make([][]float32, len(req.Chunks))
	failures := &failureSet{}

	g := new(errgroup.Group)
	g.SetLimit(ix.concurrency)
	for i, text := range req.Chunks {
		g.Go(func() error {
			embedCtx, cancel := withTimeout(ctx, ix.embedTimeout)
			defer cancel()
			vec, err := ix.embedder.EmbedQuery(embedCtx, text)
			if err == nil && len(vec) == 0 {
				err = fmt.Errorf("empty embedding")
			}
			if err != nil {
				failures.add(i, err)
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	_ = g.Wait()

	if failures.empty() {
		stamp := ix.now().UnixNano()
		for i, text := range req.Chunks {
			rec := vectorstore.Record{
				ID:        chunkID(req.Meta.File, i),
				Content:   text,
				Embedding: vectors[i],
				Metadata:  chunkMetadata(req.Meta, i, stamp),
			}
			writeCtx, cancel := withTimeout(ctx, ix.vectorTimeout)
			err := ix.store.Upsert(writeCtx, req.Index, rec)
			cancel()
			if err != nil {
				for j := i; j < len(req.Chunks); j++ {
					failures.add(j, err)
				}
				break
			}
		}
	}

	if failures.empty() {
		log.Debug().Str("index", req.Index).Str("file", req.Meta.File).Int("chunks", len(req.Chunks)).Msg("document indexed")
		return len(req.Chunks), nil
	}

	if err := ix.removeFile(context.WithoutCancel(ctx), req.Index, req.Meta.File); err != nil {
		log.Error().Err(err).Str("index", req.Index).Str("file", req.Meta.File).Msg("rollback of partial index failed")
	}
	failed, cause := failures.result()
	return 0, &IndexError{
		Index:  req.Index,
		File:   req.Meta.File,
		Failed: failed,
		Total:  len(req.Chunks),
		Err:    unavailable("index chunks", cause),
	}
}

// Remove deletes every chunk of file from index.
func (ix *Indexer) Remove(ctx context.Context, index, file string) error {
	return ix.removeFile(ctx, index, file)
}

func (ix *Indexer) removeFile(ctx context.Context, index, file string) error {
	if !ix.store.Exists(index) {
		return nil
	}
	delCtx, cancel := withTimeout(ctx, ix.vectorTimeout)
	defer cancel()
	return ix.store.Delete(delCtx, index, map[string]string{vectorstore.MetaFile: file})
}

func chunkID(file string, i int) string {
	return file + "#" + strconv.Itoa(i)
}

func chunkMetadata(meta DocumentMeta, i int, stamp int64) map[string]string {
	m := map[string]string{
		vectorstore.MetaFile:       meta.File,
		vectorstore.MetaFilename:   meta.Filename,
		vectorstore.MetaChunkIndex: strconv.Itoa(i),
		vectorstore.MetaRoles:      strings.Join(meta.RolesAllowed, ","),
		vectorstore.MetaSeq:        fmt.Sprintf("%020d-%08d", stamp, i),
	}
	for _, room := range meta.RoomIDs {
		m[vectorstore.RoomKey(room)] = "true"
	}
	return m
}

type failureSet struct {
	mu    sync.Mutex
	byIdx map[int]error
}

func (f *failureSet) add(i int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byIdx == nil {
		f.byIdx = make(map[int]error)
	}
	if _, ok := f.byIdx[i]; !ok {
		f.byIdx[i] = err
	}
}

func (f *failureSet) empty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byIdx) == 0
}

// result returns failed ordinals ascending and the error of the first one.
func (f *failureSet) result() ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := make([]int, 0, len(f.byIdx))
	for i := range f.byIdx {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx, f.byIdx[idx[0]]
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
