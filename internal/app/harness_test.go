package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"

	"docqa/internal/access"
	"docqa/internal/config"
	"docqa/internal/rag"
	"docqa/internal/vectorstore"
)

type harness struct {
	docs      *memDocs
	users     *memUsers
	store     *vectorstore.ChromemStore
	publisher *recordingPublisher
	auth      *AuthService
	documents *DocumentService
	qa        *QAService
	uploadDir string
}

type harnessOptions struct {
	granularity string
	mode        string
	embedder    embeddings.Embedder
	generator   rag.Generator
	// wrapDocs, if set, wraps the document store seen by the services.
	wrapDocs func(*memDocs) DocumentStore
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.granularity == "" {
		opts.granularity = config.IndexGranularityFile
	}
	if opts.mode == "" {
		opts.mode = config.IndexingModeSync
	}
	if opts.embedder == nil {
		opts.embedder = hashEmbedder{}
	}
	if opts.generator == nil {
		opts.generator = echoGenerator{}
	}

	h := &harness{
		docs:      newMemDocs(),
		users:     newMemUsers(),
		store:     vectorstore.NewMemoryStore(),
		publisher: &recordingPublisher{},
		uploadDir: t.TempDir(),
	}
	var docs DocumentStore = h.docs
	if opts.wrapDocs != nil {
		docs = opts.wrapDocs(h.docs)
	}
	h.auth = NewAuthService(h.users, "test-secret", time.Hour, []string{"viewer"})
	gate := access.NewGate(NewDocumentPolicies(docs), h.auth, time.Second)

	chunker, err := rag.NewChunker(200, 20)
	require.NoError(t, err)
	indexer := rag.NewIndexer(h.store, opts.embedder)
	retriever := rag.NewRetriever(h.store, hashEmbedder{}, 3, 0, 0)
	chains, err := rag.NewChainCache(16)
	require.NoError(t, err)

	h.documents = NewDocumentService(docs, chunker, indexer, h.publisher, gate, DocumentConfig{
		UploadDir:        h.uploadDir,
		IndexGranularity: opts.granularity,
		SharedIndex:      "documents",
		IndexingMode:     opts.mode,
		MetadataTimeout:  time.Second,
	})
	h.qa = NewQAService(gate, docs, chains, retriever, opts.generator, nil, QAConfig{
		IndexGranularity: opts.granularity,
		SharedIndex:      "documents",
		MaxMemoryTurns:   10,
		MetadataTimeout:  time.Second,
		TurnTimeout:      5 * time.Second,
	})
	return h
}
