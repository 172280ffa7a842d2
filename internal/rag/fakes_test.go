package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/schema"

	"docqa/internal/vectorstore"
)

var errBackendDown = errors.New("backend down")

// letterEmbedder maps text to letter frequencies plus a constant component,
// so equal text always embeds to the same non-zero vector.
type letterEmbedder struct {
	mu     sync.Mutex
	failOn map[string]bool
	calls  int
}

func (e *letterEmbedder) vector(text string) []float32 {
	v := make([]float32, 27)
	v[26] = 0.1
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		} else if unicode.IsDigit(r) {
			v[26] += 0.5
		}
	}
	return v
}

func (e *letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.failOn[text]
	e.mu.Unlock()
	if fail {
		return nil, errBackendDown
	}
	return e.vector(text), nil
}

func (e *letterEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// failingStore wraps a Store and fails upserts after n successful ones.
type failingStore struct {
	vectorstore.Store
	mu        sync.Mutex
	allowed   int
	upserts   int
	failQuery bool
}

func (s *failingStore) Upsert(ctx context.Context, index string, rec vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowed >= 0 && s.upserts >= s.allowed {
		return errBackendDown
	}
	s.upserts++
	return s.Store.Upsert(ctx, index, rec)
}

func (s *failingStore) Query(ctx context.Context, index string, vector []float32, k int, where map[string]string) ([]vectorstore.Match, error) {
	if s.failQuery {
		return nil, errBackendDown
	}
	return s.Store.Query(ctx, index, vector, k, where)
}

// scriptedGenerator answers from a function and records prompts.
type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	answer  func(ctx context.Context, prompt string) (string, error)
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.answer == nil {
		return "answer", nil
	}
	return g.answer(ctx, prompt)
}

type staticRetriever struct {
	docs []schema.Document
	err  error
}

func (r staticRetriever) GetRelevantDocuments(context.Context, string) ([]schema.Document, error) {
	return r.docs, r.err
}

type memTurnStore struct {
	mu      sync.Mutex
	turns   map[string][]Turn
	loadErr error
}

func (s *memTurnStore) Load(_ context.Context, key string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]Turn(nil), s.turns[key]...), nil
}

func (s *memTurnStore) Append(_ context.Context, key string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turns == nil {
		s.turns = make(map[string][]Turn)
	}
	s.turns[key] = append(s.turns[key], turn)
	return nil
}
