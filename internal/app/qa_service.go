package app

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/schema"

	"docqa/internal/config"
	"docqa/internal/model"
	"docqa/internal/rag"
	"docqa/internal/vectorstore"
)

// Authorizer is the access gate as seen by the services.
type Authorizer interface {
	Authorize(ctx context.Context, file, userID string) bool
	AuthorizeRoom(ctx context.Context, roomID, userID string) bool
}

type QAConfig struct {
	IndexGranularity string
	SharedIndex      string
	MaxMemoryTurns   int
	GenerateTimeout  time.Duration
	MetadataTimeout  time.Duration
	TurnTimeout      time.Duration
}

// QAService answers questions about one file or one room. The gate runs
// before any chain is looked up or any retrieval happens, on both paths.
type QAService struct {
	gate      Authorizer
	docs      DocumentStore
	chains    *rag.ChainCache
	retriever *rag.Retriever
	generator rag.Generator
	turns     rag.TurnStore
	cfg       QAConfig
}

func NewQAService(
	gate Authorizer,
	docs DocumentStore,
	chains *rag.ChainCache,
	retriever *rag.Retriever,
	generator rag.Generator,
	turns rag.TurnStore,
	cfg QAConfig,
) *QAService {
	return &QAService{
		gate:      gate,
		docs:      docs,
		chains:    chains,
		retriever: retriever,
		generator: generator,
		turns:     turns,
		cfg:       cfg,
	}
}

type AskInput struct {
	UserID   uint
	File     string
	RoomID   string
	Question string
}

type Source struct {
	File       string  `json:"file"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
	Content    string  `json:"content"`
}

type AskResult struct {
	Answer             string   `json:"answer"`
	StandaloneQuestion string   `json:"standalone_question"`
	Sources            []Source `json:"sources"`
}

func (s *QAService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	file := strings.TrimSpace(input.File)
	roomID := strings.TrimSpace(input.RoomID)
	question := strings.TrimSpace(input.Question)
	if input.UserID == 0 || question == "" || (file == "") == (roomID == "") {
		return nil, ErrInvalidInput
	}
	userID := formatUserID(input.UserID)

	ctx, cancel := withTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	var (
		chain   *rag.SessionChain
		release func()
	)
	if file != "" {
		if !s.gate.Authorize(ctx, file, userID) {
			return nil, ErrUnauthorized
		}
		doc, err := s.readyDocument(ctx, file)
		if err != nil {
			return nil, err
		}
		key := "file:" + file + "#" + userID
		chain, release = s.chains.Acquire(key, func() *rag.SessionChain {
			return s.newChain(key, s.fileScope(doc))
		})
	} else {
		if !s.gate.AuthorizeRoom(ctx, roomID, userID) {
			return nil, ErrUnauthorized
		}
		key := "room:" + roomID
		chain, release = s.chains.Acquire(key, func() *rag.SessionChain {
			return s.newChain(key, s.roomScope(roomID))
		})
	}

	defer release()

	answer, err := chain.Ask(ctx, question)
	if err != nil {
		return nil, err
	}
	return &AskResult{
		Answer:             answer.Text,
		StandaloneQuestion: answer.StandaloneQuestion,
		Sources:            toSources(answer.Sources),
	}, nil
}

// History returns the remembered turns of a room the user may query.
func (s *QAService) History(ctx context.Context, roomID string, userID uint) ([]rag.Turn, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || userID == 0 {
		return nil, ErrInvalidInput
	}
	if !s.gate.AuthorizeRoom(ctx, roomID, formatUserID(userID)) {
		return nil, ErrUnauthorized
	}
	chain, ok := s.chains.Peek("room:" + roomID)
	if !ok {
		if s.turns == nil {
			return nil, nil
		}
		return s.turns.Load(ctx, "room:"+roomID)
	}
	return chain.History(ctx)
}

func (s *QAService) newChain(key string, scope rag.ScopeFunc) *rag.SessionChain {
	return rag.NewSessionChain(key, s.retriever.Bind(scope), s.generator, rag.SessionOptions{
		Turns:           s.turns,
		MaxTurns:        s.cfg.MaxMemoryTurns,
		GenerateTimeout: s.cfg.GenerateTimeout,
	})
}

func (s *QAService) readyDocument(ctx context.Context, file string) (*model.Document, error) {
	mctx, cancel := withTimeout(ctx, s.cfg.MetadataTimeout)
	defer cancel()
	doc, err := s.docs.GetByFile(mctx, file)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if doc.Status != model.DocumentStatusReady {
		return nil, fmt.Errorf("%w: %s is %s", ErrIndexNotReady, file, doc.Status)
	}
	return doc, nil
}

func (s *QAService) fileScope(doc *model.Document) rag.ScopeFunc {
	target := rag.Target{Index: doc.IndexID}
	if s.cfg.IndexGranularity == config.IndexGranularityShared {
		target.Where = map[string]string{vectorstore.MetaFile: doc.File}
	}
	return func(context.Context) ([]rag.Target, error) {
		return []rag.Target{target}, nil
	}
}

// roomScope resolves the room's ready documents on every turn, so files
// indexed after the chain was created are searched too.
func (s *QAService) roomScope(roomID string) rag.ScopeFunc {
	return func(ctx context.Context) ([]rag.Target, error) {
		mctx, cancel := withTimeout(ctx, s.cfg.MetadataTimeout)
		defer cancel()
		docs, err := s.docs.ListByRoom(mctx, roomID)
		if err != nil {
			return nil, err
		}

		var indexes []string
		for _, d := range docs {
			if d.Status == model.DocumentStatusReady && !slices.Contains(indexes, d.IndexID) {
				indexes = append(indexes, d.IndexID)
			}
		}
		if len(indexes) == 0 {
			return nil, fmt.Errorf("%w: room %s has no ready documents", ErrIndexNotReady, roomID)
		}

		if s.cfg.IndexGranularity == config.IndexGranularityShared {
			return []rag.Target{{
				Index: s.cfg.SharedIndex,
				Where: map[string]string{vectorstore.RoomKey(roomID): "true"},
			}}, nil
		}
		targets := make([]rag.Target, len(indexes))
		for i, idx := range indexes {
			targets[i] = rag.Target{Index: idx}
		}
		return targets, nil
	}
}

func toSources(docs []schema.Document) []Source {
	out := make([]Source, 0, len(docs))
	for _, d := range docs {
		src := Source{Content: d.PageContent, Score: d.Score}
		src.File, _ = d.Metadata[vectorstore.MetaFile].(string)
		src.Filename, _ = d.Metadata[vectorstore.MetaFilename].(string)
		src.ChunkIndex, _ = d.Metadata[vectorstore.MetaChunkIndex].(int)
		out = append(out, src)
	}
	return out
}

func formatUserID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
