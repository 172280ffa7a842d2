package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/sync/semaphore"
)

const (
	memoryInputKey  = "question"
	memoryOutputKey = "answer"

	defaultMaxTurns = 20
)

// Generator is the text-generation backend.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Turn is one completed question/answer exchange.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at"`
}

// TurnStore persists turns so a chain rebuilt after eviction keeps its
// conversation.
type TurnStore interface {
	Load(ctx context.Context, key string) ([]Turn, error)
	Append(ctx context.Context, key string, turn Turn) error
}

type Answer struct {
	Text               string
	StandaloneQuestion string
	Sources            []schema.Document
}

type SessionOptions struct {
	Turns           TurnStore
	MaxTurns        int
	GenerateTimeout time.Duration
	// Now stamps persisted turns; defaults to time.Now.
	Now func() time.Time
}

// SessionChain is the conversational state of one conversation key: a
// retriever bound to the conversation's documents, the generation backend
// and the running memory. Turns are serialized: one question in flight at a
// time, applied to memory in submission order.
type SessionChain struct {
	key       string
	retriever schema.Retriever
	generator Generator
	memory    *memory.ConversationBuffer
	opts      SessionOptions

	slot *semaphore.Weighted

	// guarded by slot
	loaded bool
	turns  int
}

func NewSessionChain(key string, retriever schema.Retriever, generator Generator, opts SessionOptions) *SessionChain {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionChain{
		key:       key,
		retriever: retriever,
		generator: generator,
		memory: memory.NewConversationBuffer(
			memory.WithInputKey(memoryInputKey),
			memory.WithOutputKey(memoryOutputKey),
		),
		opts: opts,
		slot: semaphore.NewWeighted(1),
	}
}

func (c *SessionChain) Key() string { return c.key }

// Ask runs one conversational turn. Waiting for the conversation's slot
// honours ctx, so a slow turn cannot block later callers past their own
// deadline. Memory is only updated when the whole turn succeeds.
func (c *SessionChain) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if err := c.slot.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for conversation %s: %w", c.key, err)
	}
	defer c.slot.Release(1)

	c.rehydrate(ctx)

	history, err := c.memory.ChatHistory.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("read conversation memory: %w", err)
	}
	transcript := renderHistory(history)

	standalone := question
	if transcript != "" {
		prompt, err := condensePrompt.Format(map[string]any{
			"history":  transcript,
			"question": question,
		})
		if err != nil {
			return nil, fmt.Errorf("format condense prompt: %w", err)
		}
		rewritten, err := c.generate(ctx, prompt)
		if err != nil {
			return nil, unavailable("condense question", err)
		}
		if rewritten = strings.TrimSpace(rewritten); rewritten != "" {
			standalone = rewritten
		}
	}

	docs, err := c.retriever.GetRelevantDocuments(ctx, standalone)
	if err != nil {
		return nil, err
	}

	prompt, err := answerPrompt.Format(map[string]any{
		"context":  renderContext(docs),
		"history":  transcript,
		"question": question,
	})
	if err != nil {
		return nil, fmt.Errorf("format answer prompt: %w", err)
	}
	text, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, unavailable("generate answer", err)
	}
	text = strings.TrimSpace(text)

	if err := c.remember(ctx, question, text); err != nil {
		return nil, fmt.Errorf("update conversation memory: %w", err)
	}
	c.persist(ctx, Turn{Question: question, Answer: text, At: c.opts.Now()})

	return &Answer{Text: text, StandaloneQuestion: standalone, Sources: docs}, nil
}

// History returns the turns currently held in memory, oldest first.
func (c *SessionChain) History(ctx context.Context) ([]Turn, error) {
	if err := c.slot.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.slot.Release(1)

	msgs, err := c.memory.ChatHistory.Messages(ctx)
	if err != nil {
		return nil, err
	}
	var turns []Turn
	for _, m := range msgs {
		switch m.GetType() {
		case llms.ChatMessageTypeHuman:
			turns = append(turns, Turn{Question: m.GetContent()})
		case llms.ChatMessageTypeAI:
			if n := len(turns); n > 0 {
				turns[n-1].Answer = m.GetContent()
			}
		}
	}
	return turns, nil
}

func (c *SessionChain) generate(ctx context.Context, prompt string) (string, error) {
	genCtx, cancel := withTimeout(ctx, c.opts.GenerateTimeout)
	defer cancel()
	return c.generator.Generate(genCtx, prompt)
}

func (c *SessionChain) rehydrate(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true
	if c.opts.Turns == nil {
		return
	}
	turns, err := c.opts.Turns.Load(ctx, c.key)
	if err != nil {
		log.Warn().Err(err).Str("conversation", c.key).Msg("load conversation turns failed, starting empty")
		return
	}
	if len(turns) > c.opts.MaxTurns {
		turns = turns[len(turns)-c.opts.MaxTurns:]
	}
	for _, t := range turns {
		if err := c.memory.SaveContext(ctx,
			map[string]any{memoryInputKey: t.Question},
			map[string]any{memoryOutputKey: t.Answer},
		); err != nil {
			log.Warn().Err(err).Str("conversation", c.key).Msg("replay conversation turn failed")
			return
		}
		c.turns++
	}
	if len(turns) > 0 {
		log.Debug().Str("conversation", c.key).Int("turns", len(turns)).Msg("conversation memory restored")
	}
}

func (c *SessionChain) remember(ctx context.Context, question, answer string) error {
	if err := c.memory.SaveContext(ctx,
		map[string]any{memoryInputKey: question},
		map[string]any{memoryOutputKey: answer},
	); err != nil {
		return err
	}
	c.turns++
	if c.turns <= c.opts.MaxTurns {
		return nil
	}
	return c.trim(ctx)
}

// trim keeps the newest MaxTurns turns.
func (c *SessionChain) trim(ctx context.Context) error {
	msgs, err := c.memory.ChatHistory.Messages(ctx)
	if err != nil {
		return err
	}
	keep := 2 * c.opts.MaxTurns
	if len(msgs) <= keep {
		return nil
	}
	if err := c.memory.ChatHistory.SetMessages(ctx, msgs[len(msgs)-keep:]); err != nil {
		return err
	}
	c.turns = c.opts.MaxTurns
	return nil
}

func (c *SessionChain) persist(ctx context.Context, turn Turn) {
	if c.opts.Turns == nil {
		return
	}
	if err := c.opts.Turns.Append(context.WithoutCancel(ctx), c.key, turn); err != nil {
		log.Warn().Err(err).Str("conversation", c.key).Msg("persist conversation turn failed")
	}
}
