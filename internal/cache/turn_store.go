package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"docqa/internal/rag"
)

// TurnStore keeps the newest conversation turns of each conversation in a
// Redis list.
type TurnStore struct {
	client   *redisv9.Client
	ttl      time.Duration
	maxTurns int
}

func NewTurnStore(client *redisv9.Client, ttl time.Duration, maxTurns int) *TurnStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &TurnStore{
		client:   client,
		ttl:      ttl,
		maxTurns: maxTurns,
	}
}

func (s *TurnStore) Load(ctx context.Context, conversation string) ([]rag.Turn, error) {
	raw, err := s.client.LRange(ctx, s.turnsKey(conversation), int64(-s.maxTurns), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load turns failed: %w", err)
	}

	turns := make([]rag.Turn, 0, len(raw))
	for _, item := range raw {
		var turn rag.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("unmarshal cached turn failed: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *TurnStore) Append(ctx context.Context, conversation string, turn rag.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn failed: %w", err)
	}

	key := s.turnsKey(conversation)
	_, err = s.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append turn failed: %w", err)
	}
	return nil
}

func (s *TurnStore) Delete(ctx context.Context, conversation string) error {
	if err := s.client.Del(ctx, s.turnsKey(conversation)).Err(); err != nil {
		return fmt.Errorf("redis delete turns failed: %w", err)
	}
	return nil
}

func (s *TurnStore) turnsKey(conversation string) string {
	return "rag:turns:" + conversation
}
