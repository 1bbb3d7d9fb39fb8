package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/rel8-backend/internal/models"
)

// ConversationStore keeps the enrollment dialogue state of senders that are
// not users yet. Entries expire after the store's TTL.
type ConversationStore interface {
	// Get returns the stored state, or the zero Conversation when there is
	// none (or it expired).
	Get(ctx context.Context, phone string) (models.Conversation, error)
	Save(ctx context.Context, phone string, state models.Conversation) error
	Clear(ctx context.Context, phone string) error
}

const conversationKeyPrefix = "rel8:conversation:"

// RedisConversationStore shares conversation state between instances.
type RedisConversationStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisConversationStore(client *redis.Client, ttl time.Duration) *RedisConversationStore {
	return &RedisConversationStore{client: client, ttl: ttl}
}

func (r *RedisConversationStore) Get(ctx context.Context, phone string) (models.Conversation, error) {
	var state models.Conversation
	raw, err := r.client.Get(ctx, conversationKeyPrefix+phone).Bytes()
	if errors.Is(err, redis.Nil) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("get conversation: %w", err)
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	return state, nil
}

func (r *RedisConversationStore) Save(ctx context.Context, phone string, state models.Conversation) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := r.client.Set(ctx, conversationKeyPrefix+phone, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (r *RedisConversationStore) Clear(ctx context.Context, phone string) error {
	if err := r.client.Del(ctx, conversationKeyPrefix+phone).Err(); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

type conversationEntry struct {
	state     models.Conversation
	expiresAt time.Time
}

// MemoryConversationStore keeps conversation state in process memory. Only
// suitable when a single instance serves the webhook.
type MemoryConversationStore struct {
	mu      sync.RWMutex
	entries map[string]conversationEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewMemoryConversationStore(ttl time.Duration, logger *zap.Logger) *MemoryConversationStore {
	return &MemoryConversationStore{
		entries: make(map[string]conversationEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

func (m *MemoryConversationStore) Get(_ context.Context, phone string) (models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[phone]
	if !ok || m.now().After(entry.expiresAt) {
		return models.Conversation{}, nil
	}
	return entry.state, nil
}

func (m *MemoryConversationStore) Save(_ context.Context, phone string, state models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[phone] = conversationEntry{state: state, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryConversationStore) Clear(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, phone)
	return nil
}

// StartCleanup removes expired entries every interval until ctx is done.
func (m *MemoryConversationStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.removeExpired(); n > 0 {
					m.logger.Debug("cleaned up expired conversations", zap.Int("count", n))
				}
			}
		}
	}()
}

func (m *MemoryConversationStore) removeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for phone, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, phone)
			removed++
		}
	}
	return removed
}

// Len returns the number of live conversations, for health output.
func (m *MemoryConversationStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	n := 0
	for _, entry := range m.entries {
		if !now.After(entry.expiresAt) {
			n++
		}
	}
	return n
}
