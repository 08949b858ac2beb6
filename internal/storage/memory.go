package storage

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/line-relay/internal/models"
)

// MemoryStorage keeps messages for the lifetime of the process only.
type MemoryStorage struct {
	mu       sync.RWMutex
	messages []models.StoredMessage
	now      func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages: make([]models.StoredMessage, 0),
		now:      time.Now,
	}
}

func (s *MemoryStorage) Append(ctx context.Context, userID, message string) (*models.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Nothing is ever removed, so the next id is the collection length + 1.
	msg := models.StoredMessage{
		ID:        int64(len(s.messages)) + 1,
		UserID:    userID,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *MemoryStorage) List(ctx context.Context) ([]models.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.StoredMessage, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
