package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func storageContract(t *testing.T, open func(t *testing.T) Storage) {
	t.Run("append assigns increasing ids", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		first, err := s.Append(ctx, "U1", "hello")
		require.NoError(t, err)
		second, err := s.Append(ctx, "U1", "hello")
		require.NoError(t, err)

		assert.Equal(t, int64(1), first.ID)
		assert.Equal(t, int64(2), second.ID)
		assert.Equal(t, "U1", second.UserID)
		assert.Equal(t, "hello", second.Message)
		assert.False(t, second.CreatedAt.IsZero())
	})

	t.Run("list returns insertion order", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i, user := range []string{"U1", "U2", "U1"} {
			_, err := s.Append(ctx, user, fmt.Sprintf("m%d", i))
			require.NoError(t, err)
		}

		messages, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, messages, 3)
		for i, msg := range messages {
			assert.Equal(t, int64(i+1), msg.ID)
			assert.Equal(t, fmt.Sprintf("m%d", i), msg.Message)
		}
	})

	t.Run("empty list is not nil", func(t *testing.T) {
		messages, err := open(t).List(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, messages)
		assert.Empty(t, messages)
	})

	t.Run("concurrent appends get unique gapless ids", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		const writers, perWriter = 8, 25

		var wg sync.WaitGroup
		ids := make(chan int64, writers*perWriter)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					msg, err := s.Append(ctx, fmt.Sprintf("U%d", w), fmt.Sprintf("%d-%d", w, i))
					if !assert.NoError(t, err) {
						return
					}
					ids <- msg.ID
				}
			}(w)
		}
		wg.Wait()
		close(ids)

		seen := make(map[int64]bool)
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		for id := int64(1); id <= writers*perWriter; id++ {
			assert.True(t, seen[id], "missing id %d", id)
		}

		messages, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, messages, writers*perWriter)
		for i := 1; i < len(messages); i++ {
			assert.Less(t, messages[i-1].ID, messages[i].ID)
		}
	})
}

func TestMemoryStorage(t *testing.T) {
	storageContract(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})
}

func TestMemoryStorageHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStorage().Append(ctx, "U1", "hello")

	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

func TestSQLiteStorage(t *testing.T) {
	storageContract(t, func(t *testing.T) Storage {
		s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "messages.db"), zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStorageSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.db")
	ctx := context.Background()

	s, err := NewSQLiteStorage(path, zap.NewNop())
	require.NoError(t, err)
	_, err = s.Append(ctx, "U1", "before restart")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStorage(path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	msg, err := s.Append(ctx, "U2", "after restart")
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.ID)

	messages, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "before restart", messages[0].Message)
}

func TestSQLiteStorageReportsUnavailableAfterClose(t *testing.T) {
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "messages.db"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Append(context.Background(), "U1", "hello")

	var unavailableErr *UnavailableError
	require.True(t, errors.As(err, &unavailableErr))
	assert.Equal(t, "insert message", unavailableErr.Op)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func newRedisStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStorage(context.Background(), RedisConfig{Addr: mr.Addr(), KeyPrefix: "test"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStorage(t *testing.T) {
	storageContract(t, func(t *testing.T) Storage {
		s, _ := newRedisStorage(t)
		return s
	})
}

func TestRedisStorageKeys(t *testing.T) {
	s, mr := newRedisStorage(t)

	_, err := s.Append(context.Background(), "U1", "hello")
	require.NoError(t, err)

	seq, err := mr.Get("test:messages:seq")
	require.NoError(t, err)
	assert.Equal(t, "1", seq)
	members, err := mr.ZMembers("test:messages")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Contains(t, members[0], `"user_id":"U1"`)
}

func TestRedisStorageSkipsUndecodableRecords(t *testing.T) {
	s, mr := newRedisStorage(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "U1", "first")
	require.NoError(t, err)
	_, err = mr.ZAdd("test:messages", 1.5, "not json")
	require.NoError(t, err)
	_, err = s.Append(ctx, "U2", "second")
	require.NoError(t, err)

	messages, err := s.List(ctx)

	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Message)
	assert.Equal(t, int64(2), messages[1].ID)
	assert.Equal(t, "U2", messages[1].UserID)
}

func TestRedisStorageReportsUnavailable(t *testing.T) {
	s, mr := newRedisStorage(t)
	mr.Close()

	_, err := s.Append(context.Background(), "U1", "hello")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = s.List(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestNewRedisStorageFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStorage(context.Background(), RedisConfig{Addr: addr}, zap.NewNop())

	assert.Error(t, err)
}
