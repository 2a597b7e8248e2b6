package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pribylovaa/portal-auth/internal/models"
)

const defaultCleanupInterval = time.Minute

type memoryEntry struct {
	bucket    models.Bucket
	expiresAt time.Time
}

// MemoryStore хранит бакеты в памяти процесса. UpdateFunc выполняется
// под мьютексом, поэтому атомарность точная. Фоновая горутина удаляет
// бакеты с истёкшим окном; Close её останавливает.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]memoryEntry

	now      func() time.Time
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// MemoryOption настраивает MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock подменяет часы, по которым janitor определяет истёкшие бакеты.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithCleanupInterval задаёт период очистки. Значение <= 0 отключает janitor.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.interval = d }
}

// NewMemoryStore создаёт хранилище и запускает janitor.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		buckets:  make(map[string]memoryEntry),
		now:      time.Now,
		interval: defaultCleanupInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.interval > 0 {
		go s.cleanupLoop()
	} else {
		close(s.done)
	}

	return s
}

// Update реализует Store.
func (s *MemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) (models.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return models.Bucket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.buckets[key]
	next := fn(e.bucket, found)

	if !found && isZeroBucket(next) {
		return next, nil
	}

	s.buckets[key] = memoryEntry{bucket: next, expiresAt: next.WindowStart.Add(ttl)}

	return next, nil
}

// Len возвращает число хранимых бакетов.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.buckets)
}

// Cleanup удаляет бакеты, окно которых истекло к текущему моменту.
func (s *MemoryStore) Cleanup() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.buckets {
		if !now.Before(e.expiresAt) {
			delete(s.buckets, k)
			removed++
		}
	}

	return removed
}

// Close останавливает janitor. Повторный вызов безопасен.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stop:
			return
		}
	}
}
