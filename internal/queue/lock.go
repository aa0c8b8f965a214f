package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-patient-flow/internal/redis"
)

var _ redisclient.Locker = (*LocalLocker)(nil)

type queueMutex struct {
	sync.Mutex
	refs int
}

// LocalLocker serializes mutations per queue inside one process. A queue's
// mutex is dropped once no caller holds or waits on it.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*queueMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[uuid.UUID]*queueMutex)}
}

func (l *LocalLocker) WithQueueLock(ctx context.Context, queueID uuid.UUID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := l.acquire(queueID)
	defer l.release(queueID, m)

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

func (l *LocalLocker) acquire(queueID uuid.UUID) *queueMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[queueID]
	if !ok {
		m = &queueMutex{}
		l.locks[queueID] = m
	}
	m.refs++
	return m
}

func (l *LocalLocker) release(queueID uuid.UUID, m *queueMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(l.locks, queueID)
	}
}

// held reports how many queues currently have a mutex allocated.
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
