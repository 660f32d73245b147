package locking

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker. A key's entry lives only while someone holds
// or waits for it.
type Local struct {
	mu   sync.Mutex
	keys map[string]*localKey
}

type localKey struct {
	sem  chan struct{}
	refs int
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{keys: make(map[string]*localKey)}
}

func (l *Local) Acquire(ctx context.Context, key string, wait time.Duration) (Release, error) {
	k := l.ref(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case k.sem <- struct{}{}:
	case <-timer.C:
		l.unref(key, k)
		return nil, ErrNotAcquired
	case <-ctx.Done():
		l.unref(key, k)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-k.sem
			l.unref(key, k)
		})
		return nil
	}, nil
}

// Held reports how many keys currently have holders or waiters.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *Local) ref(key string) *localKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[key]
	if !ok {
		k = &localKey{sem: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	return k
}

func (l *Local) unref(key string, k *localKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}
