package pipeline

import "sync"

// KeyedMutex serializes work per key. Entries are dropped once unused.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (km *KeyedMutex) Lock(key string) (unlock func()) {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[string]*refLock)
	}
	l, ok := km.locks[key]
	if !ok {
		l = &refLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
