package delivery

import (
	"context"
	"sync"
	"time"

	"firefeed/internal/news"
)

// KeyedMutex hands out one mutex per key. Entries are refcounted so Sweep
// never drops an entry someone holds or waits on.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
	now     func() time.Time
}

type keyedEntry struct {
	sem      chan struct{}
	refs     int
	lastUsed time.Time
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry), now: time.Now}
}

// Lock blocks until key is free or ctx ends. The returned func releases it.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.release(e)
		})
	}, nil
}

func (k *KeyedMutex) release(e *keyedEntry) {
	k.mu.Lock()
	e.refs--
	e.lastUsed = k.now()
	k.mu.Unlock()
}

// Sweep removes entries idle for at least idle. Held or awaited entries stay.
// It returns the number of entries removed.
func (k *KeyedMutex) Sweep(idle time.Duration) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	cutoff := k.now().Add(-idle)
	n := 0
	for key, e := range k.entries {
		if e.refs == 0 && !e.lastUsed.After(cutoff) {
			delete(k.entries, key)
			n++
		}
	}
	return n
}

// Len is the number of tracked keys.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Locks holds the two lock families. A holder of one family never acquires the other.
type Locks struct {
	Sources    *KeyedMutex
	Recipients *KeyedMutex
}

func NewLocks() *Locks {
	return &Locks{Sources: NewKeyedMutex(), Recipients: NewKeyedMutex()}
}

// RecipientLockKey is "{item}_{translation|original}_{user}".
func RecipientLockKey(k news.Key) string {
	return k.ItemID + "_" + k.TranslationTag() + "_" + formatInt(k.RecipientID)
}
