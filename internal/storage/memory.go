package storage

import (
	"context"
	"sync"
	"time"
)

// memoryEntry はメモリTierに保持する値と有効期限。
type memoryEntry struct {
	value     string
	expiresAt time.Time // ゼロ値は無期限
}

// MemoryTier はプロセス内メモリに保持するTier。
// 一時層のデフォルト実装であり、テスト用の差し替えにも使用する。
type MemoryTier struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	scopes map[string]map[string]memoryEntry
}

// NewMemoryTier はMemoryTierを生成する。
// ttlが0の場合、値は期限切れにならない。
func NewMemoryTier(ttl time.Duration) *MemoryTier {
	return &MemoryTier{
		ttl:    ttl,
		now:    time.Now,
		scopes: make(map[string]map[string]memoryEntry),
	}
}

// Scope は指定スコープに閉じたStoreを返す。
func (t *MemoryTier) Scope(name string) Store {
	return &memoryStore{tier: t, scope: name}
}

// Sweep は期限切れの値を削除し、削除件数を返す。
func (t *MemoryTier) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for scope, entries := range t.scopes {
		for key, e := range entries {
			if e.expired(now) {
				delete(entries, key)
				removed++
			}
		}
		if len(entries) == 0 {
			delete(t.scopes, scope)
		}
	}
	return removed
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type memoryStore struct {
	tier  *MemoryTier
	scope string
}

func (s *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	t := s.tier
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.scopes[s.scope][key]
	if !ok {
		return "", false, nil
	}
	if e.expired(t.now()) {
		delete(t.scopes[s.scope], key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string) error {
	t := s.tier
	t.mu.Lock()
	defer t.mu.Unlock()

	s.setLocked(key, value)
	return nil
}

// Update はTierのロックを保持したまま読み取りと書き込みを行う。
func (s *memoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	t := s.tier
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := "", false
	if e, found := t.scopes[s.scope][key]; found && !e.expired(t.now()) {
		current, ok = e.value, true
	}
	next, err := fn(current, ok)
	if err != nil {
		return err
	}
	s.setLocked(key, next)
	return nil
}

func (s *memoryStore) setLocked(key, value string) {
	t := s.tier
	entries, ok := t.scopes[s.scope]
	if !ok {
		entries = make(map[string]memoryEntry)
		t.scopes[s.scope] = entries
	}

	e := memoryEntry{value: value}
	if t.ttl > 0 {
		e.expiresAt = t.now().Add(t.ttl)
	}
	entries[key] = e
}

func (s *memoryStore) Remove(_ context.Context, key string) error {
	t := s.tier
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.scopes[s.scope], key)
	return nil
}

// compile-time interface check
var (
	_ Tier    = (*MemoryTier)(nil)
	_ Updater = (*memoryStore)(nil)
)
