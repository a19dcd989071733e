package listing

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Registry はクライアントごとの一覧を保持する。
// 一定時間アクセスのない一覧、および容量を超えた古い一覧は破棄される。
type Registry struct {
	mu    sync.Mutex
	lists *expirable.LRU[string, *List]
}

// NewRegistry はRegistryを生成する。
func NewRegistry(size int, ttl time.Duration) *Registry {
	return &Registry{
		lists: expirable.NewLRU[string, *List](size, nil, ttl),
	}
}

// Get は保持している一覧を返す。
func (r *Registry) Get(key string) (*List, bool) {
	return r.lists.Get(key)
}

// GetOrCreate は一覧を返す。存在しない場合はcreateで生成して登録する。
// 生成した場合はtrueを返す。
func (r *Registry) GetOrCreate(key string, create func() *List) (*List, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.lists.Get(key); ok {
		return l, false
	}
	l := create()
	r.lists.Add(key, l)
	return l, true
}

// Len は保持している一覧の数を返す。
func (r *Registry) Len() int {
	return r.lists.Len()
}
