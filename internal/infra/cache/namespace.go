package cache

import (
	"strings"
	"time"
)

// Namespace 是缓存 key 的前缀；不同子系统各自使用一个命名空间。
type Namespace string

const (
	NSImdb   Namespace = "imdb_"
	NSTitle  Namespace = "title_"
	NSNative Namespace = "einthusan_"
	NSStream Namespace = "stream_"
	NSRecent Namespace = "recent_movies_"
	NSMeta   Namespace = "meta_"
)

// Scoped 是单一命名空间的缓存视图：Get/Set 自动加前缀。
type Scoped struct {
	store *Store
	ns    Namespace
}

func (s Scoped) Namespace() Namespace { return s.ns }

func (s Scoped) Key(parts ...string) string {
	return string(s.ns) + strings.Join(parts, "_")
}

func (s Scoped) Get(key string, v any) (bool, error) {
	return s.store.Get(string(s.ns)+key, v)
}

func (s Scoped) Set(key string, v any, ttl time.Duration) error {
	return s.store.Set(string(s.ns)+key, v, ttl)
}

func (s Scoped) Delete(key string) {
	s.store.Delete(string(s.ns) + key)
}
