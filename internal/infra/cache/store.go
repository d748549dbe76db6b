package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	DefaultTTL        = 30 * time.Minute
	CatalogTTL        = 12 * time.Hour
	StreamTTL         = time.Hour
	DefaultMaxEntries = 10000
	DefaultJanitor    = time.Hour
)

// Codec 标记 payload 的编码方式；读取时按条目自身的标记解码。
type Codec string

const (
	CodecRaw  Codec = "raw"
	CodecZstd Codec = "zstd"
)

type envelope struct {
	Codec     Codec
	Payload   []byte
	ExpiresAt time.Time
}

type Options struct {
	MaxEntries int
	DefaultTTL time.Duration
	// Codec 是写入时使用的编码；空值使用 zstd。
	Codec Codec
	// Janitor 是过期清理周期；<=0 使用默认值。
	Janitor time.Duration
	// Now 仅用于测试注入时钟。
	Now func() time.Time
}

type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
	Entries   int   `json:"entries"`
}

var ErrUnknownCodec = errors.New("cache: unknown codec")

// Store 是进程内的有界 TTL 缓存。
//
// 约束：
// - 条目数超过 MaxEntries 时淘汰最久未使用的条目
// - 读取时检查过期；过期条目视为未命中并删除
// - 值以 JSON 编码后存储（可选 zstd 压缩），读取方拿到的是独立副本
type Store struct {
	lru     *lru.Cache[string, envelope]
	ttl     time.Duration
	codec   Codec
	janitor time.Duration
	now     func() time.Time

	enc *zstd.Encoder
	dec *zstd.Decoder

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

func New(opts Options) (*Store, error) {
	size := opts.MaxEntries
	if size <= 0 {
		size = DefaultMaxEntries
	}
	c, err := lru.New[string, envelope](size)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	s := &Store{
		lru:     c,
		ttl:     opts.DefaultTTL,
		codec:   opts.Codec,
		janitor: opts.Janitor,
		now:     opts.Now,
		enc:     enc,
		dec:     dec,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.codec == "" {
		s.codec = CodecZstd
	}
	if s.codec != CodecRaw && s.codec != CodecZstd {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, s.codec)
	}
	if s.janitor <= 0 {
		s.janitor = DefaultJanitor
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Set 写入 key；ttl<=0 使用默认 TTL。
func (s *Store) Set(key string, v any, ttl time.Duration) error {
	if key == "" {
		return errors.New("cache: key 不能为空")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	env := envelope{Codec: s.codec, ExpiresAt: s.now().Add(ttl)}
	switch s.codec {
	case CodecZstd:
		env.Payload = s.enc.EncodeAll(b, make([]byte, 0, len(b)/2))
	default:
		env.Payload = b
	}
	if s.lru.Add(key, env) {
		s.evictions.Add(1)
	}
	s.sets.Add(1)
	return nil
}

// Get 读取 key 并解码到 v。未命中/过期返回 (false, nil)。
// 解码失败的条目会被删除，并返回错误。
func (s *Store) Get(key string, v any) (bool, error) {
	env, ok := s.lru.Get(key)
	if !ok {
		s.misses.Add(1)
		return false, nil
	}
	if !s.now().Before(env.ExpiresAt) {
		s.lru.Remove(key)
		s.expired.Add(1)
		s.misses.Add(1)
		return false, nil
	}

	b, err := s.decode(env)
	if err == nil {
		err = json.Unmarshal(b, v)
	}
	if err != nil {
		s.lru.Remove(key)
		s.misses.Add(1)
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	s.hits.Add(1)
	return true, nil
}

func (s *Store) decode(env envelope) ([]byte, error) {
	switch env.Codec {
	case CodecRaw:
		return env.Payload, nil
	case CodecZstd:
		return s.dec.DecodeAll(env.Payload, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, env.Codec)
	}
}

func (s *Store) Delete(key string) {
	s.lru.Remove(key)
}

func (s *Store) Len() int { return s.lru.Len() }

// PurgeExpired 删除所有已过期条目，返回删除数量。
func (s *Store) PurgeExpired() int {
	now := s.now()
	n := 0
	for _, k := range s.lru.Keys() {
		env, ok := s.lru.Peek(k)
		if ok && !now.Before(env.ExpiresAt) {
			s.lru.Remove(k)
			n++
		}
	}
	s.expired.Add(int64(n))
	return n
}

// Run 周期性清理过期条目，直到 ctx 结束。
func (s *Store) Run(ctx context.Context) {
	t := time.NewTicker(s.janitor)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.PurgeExpired()
		}
	}
}

func (s *Store) Stats() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Sets:      s.sets.Load(),
		Evictions: s.evictions.Load(),
		Expired:   s.expired.Load(),
		Entries:   s.lru.Len(),
	}
}

// Scope 返回只能访问 ns 命名空间的视图。
func (s *Store) Scope(ns Namespace) Scoped {
	return Scoped{store: s, ns: ns}
}
