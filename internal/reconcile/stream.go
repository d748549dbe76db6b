package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/extract"
	"github.com/asaddon/EinthusanTV/internal/infra/cache"
)

const StreamName = "Einthusan ⚡️"

// Stream 返回可播放源；找不到、上游失败或不属于该分区时返回 (nil, nil)。
// 只有非法输入与请求本身取消或超时才返回错误。
func (e *Engine) Stream(ctx context.Context, id string, p domain.Partition) (*domain.Stream, error) {
	id = strings.TrimSpace(id)
	if _, ok := domain.ParsePartition(string(p)); !ok {
		return nil, fmt.Errorf("%w：未知分区 %q", ErrInvalidInput, p)
	}
	key := id + "_" + string(p)

	var s domain.Stream
	if ok, _ := e.streams.Get(key, &s); ok {
		e.log.WithFields(logrus.Fields{"id": id, "partition": p}).Debug("取流缓存命中")
		return &s, nil
	}

	native, ok, err := e.resolveID(ctx, id, p, true)
	if err != nil || !ok {
		return nil, err
	}
	log := e.log.WithFields(logrus.Fields{"id": id, "native_id": native, "partition": p})

	body, err := e.fetch.Fetch(ctx, e.site.WatchURL(native))
	if err != nil {
		log.WithError(err).Warn("播放页抓取失败")
		return nil, e.upstreamErr(ctx)
	}
	w, err := extract.Watch(body)
	if err != nil {
		log.WithError(err).Warn("播放页解析失败")
		return nil, e.upstreamErr(ctx)
	}
	if !w.InPartition(p) {
		log.Debug("原生 ID 不属于该分区")
		return nil, nil
	}

	s = domain.Stream{
		URL:   w.MP4Link,
		Name:  StreamName,
		Title: fmt.Sprintf("🍿 %s (%s)\n🌐 %s", w.Title, w.Year, p.Label()),
	}
	if err := e.streams.Set(key, s, cache.StreamTTL); err != nil {
		log.WithError(err).Warn("写入缓存失败")
	}
	log.WithField("title", w.Title).Info("取流成功")
	return &s, nil
}
