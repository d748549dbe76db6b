// Package enrich 用 RPDB（ratingposterdb）海报替换已对上外部 ID 的条目海报。
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/provider"
)

const DefaultBaseURL = "https://api.ratingposterdb.com"

var ErrInvalidKey = errors.New("rpdb key 无效")

type RPDB struct {
	BaseURL string
	HTTP    provider.Fetcher
}

func (r RPDB) base() string {
	b := strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if b == "" {
		return DefaultBaseURL
	}
	return b
}

// ValidateKey 调用 /<key>/isValid；key 为空或服务端返回 valid=false 时返回 ErrInvalidKey。
func (r RPDB) ValidateKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}
	if r.HTTP == nil {
		return errors.New("http fetcher 不能为空")
	}
	b, err := r.HTTP.Fetch(ctx, r.base()+"/"+url.PathEscape(key)+"/isValid")
	if err != nil {
		return err
	}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	if !out.Valid {
		return ErrInvalidKey
	}
	return nil
}

// PosterURL 返回外部 ID 对应的 RPDB 海报地址。
func (r RPDB) PosterURL(key string, id domain.CanonicalID) string {
	return r.base() + "/" + url.PathEscape(key) + "/imdb/poster-default/" + string(id) + ".jpg"
}

// Apply 返回替换海报后的副本；只处理外部 ID 条目，原生回退条目保持不变。
func (r RPDB) Apply(items []domain.CatalogItem, key string) []domain.CatalogItem {
	key = strings.TrimSpace(key)
	out := make([]domain.CatalogItem, len(items))
	copy(out, items)
	if key == "" {
		return out
	}
	for i := range out {
		id, ok := domain.ParseCanonicalID(out[i].ID)
		if !ok {
			continue
		}
		out[i].Poster = r.PosterURL(key, id)
	}
	return out
}
