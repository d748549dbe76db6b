package omdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/provider"
)

const DefaultBase = "https://www.omdbapi.com/"

var ErrNoAPIKey = errors.New("omdb: 未配置 api key")

// Client 是元数据伴随 API（OMDb）的标题 provider。
// 未配置 APIKey 时 Fetch 直接失败，链路回退到下一个 provider。
type Client struct {
	APIKey  string
	BaseURL string
}

func (Client) Name() string { return "omdb" }

func (c Client) Fetch(ctx context.Context, id domain.CanonicalID, f provider.Fetcher) ([]byte, string, error) {
	key := strings.TrimSpace(c.APIKey)
	if key == "" {
		return nil, "", ErrNoAPIKey
	}
	if f == nil {
		return nil, "", errors.New("fetcher 不能为空")
	}
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		base = DefaultBase
	}
	q := url.Values{}
	q.Set("i", string(id))
	q.Set("apikey", key)
	u := base + "?" + q.Encode()
	b, err := f.Fetch(ctx, u)
	// 页面 URL 不带 key，避免写进日志。
	return b, base + "?i=" + string(id), err
}

type response struct {
	Title    string `json:"Title"`
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

func (Client) Parse(id domain.CanonicalID, body []byte) (string, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("omdb json：%w", err)
	}
	if strings.EqualFold(r.Response, "False") {
		if r.Error != "" {
			return "", fmt.Errorf("%w: %s", provider.ErrNoTitle, r.Error)
		}
		return "", provider.ErrNoTitle
	}
	t := strings.TrimSpace(r.Title)
	if t == "" {
		return "", provider.ErrNoTitle
	}
	return t, nil
}
