package imdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/extract"
	"github.com/asaddon/EinthusanTV/internal/provider"
)

const DefaultSuggestBase = "https://v2.sg.media-imdb.com/suggestion"

// Suggest 使用 IMDb 的 suggestion API：
// - 按 ID 取标题：/suggestion/t/<id>.json
// - 按名称查 ID：/suggestion/<首字母>/<query>.json
type Suggest struct {
	// BaseURL 为空时使用 DefaultSuggestBase（测试会注入 httptest 地址）。
	BaseURL string
	// HTTP 仅供 Lookup 使用；TitleProvider 路径由调用方传入 Fetcher。
	HTTP provider.Fetcher
}

func (Suggest) Name() string { return "suggest" }

type suggestion struct {
	ID    string `json:"id"`
	Label string `json:"l"`
	Kind  string `json:"q"`
	QID   string `json:"qid"`
	Year  int    `json:"y"`
}

type suggestResponse struct {
	D []suggestion `json:"d"`
}

func (s Suggest) base() string {
	b := strings.TrimSpace(s.BaseURL)
	if b == "" {
		b = DefaultSuggestBase
	}
	return strings.TrimRight(b, "/")
}

func (s Suggest) Fetch(ctx context.Context, id domain.CanonicalID, f provider.Fetcher) ([]byte, string, error) {
	if f == nil {
		return nil, "", errors.New("fetcher 不能为空")
	}
	u := s.base() + "/t/" + url.PathEscape(string(id)) + ".json"
	b, err := f.Fetch(ctx, u)
	return b, u, err
}

// Parse 只接受 id 完全相等的条目（suggestion 会返回相关但不同的作品）。
func (Suggest) Parse(id domain.CanonicalID, body []byte) (string, error) {
	var r suggestResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("suggestion json：%w", err)
	}
	for _, it := range r.D {
		if it.ID == string(id) && strings.TrimSpace(it.Label) != "" {
			return strings.TrimSpace(it.Label), nil
		}
	}
	return "", provider.ErrNoTitle
}

// Lookup 按名称（+年份）查找电影的外部 ID。
//
// 规则：
// - 只考虑 tt 开头的电影类条目（feature / movie / tvMovie，或类型缺失）
// - year>0 时年份必须完全相等
// - 多个候选时优先规范化标题完全相等的条目，否则取第一个
func (s Suggest) Lookup(ctx context.Context, name string, year int) (domain.CanonicalID, bool, error) {
	if s.HTTP == nil {
		return "", false, errors.New("fetcher 不能为空")
	}
	q := suggestQuery(name)
	if q == "" {
		return "", false, nil
	}
	u := s.base() + "/" + q[:1] + "/" + url.PathEscape(q) + ".json"
	body, err := s.HTTP.Fetch(ctx, u)
	if err != nil {
		return "", false, err
	}
	var r suggestResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", false, fmt.Errorf("suggestion json：%w", err)
	}

	want := extract.NormalizeTitle(name)
	var first domain.CanonicalID
	for _, it := range r.D {
		id, ok := domain.ParseCanonicalID(it.ID)
		if !ok || !isMovie(it) {
			continue
		}
		if year > 0 && it.Year != year {
			continue
		}
		if extract.NormalizeTitle(it.Label) == want {
			return id, true, nil
		}
		if first == "" {
			first = id
		}
	}
	if first == "" {
		return "", false, nil
	}
	return first, true, nil
}

func isMovie(it suggestion) bool {
	switch strings.ToLower(it.QID) {
	case "movie", "tvmovie", "video":
		return true
	case "":
		k := strings.ToLower(it.Kind)
		return k == "" || k == "feature" || k == "tv movie"
	default:
		return false
	}
}

// suggestQuery 把名称转为 suggestion 路径：ASCII 小写，空白替换为下划线。
func suggestQuery(name string) string {
	s := strings.ToLower(unidecode.Unidecode(strings.TrimSpace(name)))
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte('_')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}
