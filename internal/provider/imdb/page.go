package imdb

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/provider"
)

const DefaultPageBase = "https://www.imdb.com/title"

// Page 抓取 IMDb 标题页作为最后的兜底：优先 og:title，其次 h1。
type Page struct {
	BaseURL string
}

func (Page) Name() string { return "page" }

func (p Page) Fetch(ctx context.Context, id domain.CanonicalID, f provider.Fetcher) ([]byte, string, error) {
	if f == nil {
		return nil, "", errors.New("fetcher 不能为空")
	}
	base := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if base == "" {
		base = DefaultPageBase
	}
	u := base + "/" + url.PathEscape(string(id)) + "/"
	b, err := f.Fetch(ctx, u)
	return b, u, err
}

func (Page) Parse(id domain.CanonicalID, body []byte) (string, error) {
	if len(body) == 0 {
		return "", errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t := cleanOGTitle(og); t != "" {
			return t, nil
		}
	}
	if t := strings.Join(strings.Fields(doc.Find("h1").First().Text()), " "); t != "" {
		return t, nil
	}
	return "", provider.ErrNoTitle
}

var yearSuffixRE = regexp.MustCompile(`\s*\([^()]*\d{4}[^()]*\)\s*$`)

// cleanOGTitle 去掉 og:title 的站点后缀、评分与年份，例如
// "Pathaan (2023) ⭐ 5.9 | Action, Thriller" -> "Pathaan"。
func cleanOGTitle(s string) string {
	s = strings.TrimSpace(s)
	for _, sep := range []string{" - IMDb", " ⭐", " | "} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}
	s = yearSuffixRE.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
