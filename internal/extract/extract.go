// Package extract 把上游站点的 HTML 解析为结构化记录。
//
// 约束：
// - 所有函数都是纯函数（只依赖输入 html + pageURL）
// - 不做网络请求、不做缓存
// - 单个条目缺少必填字段只丢弃该条目，不影响同页其它条目
package extract

import (
	"bytes"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mozillazg/go-unidecode"
)

var rateLimitMarker = []byte("<title>Rate Limited - Einthusan</title>")

// IsRateLimited 识别站点返回的限流页（HTTP 200 + 特定标题）。
func IsRateLimited(html []byte) bool {
	return bytes.Contains(html, rateLimitMarker)
}

var errEmptyHTML = errors.New("html 为空")

func newDoc(html []byte) (*goquery.Document, error) {
	if len(bytes.TrimSpace(html)) == 0 {
		return nil, errEmptyHTML
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(html))
}

// NormalizePoster 把海报地址规范为绝对 URL；缺 scheme 的 //host/x 补为 https。
func NormalizePoster(pageURL, src string) string {
	return resolveURL(pageURL, src)
}

func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	bu, err := url.Parse(strings.TrimSpace(base))
	if err != nil || bu.Host == "" {
		return href
	}
	ru, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(ru).String()
}

var nonAlnumRE = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeTitle 生成标题比较键：音译为 ASCII、转小写、去掉所有非字母数字字符。
func NormalizeTitle(s string) string {
	s = strings.ToLower(unidecode.Unidecode(s))
	return nonAlnumRE.ReplaceAllString(s, "")
}

// FirstWord 返回按空白切分后的第一个词（小写）。
func FirstWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return strings.ToLower(f[0])
}

// nativeIDFromHref 取详情链接路径的第 3 段：/movie/watch/<id>/...
func nativeIDFromHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	p := href
	if u, err := url.Parse(href); err == nil && u.Path != "" {
		p = u.Path
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	parts := strings.Split(p, "/")
	if len(parts) <= 3 {
		return ""
	}
	return strings.TrimSpace(parts[3])
}

// firstText 取 p 的第一个子节点文本（年份位于首个文本节点，后面跟语言等标签）。
func firstText(s *goquery.Selection) string {
	return normSpace(s.Contents().First().Text())
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
