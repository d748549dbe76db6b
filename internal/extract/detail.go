package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/asaddon/EinthusanTV/internal/domain"
)

// IncompleteError 表示详情页缺少必填元素（疑似非详情页或站点改版）。
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	if e == nil || len(e.Missing) == 0 {
		return "详情页不完整"
	}
	return "详情页不完整：缺少 " + strings.Join(e.Missing, ",")
}

// Detail 是详情页解析结果；可选字段缺失时为空值。
type Detail struct {
	Candidate
	Synopsis      string
	Cast          []domain.CastMember
	TrailerRef    string
	CanonicalHint string
}

var ttRE = regexp.MustCompile(`tt\d{7,8}`)

// ParseDetail 解析影片详情（/movie/watch/<id>/ 页面中的摘要区块）。
func ParseDetail(html []byte, pageURL string) (Detail, error) {
	doc, err := newDoc(html)
	if err != nil {
		return Detail{}, err
	}

	li := doc.Find("#UIMovieSummary li").First()
	if li.Length() == 0 {
		return Detail{}, &IncompleteError{Missing: []string{"summary"}}
	}

	c, missing := candidateFields(li, pageURL)
	syn := li.Find("p.synopsis").First()
	if syn.Length() == 0 {
		missing = append(missing, "synopsis")
	}
	if len(missing) > 0 {
		return Detail{}, &IncompleteError{Missing: missing}
	}

	d := Detail{
		Candidate: c,
		Synopsis:  normSpace(syn.Text()),
	}

	doc.Find("div.prof").Each(func(_ int, s *goquery.Selection) {
		name := normSpace(s.Find("p").First().Text())
		role := normSpace(s.Find("label").First().Text())
		if name == "" || role == "" {
			return
		}
		d.Cast = append(d.Cast, domain.CastMember{Name: name, Role: role})
	})

	// 第二个链接是预告片（第一个是“观看”）。
	if href, ok := doc.Find("div.extras a").Eq(1).Attr("href"); ok {
		d.TrailerRef = trailerRef(href)
	}

	doc.Find(`a[href*="imdb.com/title/tt"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if m := ttRE.FindString(href); m != "" {
			if id, ok := domain.ParseCanonicalID(m); ok {
				d.CanonicalHint = string(id)
				return false
			}
		}
		return true
	})
	return d, nil
}

func trailerRef(href string) string {
	_, after, ok := strings.Cut(href, "v=")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(after, "&#"); i >= 0 {
		after = after[:i]
	}
	return strings.TrimSpace(after)
}
