package extract

import (
	"github.com/PuerkitoBio/goquery"
)

// Candidate 是列表页中的一个条目（尚未与外部 ID 对账）。
type Candidate struct {
	NativeID string
	Title    string
	Year     string
	Poster   string
}

type ListingStats struct {
	Found   int
	Dropped int
}

// Listing 解析列表页（搜索结果 / Recent）中的所有条目。
// 缺少海报、年份、标题或原生 ID 的条目会被丢弃并计入 Dropped。
func Listing(html []byte, pageURL string) ([]Candidate, ListingStats, error) {
	doc, err := newDoc(html)
	if err != nil {
		return nil, ListingStats{}, err
	}

	var st ListingStats
	out := make([]Candidate, 0, 20)
	doc.Find("#UIMovieSummary li").Each(func(_ int, li *goquery.Selection) {
		st.Found++
		c, ok := candidateFrom(li, pageURL)
		if !ok {
			st.Dropped++
			return
		}
		out = append(out, c)
	})
	return out, st, nil
}

func candidateFrom(li *goquery.Selection, pageURL string) (Candidate, bool) {
	c, _ := candidateFields(li, pageURL)
	ok := c.Poster != "" && c.Year != "" && c.Title != "" && c.NativeID != ""
	return c, ok
}

// candidateFields 返回解析到的字段与缺失字段列表。
func candidateFields(li *goquery.Selection, pageURL string) (Candidate, []string) {
	var c Candidate
	var missing []string

	if src, ok := li.Find("div.block1 a img").First().Attr("src"); ok {
		c.Poster = NormalizePoster(pageURL, src)
	}
	if c.Poster == "" {
		missing = append(missing, "poster")
	}

	if p := li.Find("div.info p").First(); p.Length() > 0 {
		c.Year = firstText(p)
	}
	if c.Year == "" {
		missing = append(missing, "year")
	}

	a := li.Find("a.title").First()
	c.Title = normSpace(a.Find("h3").First().Text())
	if c.Title == "" {
		missing = append(missing, "title")
	}
	if href, ok := a.Attr("href"); ok {
		c.NativeID = nativeIDFromHref(href)
	}
	if c.NativeID == "" {
		missing = append(missing, "native_id")
	}
	return c, missing
}
