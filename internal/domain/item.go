package domain

import (
	"net/url"
	"strings"
)

// TypeMovie 是目前唯一支持的内容类型。
const TypeMovie = "movie"

// CastMember 是详情页中的 “姓名 + 角色” 对。
type CastMember struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// CatalogItem 是一次对账后的目录条目。
//
// 约束：
// - NativeID 必须存在（也是跨页去重的主键）
// - ID 优先使用 CanonicalID，否则回退为 NativeRef(NativeID)
// - 可选字段缺失时保持空值，结构必须稳定
type CatalogItem struct {
	ID          string       `json:"id"`
	NativeID    string       `json:"EinthusanID"`
	Type        string       `json:"type"`
	Title       string       `json:"name"`
	ReleaseYear string       `json:"releaseInfo,omitempty"`
	Poster      string       `json:"poster,omitempty"`
	Background  string       `json:"background,omitempty"`
	Description string       `json:"description,omitempty"`
	TrailerRef  string       `json:"-"`
	Cast        []CastMember `json:"-"`
}

// HasCanonicalID 表示 ID 是否已经对上外部主键（而不是原生回退 ID）。
func (it CatalogItem) HasCanonicalID() bool {
	_, ok := ParseCanonicalID(it.ID)
	return ok
}

// SplitCast 按角色把演职员拆成导演与演员。
// role=director（忽略大小写）=> 导演；role=writer 丢弃；其余均视为演员。
func SplitCast(cast []CastMember) (directors, actors []string) {
	for _, c := range cast {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(c.Role)) {
		case "director":
			directors = append(directors, name)
		case "writer":
			// 丢弃
		default:
			actors = append(actors, name)
		}
	}
	return directors, actors
}

type Link struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	URL      string `json:"url"`
}

type Trailer struct {
	Source string `json:"source"`
	Type   string `json:"type"`
}

// Meta 是详情接口的输出（CatalogItem + 演职员链接 + 预告片）。
type Meta struct {
	CatalogItem
	Trailers []Trailer `json:"trailers"`
	Links    []Link    `json:"links"`
}

// NewMeta 由条目构造 Meta；演员在前、导演在后。
func NewMeta(it CatalogItem) Meta {
	m := Meta{CatalogItem: it, Trailers: []Trailer{}, Links: []Link{}}
	if it.TrailerRef != "" {
		m.Trailers = append(m.Trailers, Trailer{Source: it.TrailerRef, Type: "Trailer"})
	}
	directors, actors := SplitCast(it.Cast)
	for _, a := range actors {
		m.Links = append(m.Links, searchLink(a, "Cast"))
	}
	for _, d := range directors {
		m.Links = append(m.Links, searchLink(d, "Directors"))
	}
	return m
}

func searchLink(name, category string) Link {
	return Link{
		Name:     name,
		Category: category,
		URL:      "stremio:///search?search=" + url.QueryEscape(name),
	}
}

// Stream 是单条可播放源。
type Stream struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Title string `json:"title"`
}
