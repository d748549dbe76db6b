package extract

import (
	"errors"
	"regexp"
	"strings"

	"github.com/asaddon/EinthusanTV/internal/domain"
)

// StreamHost 替换播放地址中的裸 IPv4 主机。
const StreamHost = "cdn1.einthusan.io"

var (
	ErrNoPlayer = errors.New("未找到播放器区块")
	ErrNoSource = errors.New("未找到视频源")
)

// WatchPage 是播放页中与取流相关的字段。
type WatchPage struct {
	Title    string
	Year     string
	MP4Link  string
	Language string // 摘要区语言标签所在段落的原文（小写）
}

// Watch 解析播放页；缺少播放器区块返回 ErrNoPlayer，缺少 mp4 地址返回 ErrNoSource。
func Watch(html []byte) (WatchPage, error) {
	doc, err := newDoc(html)
	if err != nil {
		return WatchPage{}, err
	}

	player := doc.Find("#UIVideoPlayer").First()
	if player.Length() == 0 {
		return WatchPage{}, ErrNoPlayer
	}
	title, _ := player.Attr("data-content-title")
	link, _ := player.Attr("data-mp4-link")
	link = strings.TrimSpace(link)
	if link == "" {
		return WatchPage{}, ErrNoSource
	}

	info := doc.Find("#UIMovieSummary div.info p").First()
	return WatchPage{
		Title:    normSpace(title),
		Year:     firstText(info),
		MP4Link:  RewriteStreamHost(link),
		Language: strings.ToLower(normSpace(info.Text())),
	}, nil
}

// InPartition 用语言标签的子串判断原生 ID 是否属于该分区。
// 依赖站点文案，属于外部数据质量风险；这里不做更“聪明”的判断。
func (w WatchPage) InPartition(p domain.Partition) bool {
	if p == "" {
		return false
	}
	return strings.Contains(w.Language, strings.ToLower(string(p)))
}

var ipv4RE = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// RewriteStreamHost 把链接中第一个 IPv4 地址替换为 StreamHost。
func RewriteStreamHost(link string) string {
	loc := ipv4RE.FindStringIndex(link)
	if loc == nil {
		return link
	}
	return link[:loc[0]] + StreamHost + link[loc[1]:]
}
