package reconcile

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/asaddon/EinthusanTV/internal/domain"
)

const DefaultBaseURL = "https://einthusan.tv"

// Site 拼装上游站点的三类页面地址。
type Site struct {
	BaseURL string
}

func (s Site) base() string {
	b := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if b == "" {
		return DefaultBaseURL
	}
	return b
}

func (s Site) RecentURL(p domain.Partition, page int) string {
	return fmt.Sprintf("%s/movie/results/?find=Recent&lang=%s&page=%d", s.base(), url.QueryEscape(string(p)), page)
}

func (s Site) SearchURL(p domain.Partition, query string) string {
	return fmt.Sprintf("%s/movie/results/?lang=%s&query=%s", s.base(), url.QueryEscape(string(p)), url.QueryEscape(query))
}

func (s Site) WatchURL(nativeID string) string {
	return s.base() + "/movie/watch/" + url.PathEscape(nativeID) + "/"
}
