package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaddon/EinthusanTV/internal/domain"
)

const pageURL = "https://einthusan.tv/movie/results/?find=Recent&lang=hindi&page=1"

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	return b
}

func TestListing_DropsIncompleteItems(t *testing.T) {
	items, st, err := Listing(readFixture(t, "listing.html"), pageURL)
	require.NoError(t, err)

	assert.Equal(t, 5, st.Found)
	assert.Equal(t, 2, st.Dropped)
	require.Len(t, items, 3)

	assert.Equal(t, Candidate{
		NativeID: "9hXe",
		Title:    "Pathaan",
		Year:     "2023",
		Poster:   "https://img.einthusan.io/9hXe.jpg",
	}, items[0])
	// 实体解码 + 已带 scheme 的海报保持不变。
	assert.Equal(t, "Tom & Jerry's Day", items[1].Title)
	assert.Equal(t, "https://img.einthusan.io/Jw4n.jpg", items[1].Poster)
	// 重复的原生 ID 在解析层保留，由合并阶段去重。
	assert.Equal(t, "9hXe", items[2].NativeID)
}

func TestListing_EmptyHTML(t *testing.T) {
	_, _, err := Listing(nil, pageURL)
	assert.Error(t, err)

	items, st, err := Listing([]byte("<html><body>nothing</body></html>"), pageURL)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 0, st.Found)
}

func TestParseDetail(t *testing.T) {
	d, err := ParseDetail(readFixture(t, "watch.html"), "https://einthusan.tv/movie/watch/9hXe/")
	require.NoError(t, err)

	assert.Equal(t, "9hXe", d.NativeID)
	assert.Equal(t, "Pathaan", d.Title)
	assert.Equal(t, "2023", d.Year)
	assert.Equal(t, "https://img.einthusan.io/9hXe.jpg", d.Poster)
	assert.Equal(t, "An Indian spy takes on the leader of a group of mercenaries & more.", d.Synopsis)
	assert.Equal(t, "vqu4z34wENw", d.TrailerRef)
	assert.Equal(t, "tt12844910", d.CanonicalHint)
	assert.Equal(t, []domain.CastMember{
		{Name: "Shah Rukh Khan", Role: "Actor"},
		{Name: "Deepika Padukone", Role: "Actress"},
		{Name: "Siddharth Anand", Role: "Director"},
		{Name: "Shridhar Raghavan", Role: "Writer"},
	}, d.Cast)

	directors, actors := domain.SplitCast(d.Cast)
	assert.Equal(t, []string{"Siddharth Anand"}, directors)
	assert.Equal(t, []string{"Shah Rukh Khan", "Deepika Padukone"}, actors)
}

func TestParseDetail_Incomplete(t *testing.T) {
	// 列表页没有 synopsis：必须报告不完整，而不是返回半成品。
	_, err := ParseDetail(readFixture(t, "listing.html"), pageURL)
	var ie *IncompleteError
	require.True(t, errors.As(err, &ie), "期望 *IncompleteError，实际：%v", err)
	assert.Contains(t, ie.Missing, "synopsis")

	_, err = ParseDetail(readFixture(t, "ratelimited.html"), pageURL)
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, []string{"summary"}, ie.Missing)
}

func TestWatch(t *testing.T) {
	w, err := Watch(readFixture(t, "watch.html"))
	require.NoError(t, err)

	assert.Equal(t, "Pathaan", w.Title)
	assert.Equal(t, "2023", w.Year)
	assert.Equal(t, "https://cdn1.einthusan.io/einthusan/9hXe.mp4?e=1&s=abc", w.MP4Link)
	assert.True(t, w.InPartition(domain.Hindi))
	assert.False(t, w.InPartition(domain.Tamil))

	_, err = Watch(readFixture(t, "listing.html"))
	assert.ErrorIs(t, err, ErrNoPlayer)

	_, err = Watch([]byte(`<div id="UIVideoPlayer" data-content-title="x"></div>`))
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(readFixture(t, "ratelimited.html")))
	assert.False(t, IsRateLimited(readFixture(t, "listing.html")))
}

func TestNormalizeTitle(t *testing.T) {
	cases := map[string]string{
		"Pathaan":             "pathaan",
		"K.G.F: Chapter 2":    "kgfchapter2",
		"Tom & Jerry's Day_1": "tomjerrysday1",
		"Café Society":        "cafesociety",
		"   ":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTitle(in), "输入：%q", in)
	}
}

func TestNormalizePoster(t *testing.T) {
	assert.Equal(t, "https://img.example/x.jpg", NormalizePoster("", "//img.example/x.jpg"))
	assert.Equal(t, "http://img.example/x.jpg", NormalizePoster("", "http://img.example/x.jpg"))
	assert.Equal(t, "https://einthusan.tv/images/x.jpg", NormalizePoster(pageURL, "/images/x.jpg"))
	assert.Equal(t, "", NormalizePoster(pageURL, " "))
}

func TestRewriteStreamHost(t *testing.T) {
	assert.Equal(t, "https://cdn1.einthusan.io/a.mp4", RewriteStreamHost("https://10.0.0.1/a.mp4"))
	assert.Equal(t, "https://cdn9.einthusan.io/a.mp4", RewriteStreamHost("https://cdn9.einthusan.io/a.mp4"))
}

func TestFirstWordAndNativeIDFromHref(t *testing.T) {
	assert.Equal(t, "jawan", FirstWord("  Jawan  (2023)"))
	assert.Equal(t, "", FirstWord(""))
	assert.Equal(t, "Ab1", nativeIDFromHref("/movie/watch/Ab1/?lang=tamil"))
	assert.Equal(t, "Ab1", nativeIDFromHref("https://einthusan.tv/movie/watch/Ab1/"))
	assert.Equal(t, "", nativeIDFromHref("/movie/"))
}
