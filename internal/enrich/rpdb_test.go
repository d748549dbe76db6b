package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaddon/EinthusanTV/internal/domain"
)

type mapFetcher map[string]string

func (m mapFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	b, ok := m[url]
	if !ok {
		return nil, errors.New("not found: " + url)
	}
	return []byte(b), nil
}

func TestValidateKey(t *testing.T) {
	r := RPDB{BaseURL: "https://rpdb.test/", HTTP: mapFetcher{
		"https://rpdb.test/good/isValid": `{"valid":true}`,
		"https://rpdb.test/bad/isValid":  `{"valid":false}`,
	}}
	ctx := context.Background()

	require.NoError(t, r.ValidateKey(ctx, "good"))
	assert.ErrorIs(t, r.ValidateKey(ctx, "bad"), ErrInvalidKey)
	assert.ErrorIs(t, r.ValidateKey(ctx, " "), ErrInvalidKey)
	assert.Error(t, r.ValidateKey(ctx, "missing"))
}

func TestApply_OnlyCanonicalItems(t *testing.T) {
	items := []domain.CatalogItem{
		{ID: "tt12844910", NativeID: "a", Poster: "https://img/a.jpg"},
		{ID: "einthusan_b", NativeID: "b", Poster: "https://img/b.jpg"},
	}
	out := RPDB{}.Apply(items, "k1")

	assert.Equal(t, "https://api.ratingposterdb.com/k1/imdb/poster-default/tt12844910.jpg", out[0].Poster)
	assert.Equal(t, "https://img/b.jpg", out[1].Poster)
	assert.Equal(t, "https://img/a.jpg", items[0].Poster, "不得修改输入切片")

	assert.Equal(t, items, RPDB{}.Apply(items, ""))
}
