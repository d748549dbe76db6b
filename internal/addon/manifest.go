package addon

import (
	"github.com/asaddon/EinthusanTV/internal/domain"
)

const (
	ManifestID      = "community.einthusantv"
	ManifestName    = "EinthusanTV"
	ManifestVersion = "1.0.0"
)

type Manifest struct {
	ID            string        `json:"id"`
	Version       string        `json:"version"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Resources     []string      `json:"resources"`
	Types         []string      `json:"types"`
	IDPrefixes    []string      `json:"idPrefixes"`
	Catalogs      []CatalogDef  `json:"catalogs"`
	BehaviorHints BehaviorHints `json:"behaviorHints"`
}

type CatalogDef struct {
	Type  string     `json:"type"`
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Extra []ExtraDef `json:"extra,omitempty"`
}

type ExtraDef struct {
	Name       string `json:"name"`
	IsRequired bool   `json:"isRequired"`
}

type BehaviorHints struct {
	Configurable          bool `json:"configurable"`
	ConfigurationRequired bool `json:"configurationRequired"`
}

// NewManifest 返回 manifest；p 为空时表示“未配置”（不含目录，要求用户选择语言）。
func NewManifest(p domain.Partition) Manifest {
	m := Manifest{
		ID:          ManifestID,
		Version:     ManifestVersion,
		Name:        ManifestName,
		Description: "Movies from Einthusan, matched to IMDb where possible.",
		Resources:   []string{"catalog", "meta", "stream"},
		Types:       []string{domain.TypeMovie},
		IDPrefixes:  []string{"tt", domain.NativePrefix},
		Catalogs:    []CatalogDef{},
		BehaviorHints: BehaviorHints{
			Configurable:          true,
			ConfigurationRequired: p == "",
		},
	}
	if p != "" {
		m.Catalogs = append(m.Catalogs, CatalogDef{
			Type:  domain.TypeMovie,
			ID:    string(p),
			Name:  ManifestName + " - " + string(p),
			Extra: []ExtraDef{{Name: "search", IsRequired: false}},
		})
	}
	return m
}
