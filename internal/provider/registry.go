package provider

import (
	"fmt"
	"strings"
)

// Registry 是 provider 的只读注册表（按 name 索引，保留注册顺序）。
type Registry struct {
	byName map[string]TitleProvider
	order  []string
}

func NewRegistry(providers ...TitleProvider) (Registry, error) {
	byName := make(map[string]TitleProvider, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			return Registry{}, fmt.Errorf("provider 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(p.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("provider.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 provider：%q", name)
		}
		byName[name] = p
		order = append(order, name)
	}
	return Registry{byName: byName, order: order}, nil
}

func (r Registry) Get(name string) (TitleProvider, bool) {
	if r.byName == nil {
		return nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	p, ok := r.byName[name]
	return p, ok
}

// Names 返回注册顺序（也是默认的回退顺序）。
func (r Registry) Names() []string {
	return append([]string(nil), r.order...)
}
