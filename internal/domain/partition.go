package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Partition 是按语言划分的目录分区。
//
// 约束：原生 ID 只在所属分区内有意义；任何解析/缓存都必须带上分区。
type Partition string

const (
	Hindi     Partition = "hindi"
	Tamil     Partition = "tamil"
	Telugu    Partition = "telugu"
	Malayalam Partition = "malayalam"
	Kannada   Partition = "kannada"
	Bengali   Partition = "bengali"
	Marathi   Partition = "marathi"
	Punjabi   Partition = "punjabi"
)

// Partitions 是固定枚举（顺序即 manifest/同步的展示顺序）。
var Partitions = []Partition{Hindi, Tamil, Telugu, Malayalam, Kannada, Bengali, Marathi, Punjabi}

func ParsePartition(s string) (Partition, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range Partitions {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

var titleCaser = cases.Title(language.English)

// Label 返回首字母大写的展示名（例如 "Hindi"）。
func (p Partition) Label() string {
	return titleCaser.String(string(p))
}
