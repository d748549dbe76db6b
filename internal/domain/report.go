package domain

import (
	"sort"
	"time"
)

const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

const (
	ErrCodeFetchFailed    = "fetch_failed"
	ErrCodeParseFailed    = "parse_failed"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeNotFound       = "not_found"
	ErrCodeInvalidInput   = "invalid_input"
	ErrCodeConfigInvalid  = "config_invalid"
	ErrCodeConfigNotFound = "config_not_found"
)

// SyncReport 是一次目录同步的对外稳定输出（stdout JSON）。
type SyncReport struct {
	RunID string `json:"run_id"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary    SyncSummary       `json:"summary"`
	Partitions []PartitionResult `json:"partitions"`
}

type SyncSummary struct {
	OK      int `json:"ok"`
	Partial int `json:"partial"`
	Failed  int `json:"failed"`
	Items   int `json:"items"`
}

// PartitionResult 记录单个分区的同步结果；一个分区失败不影响其它分区。
type PartitionResult struct {
	Partition   string `json:"partition"`
	PagesOK     int    `json:"pages_ok"`
	PagesFailed int    `json:"pages_failed"`
	Items       int    `json:"items"`
	Canonical   int    `json:"canonical"`
	Dropped     int    `json:"dropped"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) partitions 按名称稳定排序
// 3) summary 由 partitions 计算得出
func (r *SyncReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Partitions, func(i, j int) bool {
		return r.Partitions[i].Partition < r.Partitions[j].Partition
	})

	var s SyncSummary
	for _, p := range r.Partitions {
		switch p.Status {
		case StatusOK:
			s.OK++
		case StatusPartial:
			s.Partial++
		case StatusFailed:
			s.Failed++
		}
		s.Items += p.Items
	}
	r.Summary = s
}

// HasFailures 用于决定 CLI 退出码。
func (r SyncReport) HasFailures() bool {
	return r.Summary.Failed > 0
}
