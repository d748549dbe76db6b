package catalogsync

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/asaddon/EinthusanTV/internal/domain"
)

// Observer 把同步进度从核心流程中解耦出来。
//
// 约束：
// - 同步器只发事件，不做任何输出（stdout 留给 JSON 报告）
// - 实现必须并发安全：页面事件来自多个 goroutine
type Observer interface {
	OnStart(runID string, partitions []domain.Partition, pages int)
	OnPageDone(p domain.Partition, page, items int, err error, dur time.Duration)
	OnPartitionDone(res domain.PartitionResult, dur time.Duration)
	OnFinish(rep domain.SyncReport)
}

// Observers 把事件依次转发给多个 Observer（nil 元素会被跳过）。
type Observers []Observer

func (obs Observers) OnStart(runID string, partitions []domain.Partition, pages int) {
	for _, o := range obs {
		if o != nil {
			o.OnStart(runID, partitions, pages)
		}
	}
}

func (obs Observers) OnPageDone(p domain.Partition, page, items int, err error, dur time.Duration) {
	for _, o := range obs {
		if o != nil {
			o.OnPageDone(p, page, items, err, dur)
		}
	}
}

func (obs Observers) OnPartitionDone(res domain.PartitionResult, dur time.Duration) {
	for _, o := range obs {
		if o != nil {
			o.OnPartitionDone(res, dur)
		}
	}
}

func (obs Observers) OnFinish(rep domain.SyncReport) {
	for _, o := range obs {
		if o != nil {
			o.OnFinish(rep)
		}
	}
}

// LogObserver 用结构化日志输出同步进度。
type LogObserver struct {
	Log logrus.FieldLogger
}

var _ Observer = LogObserver{}

func (o LogObserver) OnStart(runID string, partitions []domain.Partition, pages int) {
	o.Log.WithFields(logrus.Fields{"run_id": runID, "partitions": len(partitions), "max_pages": pages}).
		Info("开始同步最近目录")
}

func (o LogObserver) OnPageDone(p domain.Partition, page, items int, err error, dur time.Duration) {
	l := o.Log.WithFields(logrus.Fields{"partition": p, "page": page, "dur": dur.Round(time.Millisecond)})
	if err != nil {
		l.WithError(err).Warn("列表页同步失败")
		return
	}
	l.WithField("items", items).Debugf("Fetched %d movies from page %d in %s", items, page, p.Label())
}

func (o LogObserver) OnPartitionDone(res domain.PartitionResult, dur time.Duration) {
	l := o.Log.WithFields(logrus.Fields{
		"partition":    res.Partition,
		"status":       res.Status,
		"pages_ok":     res.PagesOK,
		"pages_failed": res.PagesFailed,
		"canonical":    res.Canonical,
		"dur":          dur.Round(time.Millisecond),
	})
	if res.Status == domain.StatusFailed {
		l.WithField("error_code", res.ErrorCode).Error(res.ErrorMsg)
		return
	}
	l.Infof("Fetched %d unique recent movies in %s", res.Items, domain.Partition(res.Partition).Label())
}

func (o LogObserver) OnFinish(rep domain.SyncReport) {
	o.Log.WithFields(logrus.Fields{
		"run_id":  rep.RunID,
		"ok":      rep.Summary.OK,
		"partial": rep.Summary.Partial,
		"failed":  rep.Summary.Failed,
		"items":   rep.Summary.Items,
		"dur":     rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond),
	}).Info("同步完成")
}
