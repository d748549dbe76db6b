package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/asaddon/EinthusanTV/internal/catalogsync"
	"github.com/asaddon/EinthusanTV/internal/config"
	"github.com/asaddon/EinthusanTV/internal/domain"
)

var _ catalogsync.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的同步进度输出。
//
// 所有输出写到 stderr（或 fallback 到 stdout），不影响非 TTY 时 stdout 只有 JSON 的约定。
// 长时间没有页面完成时，ticker 会补一行进度。
type progressUI struct {
	w   io.Writer
	eff config.EffectiveConfig

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total     int
	done      int
	pagesOK   int
	pagesFail int
	items     int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer, eff config.EffectiveConfig) *progressUI {
	return &progressUI{
		w:                  w,
		eff:                eff,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(runID string, partitions []domain.Partition, pages int) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.startedAt = now
	p.total = len(partitions) * pages

	fmt.Fprintf(p.w, "[%s] EinthusanTV sync %s\n", now.Format("15:04:05"), runID)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  base_url: %s\n", truncate(p.eff.BaseURL, 120))
	fmt.Fprintf(p.w, "  partitions: %s\n", formatPartitions(partitions))
	fmt.Fprintf(p.w, "  pages: %d\n", pages)
	fmt.Fprintf(p.w, "  concurrency: %d\n", p.eff.Concurrency)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(p.eff.ProxyURL))
	fmt.Fprintf(p.w, "  omdb: %s\n", onOff(p.eff.OMDBAPIKey != ""))
	fmt.Fprintf(p.w, "  login: %s\n", onOff(p.eff.Email != "" && p.eff.Password != ""))
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
	if p.total > 0 && !p.tickerStarted {
		p.startTickerLocked()
	}
}

func (p *progressUI) OnPageDone(part domain.Partition, page, items int, err error, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if err != nil {
		p.pagesFail++
		fmt.Fprintf(p.w, "[%d/%d] %s p%d FAIL: %s (%s)\n",
			p.done, p.total, part, page, truncate(err.Error(), 160), formatShortDuration(dur),
		)
	} else {
		p.pagesOK++
		p.items += items
		fmt.Fprintf(p.w, "[%d/%d] %s p%d OK items=%d (%s)\n",
			p.done, p.total, part, page, items, formatShortDuration(dur),
		)
	}
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPartitionDone(res domain.PartitionResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := strings.ToUpper(res.Status)
	if res.Status == domain.StatusFailed {
		fmt.Fprintf(p.w, "分区 %s %s %s: %s (%s)\n",
			res.Partition, status, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	} else {
		fmt.Fprintf(p.w, "分区 %s %s items=%d canonical=%d dropped=%d pages=%d/%d (%s)\n",
			res.Partition, status, res.Items, res.Canonical, res.Dropped,
			res.PagesOK, res.PagesOK+res.PagesFailed, formatShortDuration(dur),
		)
	}
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnFinish(domain.SyncReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTickerLocked()
	fmt.Fprintf(p.w, "用时 %s\n", formatElapsed(time.Since(p.startedAt)))
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}
	stop := p.stopCh

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: pages=%d/%d ok=%d fail=%d items=%d elapsed=%s\n",
						p.done, p.total, p.pagesOK, p.pagesFail, p.items, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	if !p.tickerStarted {
		return
	}
	close(p.stopCh)
	p.tickerStarted = false
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatPartitions(ps []domain.Partition) string {
	if len(ps) == 0 {
		return "[]"
	}
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, string(p))
	}
	return strings.Join(names, ",")
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}
