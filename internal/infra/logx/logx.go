// Package logx 构造全进程共享的 logrus logger。
//
// 约定：日志只写 stderr（以及可选的滚动文件），stdout 留给 JSON 报告。
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level  string // debug/info/warn/error；空值为 info
	Format string // text/json；空值为 text
	Colors bool   // 仅 text 格式生效
	File   string // 非空时同时写入滚动日志文件

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New 返回 logger 与需要在退出时关闭的 closer（无文件输出时为 nil）。
func New(stderr io.Writer, opts Options) (*logrus.Logger, io.Closer, error) {
	if stderr == nil {
		stderr = os.Stderr
	}
	l := logrus.New()

	lvl := strings.TrimSpace(opts.Level)
	if lvl == "" {
		lvl = "info"
	}
	level, err := logrus.ParseLevel(lvl)
	if err != nil {
		return nil, nil, fmt.Errorf("非法日志级别：%q", opts.Level)
	}
	l.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			ForceColors:      opts.Colors,
			DisableColors:    !opts.Colors,
			FullTimestamp:    true,
			TimestampFormat:  "2006-01-02 15:04:05",
			DisableQuote:     true,
			QuoteEmptyFields: true,
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("非法日志格式：%q", opts.Format)
	}

	var closer io.Closer
	out := stderr
	if f := strings.TrimSpace(opts.File); f != "" {
		lj := &lumberjack.Logger{
			Filename:   f,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
			Compress:   true,
		}
		out = io.MultiWriter(stderr, lj)
		closer = lj
	}
	l.SetOutput(out)
	return l, closer, nil
}

// Discard 返回丢弃所有输出的 logger（测试与库默认值使用）。
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
