package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/asaddon/EinthusanTV/internal/domain"
)

const (
	// ErrCodeNotFound 表示显式指定的配置文件不存在。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
)

const (
	DefaultPort           = 3000
	DefaultBaseURL        = "https://einthusan.tv"
	DefaultMaxPages       = 15
	DefaultConcurrency    = 50
	DefaultRequestTimeout = 20 * time.Second
	DefaultSyncInterval   = 12 * time.Hour
	DefaultCacheEntries   = 10000

	MaxConcurrency = 200
	MaxPages       = 50
)

// configName 是在工作目录中自动发现的配置文件名（einthusan.yaml / einthusan.json ...）。
const configName = "einthusan"

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Port    int
	BaseURL string

	Partitions  []domain.Partition
	MaxPages    int
	Concurrency int
	Timeout     time.Duration
	ProxyURL    string

	SyncInterval time.Duration
	SyncOnStart  bool

	OMDBAPIKey string
	RPDBKey    string

	Email    string
	Password string

	CacheMaxEntries int
	CacheCodec      string

	LogLevel  string
	LogFormat string
	LogColors bool
	LogFile   string

	// ConfigFile 是实际读取的配置文件路径（未读取时为空）。
	ConfigFile string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadOptions 描述一次配置加载的输入。
type LoadOptions struct {
	// Dir 是自动发现 einthusan.{yaml,json,toml} 与 .env 的目录；空值为当前目录。
	Dir string
	// File 显式指定配置文件；此时文件必须存在。
	File string
	// Flags 是已解析的 CLI flags（见 RegisterFlags）；显式设置的 flag 覆盖一切。
	Flags *pflag.FlagSet
}

// keys 与 flag 名一一对应（flag 使用 '-'，配置文件使用嵌套 '.'）。
var flagKeys = map[string]string{
	"port":          "port",
	"base-url":      "base_url",
	"partitions":    "partitions",
	"max-pages":     "max_pages",
	"concurrency":   "concurrency",
	"timeout":       "timeout",
	"proxy":         "proxy.url",
	"sync-interval": "sync.interval",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"log-file":      "log.file",
}

// RegisterFlags 注册所有可由 CLI 覆盖的配置项；默认值只用于帮助文本。
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("port", DefaultPort, "addon 监听端口")
	fs.String("base-url", DefaultBaseURL, "上游站点地址")
	fs.StringSlice("partitions", nil, "同步的语言分区（默认全部）")
	fs.Int("max-pages", DefaultMaxPages, "每个分区同步的最近页数 [1,50]")
	fs.Int("concurrency", DefaultConcurrency, "上游请求并发上限 [1,200]")
	fs.Duration("timeout", DefaultRequestTimeout, "单次上游请求超时")
	fs.String("proxy", "", "上游请求代理（http/https/socks5）")
	fs.Duration("sync-interval", DefaultSyncInterval, "目录同步间隔")
	fs.String("log-level", "info", "日志级别：debug|info|warn|error")
	fs.String("log-format", "text", "日志格式：text|json")
	fs.String("log-file", "", "额外写入的滚动日志文件")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("partitions", []string{})
	v.SetDefault("max_pages", DefaultMaxPages)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("timeout", DefaultRequestTimeout)
	v.SetDefault("proxy.url", "")
	v.SetDefault("sync.interval", DefaultSyncInterval)
	v.SetDefault("sync.on_start", true)
	v.SetDefault("omdb_api_key", "")
	v.SetDefault("rpdb_key", "")
	v.SetDefault("email", "")
	v.SetDefault("password", "")
	v.SetDefault("cache.max_entries", DefaultCacheEntries)
	v.SetDefault("cache.codec", "zstd")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.colors", false)
	v.SetDefault("log.file", "")
}

// Load 读取 .env、配置文件、环境变量与 CLI flags，合并为 EffectiveConfig。
//
// 覆盖优先级（viper 语义）：CLI flag > 环境变量 > 配置文件 > 默认值。
// 环境变量使用 EINTHUSAN_ 前缀（EINTHUSAN_MAX_PAGES、EINTHUSAN_LOG_LEVEL ...），
// 另外兼容无前缀的 PORT、OMDB_API_KEY、USE_COLORS。
func Load(opts LoadOptions) (EffectiveConfig, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		dir = "."
	}
	if err := loadDotEnv(dir); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: dir + "/.env", Err: err}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EINTHUSAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("port", "EINTHUSAN_PORT", "PORT")
	_ = v.BindEnv("omdb_api_key", "EINTHUSAN_OMDB_API_KEY", "OMDB_API_KEY")
	_ = v.BindEnv("log.colors", "EINTHUSAN_LOG_COLORS", "USE_COLORS")

	cfgPath := ""
	if f := strings.TrimSpace(opts.File); f != "" {
		if _, err := os.Stat(f); err != nil {
			if os.IsNotExist(err) {
				return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: f, Err: os.ErrNotExist}
			}
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: f, Err: err}
		}
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: f, Err: err}
		}
		cfgPath = f
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: v.ConfigFileUsed(), Err: err}
			}
		} else {
			cfgPath = v.ConfigFileUsed()
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: err}
				}
			}
		}
	}

	eff, err := merge(v)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.ConfigFile = cfgPath
	return eff, nil
}

// loadDotEnv 读取 <dir>/.env（可选）；已存在的环境变量不会被覆盖。
func loadDotEnv(dir string) error {
	p := strings.TrimRight(dir, "/") + "/.env"
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(p)
}

func merge(v *viper.Viper) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		Port:            v.GetInt("port"),
		BaseURL:         strings.TrimRight(strings.TrimSpace(v.GetString("base_url")), "/"),
		MaxPages:        clamp(v.GetInt("max_pages"), 1, MaxPages),
		Concurrency:     clamp(v.GetInt("concurrency"), 1, MaxConcurrency),
		Timeout:         v.GetDuration("timeout"),
		ProxyURL:        strings.TrimSpace(v.GetString("proxy.url")),
		SyncInterval:    v.GetDuration("sync.interval"),
		SyncOnStart:     v.GetBool("sync.on_start"),
		OMDBAPIKey:      strings.TrimSpace(v.GetString("omdb_api_key")),
		RPDBKey:         strings.TrimSpace(v.GetString("rpdb_key")),
		Email:           strings.TrimSpace(v.GetString("email")),
		Password:        v.GetString("password"),
		CacheMaxEntries: v.GetInt("cache.max_entries"),
		CacheCodec:      strings.ToLower(strings.TrimSpace(v.GetString("cache.codec"))),
		LogLevel:        strings.TrimSpace(v.GetString("log.level")),
		LogFormat:       strings.TrimSpace(v.GetString("log.format")),
		LogColors:       v.GetBool("log.colors"),
		LogFile:         strings.TrimSpace(v.GetString("log.file")),
	}

	if eff.Port < 1 || eff.Port > 65535 {
		return EffectiveConfig{}, fmt.Errorf("port 超出范围：%d", eff.Port)
	}
	if err := validateHTTPURL("base_url", eff.BaseURL); err != nil {
		return EffectiveConfig{}, err
	}
	if eff.ProxyURL != "" {
		u, err := url.Parse(eff.ProxyURL)
		if err != nil || u.Host == "" {
			return EffectiveConfig{}, fmt.Errorf("proxy.url 无效：%q", eff.ProxyURL)
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return EffectiveConfig{}, fmt.Errorf("proxy.url 不支持的 scheme：%q", u.Scheme)
		}
	}
	if eff.Timeout <= 0 {
		eff.Timeout = DefaultRequestTimeout
	}
	if eff.SyncInterval <= 0 {
		eff.SyncInterval = DefaultSyncInterval
	}
	if eff.CacheMaxEntries <= 0 {
		eff.CacheMaxEntries = DefaultCacheEntries
	}
	switch eff.CacheCodec {
	case "raw", "zstd":
	default:
		return EffectiveConfig{}, fmt.Errorf("cache.codec 只能是 raw 或 zstd，实际是 %q", eff.CacheCodec)
	}

	parts, err := parsePartitions(v.GetStringSlice("partitions"))
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.Partitions = parts
	return eff, nil
}

// parsePartitions 支持列表或逗号分隔字符串（环境变量只能给字符串）；空值表示全部分区。
func parsePartitions(raw []string) ([]domain.Partition, error) {
	var out []domain.Partition
	seen := make(map[domain.Partition]struct{})
	for _, r := range raw {
		for _, s := range strings.Split(r, ",") {
			if strings.TrimSpace(s) == "" {
				continue
			}
			p, ok := domain.ParsePartition(s)
			if !ok {
				return nil, fmt.Errorf("未知分区：%q", strings.TrimSpace(s))
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]domain.Partition(nil), domain.Partitions...), nil
	}
	return out, nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", field, raw)
	}
	return nil
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
