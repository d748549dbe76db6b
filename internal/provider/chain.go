package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/asaddon/EinthusanTV/internal/domain"
)

// Attempt 记录一次 provider 尝试（用于解释回退原因）。
type Attempt struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" / "parse" / "ok"
	Err      error  // nil when Stage=="ok"
}

// TitleChain 按 order 依次尝试 provider，返回第一个非空标题。
func TitleChain(ctx context.Context, reg Registry, order []string, id domain.CanonicalID, f Fetcher) (title, used string, err error) {
	title, used, _, err = TitleChainTrace(ctx, reg, order, id, f)
	return title, used, err
}

// TitleChainTrace 与 TitleChain 相同，但额外返回尝试链路。
func TitleChainTrace(ctx context.Context, reg Registry, order []string, id domain.CanonicalID, f Fetcher) (title, used string, attempts []Attempt, err error) {
	if id == "" {
		return "", "", nil, fmt.Errorf("id 不能为空")
	}
	if len(order) == 0 {
		order = reg.Names()
	}

	var lastErr error
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return "", "", attempts, err
		}
		name = strings.ToLower(strings.TrimSpace(name))
		p, ok := reg.Get(name)
		if !ok {
			lastErr = fmt.Errorf("provider 未注册：%q", name)
			attempts = append(attempts, Attempt{Provider: name, Stage: "fetch", Err: lastErr})
			continue
		}

		body, _, ferr := p.Fetch(ctx, id, f)
		if ferr != nil {
			lastErr = &Error{Provider: name, Stage: "fetch", Err: ferr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "fetch", Err: ferr})
			continue
		}

		t, perr := p.Parse(id, body)
		t = strings.TrimSpace(t)
		if perr == nil && t == "" {
			perr = ErrNoTitle
		}
		if perr != nil {
			lastErr = &Error{Provider: name, Stage: "parse", Err: perr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "parse", Err: perr})
			continue
		}

		attempts = append(attempts, Attempt{Provider: name, Stage: "ok"})
		return t, name, attempts, nil
	}
	if lastErr == nil {
		lastErr = errors.New("无可用 provider")
	}
	return "", "", attempts, lastErr
}

// Error 是 provider 阶段的可追溯错误。
// 上层可以据此把失败归类为 fetch_failed / parse_failed。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" 或 "parse"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode 把错误归类为报告中的 error_code。
func ErrorCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Stage == "parse" {
		if errors.Is(pe.Err, ErrNoTitle) {
			return domain.ErrCodeNotFound
		}
		return domain.ErrCodeParseFailed
	}
	return domain.ErrCodeFetchFailed
}
