// Package session 在上游站点登录，让共享的 http.Client（cookie jar）携带会话。
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/asaddon/EinthusanTV/internal/infra/httpx"
)

var (
	ErrNoCredentials = errors.New("未配置登录凭据")
	ErrNoJar         = errors.New("http client 没有 cookie jar，无法保持会话")
	ErrNoCSRFToken   = errors.New("登录页缺少 csrf token")
)

type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Email) == "" || c.Password == ""
}

// LoginError 表示登录接口返回了非成功结果。
type LoginError struct {
	StatusCode int
	Message    string
}

func (e *LoginError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("登录失败：HTTP %d：%s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("登录失败：HTTP %d", e.StatusCode)
}

// Bootstrap 执行一次登录：
// 1) GET <base>/login/，从 html[data-pageid] 读取 csrf token
// 2) POST <base>/ajax/login/，表单携带 xEvent/xJson/gorilla.csrf.Token
// 会话 cookie 保存在 client 的 jar 中。
func Bootstrap(ctx context.Context, c *http.Client, baseURL string, creds Credentials) error {
	if creds.Empty() {
		return ErrNoCredentials
	}
	if c == nil {
		return errors.New("http client 不能为空")
	}
	if c.Jar == nil {
		return ErrNoJar
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")

	token, err := csrfToken(ctx, c, base+"/login/")
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"Email": creds.Email, "Password": creds.Password})
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("xEvent", "Login")
	form.Set("xJson", string(payload))
	form.Set("gorilla.csrf.Token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/ajax/login/", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", base+"/login/")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &LoginError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	// 站点用 JSON 返回 {"Message":"success"}；非 JSON 响应按 HTTP 状态判定。
	var out struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &out); err == nil && out.Message != "" && !strings.EqualFold(out.Message, "success") {
		return &LoginError{StatusCode: resp.StatusCode, Message: out.Message}
	}
	return nil
}

func csrfToken(ctx context.Context, c *http.Client, loginURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &httpx.HTTPStatusError{URL: loginURL, StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	token, _ := doc.Find("html").First().Attr("data-pageid")
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoCSRFToken
	}
	return token, nil
}
