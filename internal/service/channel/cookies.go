package channel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
)

// comm API 用来识别登录用户的 cookie 名称
const (
	CookieNIDAuth    = "NID_AUT"
	CookieNIDSession = "NID_SES"
)

// Cookies 用于认证查询的浏览器会话
type Cookies []*http.Cookie

// LoadCookies 读取 cookie 名到值的扁平 JSON 对象，例如
// {"NID_AUT": "...", "NID_SES": "..."}
func LoadCookies(path string) (Cookies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse cookies %s: %w", path, err)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	cookies := make(Cookies, 0, len(names))
	for _, name := range names {
		cookies = append(cookies, &http.Cookie{Name: name, Value: values[name]})
	}
	return cookies, nil
}

// Has 判断指定名称的 cookie 是否存在且非空
func (c Cookies) Has(name string) bool {
	for _, ck := range c {
		if ck.Name == name && ck.Value != "" {
			return true
		}
	}
	return false
}

// Names 列出 cookie 名称（不含值），用于日志
func (c Cookies) Names() []string {
	out := make([]string, 0, len(c))
	for _, ck := range c {
		out = append(out, ck.Name)
	}
	return out
}
