package credential

import (
	"net/http"
	"sync"
)

// Carrier はCookieの読み書き先を抽象化する。
// 1リクエスト/レスポンスの組に紐づき、プロセス全体で共有されることはない。
type Carrier interface {
	// Get は名前に対応する値を返す。存在しない場合は false を返す。
	Get(name string) (string, bool)
	// Set はCookieを書き込む。MaxAgeが負の場合は削除を意味する。
	Set(cookie *http.Cookie)
}

// RequestCarrier はHTTPリクエストのCookieを読み、レスポンスにSet-Cookieを書くCarrier。
// 同一リクエスト内で書き込んだ値は以降のGetに反映される。
type RequestCarrier struct {
	r       *http.Request
	w       http.ResponseWriter
	written map[string]*http.Cookie
}

// NewRequestCarrier はRequestCarrierを生成する。
func NewRequestCarrier(w http.ResponseWriter, r *http.Request) *RequestCarrier {
	return &RequestCarrier{
		r:       r,
		w:       w,
		written: make(map[string]*http.Cookie),
	}
}

// Get はこのリクエスト内で書き込まれた値を優先し、なければリクエストのCookieを返す。
func (c *RequestCarrier) Get(name string) (string, bool) {
	if cookie, ok := c.written[name]; ok {
		if cookie.MaxAge < 0 {
			return "", false
		}
		return cookie.Value, true
	}

	cookie, err := c.r.Cookie(name)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

// Set はレスポンスにSet-Cookieヘッダーを追加する。
func (c *RequestCarrier) Set(cookie *http.Cookie) {
	http.SetCookie(c.w, cookie)
	c.written[cookie.Name] = cookie
}

// MemoryCarrier はメモリ上にCookieを保持するCarrier。
// テストやリクエストを伴わない呼び出しで使う。
type MemoryCarrier struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

// NewMemoryCarrier は空のMemoryCarrierを生成する。
func NewMemoryCarrier() *MemoryCarrier {
	return &MemoryCarrier{cookies: make(map[string]*http.Cookie)}
}

// Get は保持している値を返す。
func (c *MemoryCarrier) Get(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cookie, ok := c.cookies[name]
	if !ok {
		return "", false
	}
	return cookie.Value, true
}

// Set はCookieを保持する。MaxAgeが負の場合は削除する。
func (c *MemoryCarrier) Set(cookie *http.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cookie.MaxAge < 0 {
		delete(c.cookies, cookie.Name)
		return
	}
	copied := *cookie
	c.cookies[cookie.Name] = &copied
}

// Cookie は最後に書き込まれたCookieを属性ごと返す。存在しない場合はnil。
func (c *MemoryCarrier) Cookie(name string) *http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()

	cookie, ok := c.cookies[name]
	if !ok {
		return nil
	}
	copied := *cookie
	return &copied
}

// Len は保持しているCookieの数を返す。
func (c *MemoryCarrier) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cookies)
}
