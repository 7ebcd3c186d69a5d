package shell

import (
	"fmt"
	"io"
	"sync"
)

// output は複数のgoroutineから安全に書き込めるwriter。
type output struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *output) printf(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, format, args...)
}

// Navigator は端末上の現在のパスを保持するsessionctx.Navigator。
// 遷移すると新しいパスを表示する。
type Navigator struct {
	out *output

	mu   sync.Mutex
	path string
}

// CurrentPath は現在のパスを返す。
func (n *Navigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

// Push は現在のパスを置き換える。
func (n *Navigator) Push(path string) {
	n.mu.Lock()
	changed := n.path != path
	n.path = path
	n.mu.Unlock()

	if changed {
		n.out.printf("-> %s\n", path)
	}
}

// Notifier は通知を1行で表示するsessionctx.Notifier。
type Notifier struct {
	out *output
}

// Success は成功の通知を表示する。
func (n *Notifier) Success(title, description string) {
	n.out.printf("[ok] %s - %s\n", title, description)
}

// Failure は失敗の通知を表示する。
func (n *Notifier) Failure(title, description string) {
	n.out.printf("[!] %s - %s\n", title, description)
}
