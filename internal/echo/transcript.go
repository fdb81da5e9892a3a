package echo

import (
	"strings"
	"sync"
)

// Transcript 回显缓冲：current 为当前命令的回显，total 为整个会话的回显。
// total 只增不减；current 由命令执行方在发送命令前清空。
type Transcript struct {
	mu      sync.Mutex
	current strings.Builder
	total   strings.Builder
	changed chan struct{}
}

func NewTranscript() *Transcript {
	return &Transcript{changed: make(chan struct{}, 1)}
}

// Append 追加一段回显：echo 进入 current，part 进入 total
func (t *Transcript) Append(echo, part string) {
	t.mu.Lock()
	t.current.WriteString(echo)
	t.total.WriteString(part)
	t.mu.Unlock()
	t.notify()
}

// AppendCurrent 仅向 current 追加（分页后补换行）
func (t *Transcript) AppendCurrent(s string) {
	t.mu.Lock()
	t.current.WriteString(s)
	t.mu.Unlock()
}

func (t *Transcript) ResetCurrent() {
	t.mu.Lock()
	t.current.Reset()
	t.mu.Unlock()
}

func (t *Transcript) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.String()
}

func (t *Transcript) Total() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total.String()
}

func (t *Transcript) TotalLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total.Len()
}

// Changed 每次 Append 后收到一次信号（合并的，不保证一次 Append 对应一次信号）
func (t *Transcript) Changed() <-chan struct{} {
	return t.changed
}

func (t *Transcript) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}
