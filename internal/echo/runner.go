package echo

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sshcollectorpro/echoshell/pkg/logger"
)

const (
	DefaultSleepTime  = 200 * time.Millisecond
	DefaultTimeout    = 4000 * time.Millisecond
	DefaultLineEnding = "\n"
	DefaultEnter      = "\r"
)

// Options 命令执行参数
type Options struct {
	// SleepTime 轮询间隔；即使没有新回显也按此间隔复查一次
	SleepTime time.Duration
	// Timeout 单条命令的等待窗口，每次翻页后重新计时
	Timeout time.Duration
	// MoreCmd 分页继续按键（不带回车）
	MoreCmd    string
	LineEnding string
	Enter      string
	// MaxPages 单条命令最多翻页次数，0 表示不限
	MaxPages int
}

// WithDefaults 填充未设置的字段
func (o Options) WithDefaults() Options {
	if o.SleepTime <= 0 {
		o.SleepTime = DefaultSleepTime
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MoreCmd == "" {
		o.MoreCmd = DefaultMoreCmd
	}
	if o.LineEnding == "" {
		o.LineEnding = DefaultLineEnding
	}
	if o.Enter == "" {
		o.Enter = DefaultEnter
	}
	return o
}

// Result 单条命令的执行结果
type Result struct {
	Command   string        `json:"command"`
	Output    string        `json:"output"`
	TimedOut  bool          `json:"timed_out"`
	Truncated bool          `json:"truncated"`
	Skipped   bool          `json:"skipped"`
	Pages     int           `json:"pages"`
	Duration  time.Duration `json:"duration"`
}

type flusher interface {
	Flush() error
}

// Runner 发送命令并等待回显满足结束条件
type Runner struct {
	w       io.Writer
	buf     *Transcript
	matcher Matcher
	opts    Options
	closed  <-chan struct{}
}

// NewRunner closed 在读取协程退出时关闭，可为 nil
func NewRunner(w io.Writer, buf *Transcript, matcher Matcher, opts Options, closed <-chan struct{}) *Runner {
	return &Runner{w: w, buf: buf, matcher: matcher, opts: opts.WithDefaults(), closed: closed}
}

// Run 执行单条命令。超时不是错误：返回已收到的回显并标记 TimedOut。
// 只有写通道失败（ErrChannel）或 ctx 结束才返回 error。
func (r *Runner) Run(ctx context.Context, command string, extraEnter bool) (*Result, error) {
	return r.run(ctx, command, extraEnter, strings.TrimSpace(command))
}

// RunMasked 同 Run，日志中不出现命令及回显（用于密码类输入）
func (r *Runner) RunMasked(ctx context.Context, command string) (*Result, error) {
	return r.run(ctx, command, false, "")
}

func (r *Runner) run(ctx context.Context, command string, extraEnter bool, label string) (*Result, error) {
	res := &Result{Command: command}
	if strings.TrimSpace(command) == "" {
		res.Skipped = true
		return res, nil
	}
	start := time.Now()

	r.buf.ResetCurrent()
	if err := r.send(command + r.opts.LineEnding); err != nil {
		return res, err
	}
	if extraEnter {
		// 仅统计回车之后的输出
		r.buf.ResetCurrent()
		if err := r.send(r.opts.Enter); err != nil {
			return res, err
		}
	}

	err := r.wait(ctx, res)
	res.Output = r.buf.Current()
	res.Duration = time.Since(start)
	if label == "" {
		if res.TimedOut {
			logger.Warnf("%v after %s: <masked>", ErrCommandTimeout, r.opts.Timeout)
		}
		return res, err
	}
	if res.TimedOut {
		logger.Warnf("%v after %s: %q", ErrCommandTimeout, r.opts.Timeout, label)
	}
	logger.DebugCommandOutput(command, res.Output, 5)
	return res, err
}

func (r *Runner) wait(ctx context.Context, res *Result) error {
	deadline := time.NewTimer(r.opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.opts.SleepTime)
	defer ticker.Stop()

	closedCh := r.closed
	closed := false
	for {
		current := r.buf.Current()
		if r.finished(current) {
			return nil
		}
		if r.matcher.HasTerminators() && r.matcher.IsPaginating(current) {
			if r.opts.MaxPages > 0 && res.Pages >= r.opts.MaxPages {
				logger.Warnf("pagination limit %d reached", r.opts.MaxPages)
				res.Truncated = true
				return nil
			}
			// 先补换行再发送继续键，避免下一页回显先于换行到达
			r.buf.AppendCurrent("\n")
			if err := r.send(r.opts.MoreCmd); err != nil {
				return err
			}
			res.Pages++
			deadline.Reset(r.opts.Timeout)
			continue
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			res.TimedOut = true
			return nil
		case <-r.buf.Changed():
		case <-ticker.C:
		case <-closedCh:
			// 读取协程已退出，最后检查一次后返回
			closed = true
			closedCh = nil
		}
	}
}

func (r *Runner) finished(current string) bool {
	if !r.matcher.HasTerminators() {
		return current != ""
	}
	return r.matcher.IsComplete(current)
}

func (r *Runner) send(s string) error {
	if _, err := io.WriteString(r.w, s); err != nil {
		return fmt.Errorf("%w: write: %v", ErrChannel, err)
	}
	if f, ok := r.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: flush: %v", ErrChannel, err)
		}
	}
	return nil
}
