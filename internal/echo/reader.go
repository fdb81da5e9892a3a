package echo

import (
	"errors"
	"io"
	"strings"

	"github.com/sshcollectorpro/echoshell/pkg/logger"
)

// ChunkSize 单次读取的最大字节数
const ChunkSize = 1024

// Reader 持续读取通道输出，经过滤后写入 Transcript。
// 它只负责喂数据，命令是否结束由 Runner 判断。
type Reader struct {
	src     io.Reader
	filter  *Filter
	matcher Matcher
	buf     *Transcript
	done    chan struct{}
	err     error
}

func NewReader(src io.Reader, filter *Filter, matcher Matcher, buf *Transcript) *Reader {
	return &Reader{
		src:     src,
		filter:  filter,
		matcher: matcher,
		buf:     buf,
		done:    make(chan struct{}),
	}
}

// Start 在独立协程中运行读取循环
func (r *Reader) Start() {
	go r.Run()
}

// Run 阻塞读取直至通道关闭（读到 0 字节或读错误）
func (r *Reader) Run() {
	defer close(r.done)
	chunk := make([]byte, ChunkSize)
	for {
		n, err := r.src.Read(chunk)
		if n > 0 {
			r.consume(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = err
				logger.Debugf("echo reader stopped: %v", err)
			}
			return
		}
		if n <= 0 {
			return
		}
	}
}

func (r *Reader) consume(raw []byte) {
	echo, err := r.filter.Process(raw)
	if err != nil {
		logger.Warnf("drop echo chunk (%d bytes): %v", len(raw), err)
		return
	}
	if echo == "" {
		return
	}
	r.buf.Append(echo, r.transcriptPart(echo))
}

// transcriptPart 末行为分页提示时，写入 total 的内容去掉该行
func (r *Reader) transcriptPart(echo string) string {
	if !r.matcher.IsPaginating(echo) {
		return echo
	}
	return strings.TrimSuffix(echo, LastLine(echo))
}

// Done 读取协程退出后关闭
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Err 非 EOF 的读错误；仅在 Done 关闭后有效
func (r *Reader) Err() error {
	<-r.done
	return r.err
}
