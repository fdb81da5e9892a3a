package echo

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice 通过两对管道模拟远端 shell：respond 根据收到的输入给出若干回显片段
type fakeDevice struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	mu       sync.Mutex
	received []string
}

func newFakeDevice(t *testing.T, respond func(input string) [][]byte) *fakeDevice {
	t.Helper()
	d := &fakeDevice{}
	d.inR, d.inW = io.Pipe()
	d.outR, d.outW = io.Pipe()
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := d.inR.Read(buf)
			if err != nil {
				return
			}
			input := string(buf[:n])
			d.mu.Lock()
			d.received = append(d.received, input)
			d.mu.Unlock()
			for _, chunk := range respond(input) {
				if _, err := d.outW.Write(chunk); err != nil {
					return
				}
			}
		}
	}()
	t.Cleanup(d.close)
	return d
}

func (d *fakeDevice) inputs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

func (d *fakeDevice) close() {
	_ = d.inW.Close()
	_ = d.outW.Close()
}

type harness struct {
	dev    *fakeDevice
	buf    *Transcript
	reader *Reader
	runner *Runner
}

func newHarness(t *testing.T, endEcho string, opts Options, respond func(string) [][]byte) *harness {
	t.Helper()
	dev := newFakeDevice(t, respond)
	buf := NewTranscript()
	m := NewMatcher(endEcho, DefaultMoreEcho)
	f := newUTF8Filter(t)
	rd := NewReader(dev.outR, f, m, buf)
	rd.Start()
	return &harness{
		dev:    dev,
		buf:    buf,
		reader: rd,
		runner: NewRunner(dev.inW, buf, m, opts, rd.Done()),
	}
}

func chunks(s ...string) [][]byte {
	out := make([][]byte, 0, len(s))
	for _, c := range s {
		out = append(out, []byte(c))
	}
	return out
}

var fastOpts = Options{SleepTime: 20 * time.Millisecond, Timeout: 400 * time.Millisecond}

func TestRunner_PromptEndsCommand(t *testing.T) {
	h := newHarness(t, "#", fastOpts, func(in string) [][]byte {
		return chunks("result line\nhost#")
	})

	start := time.Now()
	res, err := h.runner.Run(context.Background(), "show", false)
	require.NoError(t, err)

	assert.Equal(t, "result line\nhost#", res.Output)
	assert.False(t, res.TimedOut)
	assert.Less(t, time.Since(start), fastOpts.Timeout, "匹配提示符后应立即返回")
	assert.Equal(t, []string{"show\n"}, h.dev.inputs())
}

func TestRunner_EmptyTerminatorsAnyOutput(t *testing.T) {
	h := newHarness(t, "", fastOpts, func(in string) [][]byte {
		return chunks("x")
	})

	start := time.Now()
	res, err := h.runner.Run(context.Background(), "anything", false)
	require.NoError(t, err)

	assert.Equal(t, "x", res.Output)
	assert.False(t, res.TimedOut)
	assert.Less(t, time.Since(start), fastOpts.Timeout)
}

func TestRunner_Pagination(t *testing.T) {
	h := newHarness(t, "#", fastOpts, func(in string) [][]byte {
		switch in {
		case "show\n":
			return chunks("page1\n---- More ----")
		case " ":
			return chunks("page2\nhost#")
		}
		return nil
	})

	res, err := h.runner.Run(context.Background(), "show", false)
	require.NoError(t, err)

	assert.Equal(t, "page1\n---- More ----\npage2\nhost#", res.Output)
	assert.Equal(t, 1, res.Pages)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "page1\npage2\nhost#", h.buf.Total(), "分页提示行不计入 total")
	assert.Equal(t, []string{"show\n", " "}, h.dev.inputs(), "每个分页提示只发送一次继续键")
}

func TestRunner_MultiplePagesOneKeyEach(t *testing.T) {
	pages := 0
	h := newHarness(t, "#", fastOpts, func(in string) [][]byte {
		if in == "show\n" || in == " " {
			pages++
			if pages <= 3 {
				return chunks("line\n  ---- More ----")
			}
			return chunks("\x1b[16D                \x1b[16Dlast\nhost#")
		}
		return nil
	})

	res, err := h.runner.Run(context.Background(), "show", false)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, []string{"show\n", " ", " ", " "}, h.dev.inputs())
	assert.Equal(t, "line\nline\nline\nlast\nhost#", h.buf.Total())
}

func TestRunner_PaginationExtendsTimeout(t *testing.T) {
	opts := Options{SleepTime: 20 * time.Millisecond, Timeout: 150 * time.Millisecond}
	h := newHarness(t, "#", opts, func(in string) [][]byte {
		// 每页都比单次窗口的一半更慢，总耗时超过一个窗口
		time.Sleep(100 * time.Millisecond)
		if in == "show\n" {
			return chunks("p1\n---- More ----")
		}
		if in == " " {
			return chunks("p2\nhost#")
		}
		return nil
	})

	res, err := h.runner.Run(context.Background(), "show", false)
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Greater(t, res.Duration, opts.Timeout)
}

func TestRunner_MaxPages(t *testing.T) {
	opts := fastOpts
	opts.MaxPages = 2
	h := newHarness(t, "#", opts, func(in string) [][]byte {
		return chunks("more\n---- More ----")
	})

	res, err := h.runner.Run(context.Background(), "show", false)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, []string{"show\n", " ", " "}, h.dev.inputs())
}

func TestRunner_TimeoutWithoutOutput(t *testing.T) {
	h := newHarness(t, "#", fastOpts, func(in string) [][]byte { return nil })

	start := time.Now()
	res, err := h.runner.Run(context.Background(), "silent", false)
	elapsed := time.Since(start)
	require.NoError(t, err, "单条命令超时不是错误")

	assert.Equal(t, "", res.Output)
	assert.True(t, res.TimedOut)
	assert.GreaterOrEqual(t, elapsed, fastOpts.Timeout)
	assert.Less(t, elapsed, fastOpts.Timeout+fastOpts.SleepTime+100*time.Millisecond)
}

func TestRunner_ExtraEnterDiscardsEcho(t *testing.T) {
	h := newHarness(t, "#", fastOpts, func(in string) [][]byte {
		if in == "\r" {
			return chunks("confirmed\nhost#")
		}
		return nil
	})

	res, err := h.runner.Run(context.Background(), "reboot", true)
	require.NoError(t, err)
	assert.Equal(t, "confirmed\nhost#", res.Output)
	assert.Equal(t, []string{"reboot\n", "\r"}, h.dev.inputs())
}

func TestRunner_BlankCommandSkipped(t *testing.T) {
	h := newHarness(t, "#", fastOpts, func(in string) [][]byte { return chunks("host#") })

	res, err := h.runner.Run(context.Background(), "  \t", false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, h.dev.inputs(), "空白命令不发送")
}

func TestRunner_ReaderClosedStopsWaiting(t *testing.T) {
	var h *harness
	h = newHarness(t, "#", Options{SleepTime: 20 * time.Millisecond, Timeout: 2 * time.Second}, func(in string) [][]byte {
		_, _ = h.dev.outW.Write([]byte("bye\n"))
		_ = h.dev.outW.Close()
		return nil
	})

	start := time.Now()
	res, err := h.runner.Run(context.Background(), "quit", false)
	require.NoError(t, err)
	assert.Equal(t, "bye\n", res.Output)
	assert.False(t, res.TimedOut)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunner_ContextCancelled(t *testing.T) {
	h := newHarness(t, "#", Options{SleepTime: 20 * time.Millisecond, Timeout: 5 * time.Second}, func(in string) [][]byte { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.runner.Run(ctx, "show", false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestRunner_WriteFailure(t *testing.T) {
	r := NewRunner(failingWriter{}, NewTranscript(), NewMatcher("#", DefaultMoreEcho), fastOpts, nil)
	_, err := r.Run(context.Background(), "show", false)
	assert.ErrorIs(t, err, ErrChannel)
}

func TestRunner_RunMasked(t *testing.T) {
	h := newHarness(t, "#", fastOpts, func(in string) [][]byte {
		return chunks("\nhost#")
	})

	res, err := h.runner.RunMasked(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "\nhost#", res.Output)
	assert.Equal(t, []string{"s3cret\n"}, h.dev.inputs(), "与 Run 相同的发送行为")
}
