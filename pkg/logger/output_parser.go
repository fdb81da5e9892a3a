package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// EchoLines 单条命令回显的首尾行摘要
type EchoLines struct {
	HeadLines []string `json:"head_lines"`
	TailLines []string `json:"tail_lines"`
}

// ParseEchoLines 提取回显的前 maxLines 行与后 maxLines 行
func ParseEchoLines(echo string, maxLines int) EchoLines {
	if maxLines <= 0 {
		maxLines = 5
	}

	echo = strings.ReplaceAll(echo, "\r\n", "\n")
	echo = strings.ReplaceAll(echo, "\r", "\n")
	echo = strings.TrimRight(echo, "\n")
	if echo == "" {
		return EchoLines{}
	}
	lines := strings.Split(echo, "\n")

	head := lines
	if len(head) > maxLines {
		head = lines[:maxLines]
	}
	tail := lines
	if len(tail) > maxLines {
		tail = lines[len(lines)-maxLines:]
	}

	return EchoLines{
		HeadLines: append([]string(nil), head...),
		TailLines: append([]string(nil), tail...),
	}
}

// FormatEchoLines 格式化为单行日志文本；首尾相同只输出一次
func FormatEchoLines(lines EchoLines) string {
	var parts []string
	if len(lines.HeadLines) > 0 {
		parts = append(parts, "head-lines: ["+strings.Join(lines.HeadLines, " ⟩ ")+"]")
	}
	if len(lines.TailLines) > 0 && !sameLines(lines.HeadLines, lines.TailLines) {
		parts = append(parts, "tail-lines: ["+strings.Join(lines.TailLines, " ⟩ ")+"]")
	}
	return strings.Join(parts, ", ")
}

func sameLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DebugCommandOutput 在 debug 级别记录命令回显的首尾行
func DebugCommandOutput(command string, echo string, maxLines int) {
	if !GetLogger().IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	lines := ParseEchoLines(echo, maxLines)
	if len(lines.HeadLines) == 0 {
		return
	}
	Debugf("Command echo [%s]: %s", strings.TrimSpace(command), FormatEchoLines(lines))
}
