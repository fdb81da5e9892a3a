package echo

import "strings"

const (
	DefaultEndEcho  = "#,?,>,:"
	DefaultMoreEcho = "---- More ----"
	DefaultMoreCmd  = " "
)

// Matcher 判断命令是否结束（提示符后缀）以及是否停在分页提示
type Matcher struct {
	Terminators []string
	Marker      string
}

// NewMatcher 由逗号分隔的结束符与分页标记构造
func NewMatcher(endEcho, moreEcho string) Matcher {
	return Matcher{Terminators: ParseTerminators(endEcho), Marker: moreEcho}
}

// ParseTerminators 拆分逗号分隔的结束符，忽略空项
func ParseTerminators(endEcho string) []string {
	if strings.TrimSpace(endEcho) == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(endEcho, ",") {
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// HasTerminators 结束符集合为空时改用"收到任何输出即完成"
func (m Matcher) HasTerminators() bool {
	return len(m.Terminators) > 0
}

// IsComplete 去除首尾空白后以任一结束符结尾
func (m Matcher) IsComplete(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, t := range m.Terminators {
		if strings.HasSuffix(trimmed, t) {
			return true
		}
	}
	return false
}

// IsPaginating 最后一行包含分页标记
func (m Matcher) IsPaginating(text string) bool {
	if m.Marker == "" {
		return false
	}
	return strings.Contains(LastLine(text), m.Marker)
}

// LastLine 返回最后一个换行符之后的内容
func LastLine(text string) string {
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return text[i+1:]
	}
	return text
}
