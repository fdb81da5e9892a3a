package echo

import (
	"fmt"
	"regexp"

	"github.com/sshcollectorpro/echoshell/internal/util"
)

// 部分设备回显中夹带的控制字符：退格擦除重写、ANSI 光标移动
var DefaultFilterPatterns = []string{
	`\x08+ +\x08+`,
	`(\x1b\[\d+[A-Z] *)+`,
}

// Filter 回显过滤器：先解码，再按声明顺序对每条规则各移除一次首个匹配
type Filter struct {
	rules  []*regexp.Regexp
	decode util.DecodeFunc
}

// NewFilter 编译过滤规则；decode 为空时使用默认编码
func NewFilter(patterns []string, decode util.DecodeFunc) (*Filter, error) {
	if decode == nil {
		d, err := util.NewDecoder(util.DefaultEncoding)
		if err != nil {
			return nil, err
		}
		decode = d
	}
	f := &Filter{decode: decode}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid echo filter %q: %w", p, err)
		}
		f.rules = append(f.rules, re)
	}
	return f, nil
}

// Clean 对已解码文本应用过滤规则
func (f *Filter) Clean(text string) string {
	for _, re := range f.rules {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		text = text[:loc[0]] + text[loc[1]:]
	}
	return text
}

// Process 解码并过滤一个原始片段。解码失败返回 ErrDecode
func (f *Filter) Process(raw []byte) (string, error) {
	text, err := f.decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return f.Clean(text), nil
}
