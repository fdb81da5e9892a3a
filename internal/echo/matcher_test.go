package echo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTerminators(t *testing.T) {
	assert.Equal(t, []string{"#", "?", ">", ":"}, ParseTerminators(DefaultEndEcho))
	assert.Equal(t, []string{"#", "]"}, ParseTerminators("#,,]"))
	assert.Nil(t, ParseTerminators(""))
	assert.Nil(t, ParseTerminators("   "))
}

func TestMatcher_IsComplete(t *testing.T) {
	m := NewMatcher(DefaultEndEcho, DefaultMoreEcho)

	for _, text := range []string{"host#", "<H3C>", "Password:", "Continue? ", "line\nhost#  \r\n"} {
		assert.True(t, m.IsComplete(text), "%q 应判定为结束", text)
	}
	for _, text := range []string{"", "loading", "host#\nstill running", "---- More ----"} {
		assert.False(t, m.IsComplete(text), "%q 不应判定为结束", text)
	}
}

func TestMatcher_NoTerminators(t *testing.T) {
	m := NewMatcher("", DefaultMoreEcho)
	assert.False(t, m.HasTerminators())
	assert.False(t, m.IsComplete("host#"))
}

func TestMatcher_IsPaginating(t *testing.T) {
	m := NewMatcher(DefaultEndEcho, DefaultMoreEcho)

	assert.True(t, m.IsPaginating("page1\n---- More ----"))
	assert.True(t, m.IsPaginating("  ---- More ----"))
	assert.False(t, m.IsPaginating("---- More ----\npage2"))
	assert.False(t, m.IsPaginating("page1\n---- More ----\n"), "补换行后末行为空，不应重复翻页")

	assert.False(t, Matcher{}.IsPaginating("---- More ----"), "未配置分页标记")
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "c", LastLine("a\nb\nc"))
	assert.Equal(t, "", LastLine("a\n"))
	assert.Equal(t, "abc", LastLine("abc"))
}
