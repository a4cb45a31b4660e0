package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortTextIsUntouched(t *testing.T) {
	assert.Equal(t, []string{"hello"}, splitTelegramText("hello", 10, ""))
	assert.Equal(t, []string{""}, splitTelegramText("", 10, ""))
}

func TestSplitPrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(text, 10, "")
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
}

func TestSplitRespectsLimitInRunes(t *testing.T) {
	text := strings.Repeat("ё", 25)
	got := splitTelegramText(text, 10, "")
	require.Len(t, got, 3)
	for _, c := range got {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
	assert.Equal(t, text, strings.Join(got, ""))
}

func TestSplitAvoidsCuttingHTMLTags(t *testing.T) {
	text := "abcdefg<b>bold</b>"
	got := splitTelegramText(text, 9, "HTML")
	require.NotEmpty(t, got)
	assert.Equal(t, "abcdefg", got[0])
	for _, c := range got {
		assert.Equal(t, strings.Count(c, "<"), strings.Count(c, ">"), c)
	}
}
