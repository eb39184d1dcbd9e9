package encoder

import (
	"strings"
	"unicode/utf8"
)

// SplitLines 按换行拆分文本，兼容 \r\n
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

// WrapLines 将文本按行拆分后再按字符数折行。
// 单词超过宽度时强制切断；空行保留为空字符串。
func WrapLines(text string, width int) []string {
	return WrapLinesFunc(text, width, nil)
}

// WrapLinesFunc 与 WrapLines 相同，另外要求每行满足 fits（通常是排版宽度）。
// fits 为 nil 时只按字符数折行。
func WrapLinesFunc(text string, width int, fits func(string) bool) []string {
	if width <= 0 && fits == nil {
		return SplitLines(text)
	}

	ok := func(s string, n int) bool {
		if width > 0 && n > width {
			return false
		}
		return fits == nil || fits(s)
	}

	var out []string
	for _, line := range SplitLines(text) {
		out = append(out, wrapLine(strings.ReplaceAll(line, "\t", "    "), ok)...)
	}
	return out
}

func wrapLine(line string, ok func(s string, n int) bool) []string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return []string{""}
	}

	var (
		lines   []string
		current string
		curLen  int
	)
	flush := func() {
		lines = append(lines, current)
		current = ""
		curLen = 0
	}

	for _, word := range words {
		wordLen := utf8.RuneCountInString(word)

		for wordLen > 0 && !ok(word, wordLen) {
			if curLen > 0 {
				flush()
			}
			runes := []rune(word)
			cut := longestPrefix(runes, ok)
			lines = append(lines, string(runes[:cut]))
			word = string(runes[cut:])
			wordLen -= cut
		}
		if wordLen == 0 {
			continue
		}

		switch {
		case curLen == 0:
			current, curLen = word, wordLen
		case ok(current+" "+word, curLen+1+wordLen):
			current += " " + word
			curLen += 1 + wordLen
		default:
			flush()
			current, curLen = word, wordLen
		}
	}
	if curLen > 0 {
		flush()
	}
	return lines
}

// longestPrefix 满足 ok 的最长前缀长度，至少为1以保证前进
func longestPrefix(runes []rune, ok func(s string, n int) bool) int {
	cut := 1
	for n := 2; n <= len(runes); n++ {
		if !ok(string(runes[:n]), n) {
			break
		}
		cut = n
	}
	return cut
}
